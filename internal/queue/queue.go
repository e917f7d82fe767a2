// Package queue holds the job queue backends. Implementations satisfy scrape.Queue.
package queue

import "errors"

// ErrClosed is returned by Dequeue after the queue shuts down.
var ErrClosed = errors.New("queue closed")
