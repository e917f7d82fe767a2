// Package publisher holds scrape.Publisher backends used to fan job lifecycle
// events out to downstream consumers: memory for tests and single-process
// runs, pubsub for Google Cloud Pub/Sub.
package publisher
