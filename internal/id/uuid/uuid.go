// Package uuid provides random IDs for derived child jobs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a random UUIDv4 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}
