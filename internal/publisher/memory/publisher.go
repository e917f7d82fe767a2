// Package memory records published job events in process.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Message is one recorded publish. Data is the JSON the payload encoded to.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

var _ scrape.Publisher = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and records it under a sequential id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events decodes the job events published to topic.
func (p *Publisher) Events(topic string) ([]scrape.JobEvent, error) {
	var out []scrape.JobEvent
	for _, msg := range p.Messages() {
		if msg.Topic != topic {
			continue
		}
		var ev scrape.JobEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
