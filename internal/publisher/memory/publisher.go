// Package memory contains an in-memory job event publisher.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// Publisher stores published payloads for inspection. It is the default when
// no Pub/Sub topic is configured.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the recorded job events in publish order.
func (p *Publisher) Events() []scrape.JobEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]scrape.JobEvent, 0, len(p.messages))
	for _, msg := range p.messages {
		if event, ok := msg.Payload.(scrape.JobEvent); ok {
			out = append(out, event)
		}
	}
	return out
}
