// Package memory records evaluation events in-process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

type attributer interface {
	Attributes() map[string]string
}

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// Publisher keeps every published payload in order.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	err      error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. A nil err restores normal
// behaviour.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Publish records the payload with its routing attributes and returns a
// sequential message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.err)
	}
	attrs := map[string]string{"topic": topic}
	if a, ok := payload.(attributer); ok {
		for k, v := range a.Attributes() {
			attrs[k] = v
		}
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload, Attributes: attrs})
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

// Topic returns the payloads published to topic, oldest first.
func (p *Publisher) Topic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// Events returns the evaluation events published to topic, oldest first.
func (p *Publisher) Events(topic string) []papers.EvaluationEvent {
	var out []papers.EvaluationEvent
	for _, payload := range p.Topic(topic) {
		if ev, ok := payload.(papers.EvaluationEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}
