// Package gatewaytest records published catalog events for state machine tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/imrishuroy/go-orderflow-realtime/internal/catalog"
)

type Recorder struct {
	mu     sync.Mutex
	events []catalog.Payload
}

func (r *Recorder) Publish(ctx context.Context, p catalog.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

// Names returns the canonical names in publish order.
func (r *Recorder) Names() []catalog.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]catalog.Name, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name()
	}
	return out
}

func (r *Recorder) Events() []catalog.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]catalog.Payload(nil), r.events...)
}

// Last returns the most recent event with name, or nil.
func (r *Recorder) Last(name catalog.Name) catalog.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name() == name {
			return r.events[i]
		}
	}
	return nil
}

func (r *Recorder) Count(name catalog.Name) int {
	n := 0
	for _, got := range r.Names() {
		if got == name {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
