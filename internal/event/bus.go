// Package event is the in-process lifecycle event bus. Delivery transports
// (webhooks, broker forwarding) subscribe to it; the transaction service only
// ever talks to the bus.
package event

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type Event struct {
	Name     string
	TenantID string
	Data     any
}

type Handler func(ctx context.Context, ev Event)

type Bus struct {
	mu   sync.RWMutex
	subs []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish hands the event to every subscriber in its own goroutine. The
// derived context keeps request values but drops cancellation: events fire
// after the state change is committed and must not be cut short by the
// caller going away.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := make([]Handler, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	for _, h := range subs {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("event", ev.Name).Msg("event subscriber panicked")
				}
			}()
			h(detached, ev)
		}()
	}
}
