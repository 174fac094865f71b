// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Handler reacts to a broadcast.
type Handler func(ctx context.Context, ev Event) error

type handlerEntry struct {
	id uint64
	fn Handler
}

// Bus distributes broadcasts to handlers and channel subscribers.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Topic][]handlerEntry
	subs     map[Topic][]chan Event
	inflight sync.WaitGroup
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[Topic][]handlerEntry),
		subs:     make(map[Topic][]chan Event),
	}
}

// On registers fn for topic. The returned func removes it.
func (b *Bus) On(topic Topic, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[topic]
		for i, h := range hs {
			if h.id == id {
				b.handlers[topic] = append(hs[:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Subscribe creates a channel for receiving events on a topic.
func (b *Bus) Subscribe(topic Topic) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Unsubscribe removes a channel from a topic.
func (b *Bus) Unsubscribe(topic Topic, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, sub := range subs {
		if sub == ch {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish broadcasts without waiting for handlers. Handler errors are logged.
func (b *Bus) Publish(ctx context.Context, topic Topic, subject string) Event {
	ev := NewEvent(topic, subject)
	handlers := b.snapshot(ev)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		_ = b.run(context.WithoutCancel(ctx), ev, handlers)
	}()
	return ev
}

// PublishAndWait broadcasts and returns once every handler has finished.
// Handlers run concurrently; their errors are joined.
func (b *Bus) PublishAndWait(ctx context.Context, topic Topic, subject string) error {
	ev := NewEvent(topic, subject)
	return b.run(ctx, ev, b.snapshot(ev))
}

// Wait blocks until all asynchronous Publish calls have finished.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// snapshot delivers ev to channel subscribers and returns the handlers to run.
func (b *Bus) snapshot(ev Event) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
			slog.Warn("event dropped: subscriber buffer full",
				"topic", string(ev.Topic),
				"event_id", ev.ID.String(),
			)
		}
	}

	entries := b.handlers[ev.Topic]
	out := make([]Handler, 0, len(entries))
	for _, h := range entries {
		out = append(out, h.fn)
	}
	return out
}

func (b *Bus) run(ctx context.Context, ev Event, handlers []Handler) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h(ctx, ev); err != nil {
				slog.WarnContext(ctx, "broadcast handler failed",
					"topic", string(ev.Topic),
					"subject", ev.Subject,
					"event_id", ev.ID.String(),
					"error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
