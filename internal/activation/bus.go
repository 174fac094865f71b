// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package activation tracks fired activation events and delivers them to
// extension listeners, including listeners that subscribe after the fact.
package activation

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/samber/oops"
)

// CodeListenerPanic is the error code for a listener that panicked.
const CodeListenerPanic = "LISTENER_PANIC"

// Listener handles one activation record.
type Listener func(ctx context.Context, rec Record) error

// Observer is notified after every FireEvent, whether or not any listener ran.
type Observer func(ctx context.Context, rec Record)

type subscription struct {
	id       uint64
	key      string
	owner    string
	listener Listener
	// live marks records delivered by FireEvent. Replay at subscribe time
	// is not counted.
	live map[string]struct{}
}

// Bus records fired activation events and dispatches them to listeners.
//
// A listener runs at most once per record key per generation from live
// fires. A record that fired before the listener subscribed is replayed to
// it once more, separately. The fired log is append-only and survives
// NewGeneration.
type Bus struct {
	mu         sync.Mutex
	nextID     uint64
	generation uint64
	subs       map[string][]*subscription
	log        []Record
	fired      map[string]struct{}
	observer   Observer
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithObserver sets a callback run after every fire.
func WithObserver(o Observer) BusOption {
	return func(b *Bus) {
		b.observer = o
	}
}

// NewBus creates an empty activation bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:  make(map[string][]*subscription),
		fired: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscribeOptions struct {
	noReplay bool
	owner    string
}

// SubscribeOption configures Subscribe.
type SubscribeOption func(*subscribeOptions)

// WithoutReplay skips replay of historical records at subscribe time. Use it
// when the caller replays records itself.
func WithoutReplay() SubscribeOption {
	return func(o *subscribeOptions) {
		o.noReplay = true
	}
}

// WithOwner tags the subscription, for logging.
func WithOwner(owner string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.owner = owner
	}
}

// Subscribe registers listener for key ("topic" or "topic:data"). Unless
// WithoutReplay is given, a matching record that already fired is delivered
// before Subscribe returns. The returned func removes the subscription.
func (b *Bus) Subscribe(ctx context.Context, key string, listener Listener, opts ...SubscribeOption) (func(), error) {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{
		id:       b.nextID,
		key:      key,
		owner:    o.owner,
		listener: listener,
		live:     make(map[string]struct{}),
	}
	b.subs[key] = append(b.subs[key], sub)
	generation := b.generation

	_, fired := b.fired[key]
	b.mu.Unlock()

	unsubscribe := func() { b.remove(generation, key, sub.id) }

	if o.noReplay || !fired {
		return unsubscribe, nil
	}

	slog.DebugContext(ctx, "replaying activation event to late subscriber",
		"event", key,
		"owner", o.owner)
	return unsubscribe, b.invoke(ctx, ParseKey(key), sub)
}

func (b *Bus) remove(generation uint64, key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}
	subs := b.subs[key]
	for i, s := range subs {
		if s.id == id {
			b.subs[key] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// FireEvent records the event and runs every subscribed listener that has
// not yet received a live fire of it in this generation. Listeners run concurrently;
// FireEvent returns once all of them have finished. Listener errors are
// logged and returned joined.
func (b *Bus) FireEvent(ctx context.Context, topic string, data ...string) error {
	rec := NewRecord(topic, data...)
	key := rec.Key()

	b.mu.Lock()
	if _, ok := b.fired[key]; !ok {
		b.fired[key] = struct{}{}
		b.log = append(b.log, rec)
	}
	var pending []*subscription
	for _, sub := range b.subs[key] {
		if _, done := sub.live[key]; done {
			continue
		}
		sub.live[key] = struct{}{}
		pending = append(pending, sub)
	}
	b.mu.Unlock()

	RecordActivationEvent(topic)

	err := b.run(ctx, rec, pending)
	if b.observer != nil {
		b.observer(ctx, rec)
	}
	return err
}

func (b *Bus) run(ctx context.Context, rec Record, subs []*subscription) error {
	if len(subs) == 0 {
		return nil
	}
	if len(subs) == 1 {
		return b.invoke(ctx, rec, subs[0])
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.invoke(ctx, rec, sub); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, rec Record, sub *subscription) error {
	if err := callListener(ctx, rec, sub.listener); err != nil {
		slog.WarnContext(ctx, "activation listener failed",
			"event", rec.Key(),
			"owner", sub.owner,
			"error", err)
		return err
	}
	return nil
}

// callListener runs l and reports a panic as an error.
func callListener(ctx context.Context, rec Record, l Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code(CodeListenerPanic).
				With("event", rec.Key()).
				With("stack", string(debug.Stack())).
				Errorf("activation listener panicked: %v", r)
		}
	}()
	return l(ctx, rec)
}

// Records returns the fired log in insertion order.
func (b *Bus) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Record, len(b.log))
	copy(out, b.log)
	return out
}

// Has reports whether the event with key has fired.
func (b *Bus) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.fired[key]
	return ok
}

// NewGeneration drops all subscriptions and their delivery marks. The fired
// log is kept so it can be replayed to the next generation's listeners.
func (b *Bus) NewGeneration() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	b.subs = make(map[string][]*subscription)
}

// Generation returns the current generation number.
func (b *Bus) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
