// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package activation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/exthost/pkg/errutil"
)

func counter(n *atomic.Int32) Listener {
	return func(_ context.Context, _ Record) error {
		n.Add(1)
		return nil
	}
}

func TestRecord_Key(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"topic only", NewRecord("*"), "*"},
		{"topic and data", NewRecord("onLanguage", "json"), "onLanguage:json"},
		{"empty data is still data", NewRecord("onCommand", ""), "onCommand:"},
		{"parsed key", ParseKey("onCommand:foo.bar"), "onCommand:foo.bar"},
		{"parsed topic", ParseKey("onStartupFinished"), "onStartupFinished"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Key())
		})
	}
}

func TestRecord_IsStartup(t *testing.T) {
	assert.True(t, NewRecord(TopicEager).IsStartup())
	assert.True(t, NewRecord(TopicStartupFinished).IsStartup())
	assert.False(t, NewRecord(TopicLanguage, "go").IsStartup())
}

func TestBus_FireEventRunsListeners(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var got []Record
	var mu sync.Mutex
	_, err := bus.Subscribe(ctx, "onLanguage:json", func(_ context.Context, rec Record) error {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.FireEvent(ctx, "onLanguage", "json"))
	require.NoError(t, bus.FireEvent(ctx, "onLanguage", "go"))

	require.Len(t, got, 1)
	assert.Equal(t, "json", got[0].Data)
}

func TestBus_FiredSetIsDeduplicated(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	require.NoError(t, bus.FireEvent(ctx, "*"))
	require.NoError(t, bus.FireEvent(ctx, "onLanguage", "json"))
	require.NoError(t, bus.FireEvent(ctx, "*"))
	require.NoError(t, bus.FireEvent(ctx, "onLanguage", "json"))

	records := bus.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "*", records[0].Key())
	assert.Equal(t, "onLanguage:json", records[1].Key())
	assert.True(t, bus.Has("onLanguage:json"))
	assert.False(t, bus.Has("onLanguage:go"))
}

// A listener subscribed before the first fire runs once in total. A listener
// subscribed between two fires of the same record receives the first through
// replay, synchronously inside Subscribe, and the second as a live fire.
func TestBus_ReplayIsSeparateFromLiveDelivery(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var early, late atomic.Int32
	_, err := bus.Subscribe(ctx, "onCommand:foo.bar", counter(&early))
	require.NoError(t, err)

	require.NoError(t, bus.FireEvent(ctx, "onCommand", "foo.bar"))
	assert.Equal(t, int32(1), early.Load())

	_, err = bus.Subscribe(ctx, "onCommand:foo.bar", counter(&late))
	require.NoError(t, err)
	assert.Equal(t, int32(1), late.Load(), "replay must happen before Subscribe returns")

	require.NoError(t, bus.FireEvent(ctx, "onCommand", "foo.bar"))

	assert.Equal(t, int32(1), early.Load())
	assert.Equal(t, int32(2), late.Load())

	require.NoError(t, bus.FireEvent(ctx, "onCommand", "foo.bar"))
	assert.Equal(t, int32(1), early.Load())
	assert.Equal(t, int32(2), late.Load(), "live delivery stays at most once")
}

func TestBus_ListenerPanicBecomesError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var ok atomic.Int32
	_, err := bus.Subscribe(ctx, "*", func(context.Context, Record) error { panic("bad extension") })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "*", counter(&ok))
	require.NoError(t, err)

	require.NotPanics(t, func() { err = bus.FireEvent(ctx, "*") })
	errutil.AssertErrorCode(t, err, CodeListenerPanic)
	assert.Equal(t, int32(1), ok.Load())

	_, err = bus.Subscribe(ctx, "*", func(context.Context, Record) error { panic("late") })
	errutil.AssertErrorCode(t, err, CodeListenerPanic)
}

func TestBus_SubscribeWithoutReplay(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	require.NoError(t, bus.FireEvent(ctx, "onLanguage", "json"))

	var n atomic.Int32
	_, err := bus.Subscribe(ctx, "onLanguage:json", counter(&n), WithoutReplay())
	require.NoError(t, err)
	assert.Equal(t, int32(0), n.Load())

	require.NoError(t, bus.FireEvent(ctx, "onLanguage", "json"))
	assert.Equal(t, int32(1), n.Load())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var n atomic.Int32
	unsubscribe, err := bus.Subscribe(ctx, "*", counter(&n))
	require.NoError(t, err)
	unsubscribe()

	require.NoError(t, bus.FireEvent(ctx, "*"))
	assert.Equal(t, int32(0), n.Load())
}

func TestBus_ListenerErrorsAreJoinedAndIsolated(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	boom := errors.New("boom")

	var ok atomic.Int32
	_, err := bus.Subscribe(ctx, "*", func(context.Context, Record) error { return boom })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "*", counter(&ok))
	require.NoError(t, err)

	err = bus.FireEvent(ctx, "*")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), ok.Load(), "sibling listener must still run")
}

func TestBus_FireWaitsForAllListeners(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	ctx := context.Background()

	var finished atomic.Int32
	for range 5 {
		_, err := bus.Subscribe(ctx, "*", func(context.Context, Record) error {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.FireEvent(ctx, "*"))
	assert.Equal(t, int32(5), finished.Load())
}

func TestBus_NewGenerationKeepsLogDropsListeners(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var old atomic.Int32
	unsubscribe, err := bus.Subscribe(ctx, "*", counter(&old))
	require.NoError(t, err)
	require.NoError(t, bus.FireEvent(ctx, "*"))

	bus.NewGeneration()
	assert.Equal(t, uint64(1), bus.Generation())

	// A stale unsubscribe from the previous generation must not touch new subscriptions.
	var fresh atomic.Int32
	_, err = bus.Subscribe(ctx, "*", counter(&fresh), WithoutReplay())
	require.NoError(t, err)
	unsubscribe()

	require.NoError(t, bus.FireEvent(ctx, "*"))
	assert.Equal(t, int32(1), old.Load())
	assert.Equal(t, int32(1), fresh.Load())
	assert.Len(t, bus.Records(), 1)
}

func TestBus_ObserverSeesEveryFire(t *testing.T) {
	var seen []string
	bus := NewBus(WithObserver(func(_ context.Context, rec Record) {
		seen = append(seen, rec.Key())
	}))
	ctx := context.Background()

	require.NoError(t, bus.FireEvent(ctx, "*"))
	require.NoError(t, bus.FireEvent(ctx, "*"))
	assert.Equal(t, []string{"*", "*"}, seen)
}

func TestBus_ConcurrentFireDeliversOnce(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var n atomic.Int32
	_, err := bus.Subscribe(ctx, "onLanguage:go", counter(&n))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.FireEvent(ctx, "onLanguage", "go")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), n.Load())
}

func TestRecordActivationEvent(t *testing.T) {
	before := testutil.ToFloat64(EventsFired.WithLabelValues("onMetricsTest"))
	require.NoError(t, NewBus().FireEvent(context.Background(), "onMetricsTest"))
	after := testutil.ToFloat64(EventsFired.WithLabelValues("onMetricsTest"))
	assert.Equal(t, before+1, after)
}
