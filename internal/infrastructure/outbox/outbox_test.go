package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/minishop-reservation/internal/domain/outbox"
)

type testEvent struct{ n int }

func (testEvent) EventName() string { return "test.event" }

func TestBusDeliversToEverySubscriber(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var mu sync.Mutex
	got := map[string][]int{}
	for _, name := range []string{"a", "b"} {
		bus.Subscribe("test.event", func(_ context.Context, e domoutbox.Event) error {
			mu.Lock()
			got[name] = append(got[name], e.(testEvent).n)
			mu.Unlock()
			return nil
		})
	}
	bus.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, testEvent{n: 1}))
	require.NoError(t, bus.Publish(ctx, testEvent{n: 2}))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	bus.Stop(stopCtx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, got["a"])
	assert.Equal(t, []int{1, 2}, got["b"])
}

func TestBusRejectsPublishAfterStop(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	bus.Start(context.Background())
	bus.Stop(context.Background())

	assert.ErrorIs(t, bus.Publish(context.Background(), testEvent{}), ErrBusStopped)
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	delivered := make(chan struct{}, 1)
	bus.Subscribe("test.event", func(context.Context, domoutbox.Event) error { panic("boom") })
	bus.Subscribe("test.event", func(context.Context, domoutbox.Event) error {
		delivered <- struct{}{}
		return nil
	})
	bus.Start(context.Background())
	require.NoError(t, bus.Publish(context.Background(), testEvent{}))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("healthy handler was not called")
	}
	bus.Stop(context.Background())
}

func TestBusCarriesPublisherSpan(t *testing.T) {
	t.Parallel()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	seen := make(chan trace.SpanContext, 1)

	bus := NewBus(nil)
	bus.Subscribe("test.event", func(ctx context.Context, _ domoutbox.Event) error {
		seen <- trace.SpanContextFromContext(ctx)
		return nil
	})
	bus.Start(context.Background())
	require.NoError(t, bus.Publish(trace.ContextWithSpanContext(context.Background(), sc), testEvent{}))

	select {
	case got := <-seen:
		assert.Equal(t, sc.TraceID(), got.TraceID())
		assert.True(t, got.IsRemote())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	bus.Stop(context.Background())
}
