package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	bus := NewBus()

	got := make(chan map[string]any, 1)
	bus.Subscribe("user.created", "notify-fn", func(ctx context.Context, event string, data map[string]any) {
		got <- data
	})

	ok := bus.Emit(context.Background(), "user.created", map[string]any{"id": "42"})
	assert.True(t, ok)

	select {
	case data := <-got:
		assert.Equal(t, "42", data["id"])
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestEmitNoListeners(t *testing.T) {
	bus := NewBus()
	ok := bus.Emit(context.Background(), "nobody.cares", nil)
	assert.False(t, ok)
}

func TestWildcardReceivesEverything(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 2)
	bus.Subscribe(Wildcard, "audit-fn", func(ctx context.Context, event string, data map[string]any) {
		mu.Lock()
		seen = append(seen, event)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Emit(context.Background(), "a", nil)
	bus.Emit(context.Background(), "b", nil)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("wildcard handler missed an event")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}

func TestDetachRemovesOwnerHandlers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("order.placed", "fn-a", func(ctx context.Context, event string, data map[string]any) {})
	bus.Subscribe("order.placed", "fn-b", func(ctx context.Context, event string, data map[string]any) {})

	bus.Detach("fn-a")
	assert.True(t, bus.HasListeners("order.placed"))

	bus.Detach("fn-b")
	assert.False(t, bus.HasListeners("order.placed"))
}

func TestResetClearsAllHandlers(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("x", "fn", func(ctx context.Context, event string, data map[string]any) {})
	bus.Subscribe(Wildcard, "fn", func(ctx context.Context, event string, data map[string]any) {})

	bus.Reset()
	assert.False(t, bus.HasListeners("x"))
}
