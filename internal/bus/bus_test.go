package bus

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func runDispatcher(t *testing.T, d *Dispatcher) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		<-done
	}
}

func TestDispatcher_DeliversToHandler(t *testing.T) {
	d := New(10, testLogger())

	got := make(chan domain.Event, 1)
	d.On(domain.EventNewMessage, func(_ context.Context, ev domain.Event) {
		got <- ev
	})
	stop := runDispatcher(t, d)
	defer stop()

	d.Publish(domain.Event{Name: domain.EventNewMessage, Message: &domain.InboundMessage{GUID: "m1"}})

	select {
	case ev := <-got:
		require.NotNil(t, ev.Message)
		assert.Equal(t, "m1", ev.Message.GUID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestDispatcher_IgnoresOtherEvents(t *testing.T) {
	d := New(10, testLogger())

	var calls atomic.Int32
	d.On(domain.EventNewMessage, func(context.Context, domain.Event) {
		calls.Add(1)
	})

	d.Publish(domain.Event{Name: domain.EventTypingIndicator})
	d.Publish(domain.Event{Name: domain.EventNewMessage})
	d.Close()
	d.Run(context.Background())

	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_SerialDelivery(t *testing.T) {
	d := New(100, testLogger())

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		order    []string
	)
	d.On(domain.EventNewMessage, func(_ context.Context, ev domain.Event) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		order = append(order, ev.Message.GUID)
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		d.Publish(domain.Event{Name: domain.EventNewMessage, Message: &domain.InboundMessage{GUID: id}})
	}
	d.Close()
	d.Run(context.Background())

	assert.Equal(t, 1, maxSeen, "handlers ran concurrently")
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, order)
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	d := New(10, testLogger())

	var calls atomic.Int32
	d.On(domain.EventNewMessage, func(context.Context, domain.Event) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})

	d.Publish(domain.Event{Name: domain.EventNewMessage})
	d.Publish(domain.Event{Name: domain.EventNewMessage})
	d.Close()
	d.Run(context.Background())

	assert.Equal(t, int32(2), calls.Load(), "dispatcher should survive a panicking handler")
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	d := New(1, testLogger())
	d.Close()
	d.Close()

	assert.NotPanics(t, func() {
		d.Publish(domain.Event{Name: domain.EventNewMessage})
	})
}

func TestDispatcher_CloseReleasesBlockedPublisher(t *testing.T) {
	d := New(1, nil)
	d.Publish(domain.Event{Name: domain.EventNewMessage})

	published := make(chan struct{})
	go func() {
		d.Publish(domain.Event{Name: domain.EventNewMessage})
		close(published)
	}()
	// Give the second Publish time to reach the full-queue wait.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	d.Close()
	assert.Less(t, time.Since(start), time.Second, "Close waited on a blocked publisher")

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("blocked Publish did not return after Close")
	}

	// The event queued before Close is still delivered.
	var calls atomic.Int32
	d.On(domain.EventNewMessage, func(context.Context, domain.Event) { calls.Add(1) })
	d.Run(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}
