package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/relay/pkg/protocol"
)

func TestQueue_PerChatOrder(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]string{}

	q := NewQueue(func(_ context.Context, ev protocol.Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got[ev.ChatID] = append(got[ev.ChatID], ev.MessageID)
		mu.Unlock()
		return nil
	}, 4, 4, nil)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		for _, chat := range []string{"a", "b", "c"} {
			require.NoError(t, q.Submit(ctx, protocol.Event{ChatID: chat, MessageID: string(rune('A' + i))}))
		}
	}
	q.Close()

	for _, chat := range []string{"a", "b", "c"} {
		require.Len(t, got[chat], 20)
		for i, id := range got[chat] {
			assert.Equal(t, string(rune('A'+i)), id, "chat %s out of order", chat)
		}
	}
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})

	q := NewQueue(func(context.Context, protocol.Event) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	}, 2, 1, nil)

	ctx := context.Background()
	for _, chat := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Submit(ctx, protocol.Event{ChatID: chat}))
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&inFlight) == 2 }, time.Second, time.Millisecond)
	close(release)
	q.Close()

	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestQueue_LoggerAndPanic(t *testing.T) {
	var sawLogger atomic.Bool
	q := NewQueue(func(ctx context.Context, ev protocol.Event) error {
		if ev.MessageID == "boom" {
			panic("handler exploded")
		}
		sawLogger.Store(loggerFrom(ctx, nil) != nil)
		return nil
	}, 1, 2, nil)

	ctx := context.Background()
	require.NoError(t, q.Submit(ctx, protocol.Event{ChatID: "a", MessageID: "boom"}))
	require.NoError(t, q.Submit(ctx, protocol.Event{ChatID: "a", MessageID: "ok"}))
	q.Close()

	assert.True(t, sawLogger.Load(), "worker survives a panic and tags events with a logger")
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := NewQueue(func(context.Context, protocol.Event) error { return nil }, 1, 1, nil)
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Submit(context.Background(), protocol.Event{ChatID: "a"}), ErrQueueClosed)
}

func TestQueue_CancelledContextStillRuns(t *testing.T) {
	done := make(chan struct{})
	q := NewQueue(func(ctx context.Context, _ protocol.Event) error {
		assert.NoError(t, ctx.Err())
		close(done)
		return nil
	}, 1, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Submit(ctx, protocol.Event{ChatID: "a"}))
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event never ran")
	}
	q.Close()
}

func TestQueue_FullChatDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	handledB := make(chan struct{})
	q := NewQueue(func(_ context.Context, ev protocol.Event) error {
		if ev.ChatID == "a" {
			<-release
			return nil
		}
		close(handledB)
		return nil
	}, 2, 1, nil)
	ctx := context.Background()

	require.NoError(t, q.Submit(ctx, protocol.Event{ChatID: "a", MessageID: "1"}))
	require.NoError(t, q.Submit(ctx, protocol.Event{ChatID: "a", MessageID: "2"}))
	pendingA := make(chan error, 1)
	go func() { pendingA <- q.Submit(ctx, protocol.Event{ChatID: "a", MessageID: "3"}) }()

	submittedB := make(chan error, 1)
	go func() { submittedB <- q.Submit(ctx, protocol.Event{ChatID: "b"}) }()
	select {
	case err := <-submittedB:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("chat b waited behind chat a's full buffer")
	}
	select {
	case <-handledB:
	case <-time.After(time.Second):
		t.Fatal("chat b event never ran")
	}

	close(release)
	require.NoError(t, <-pendingA)
	q.Close()
}

func TestQueue_SubmitOnFullBuffer(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue(func(context.Context, protocol.Event) error {
		<-release
		return nil
	}, 1, 1, nil)
	bg := context.Background()
	require.NoError(t, q.Submit(bg, protocol.Event{ChatID: "a"}))
	require.NoError(t, q.Submit(bg, protocol.Event{ChatID: "a"}))

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Submit(ctx, protocol.Event{ChatID: "a"}), context.DeadlineExceeded)

	blocked := make(chan error, 1)
	go func() { blocked <- q.Submit(bg, protocol.Event{ChatID: "a"}) }()
	time.Sleep(10 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case err := <-blocked:
		// Close either released the sender or its event was accepted first.
		if err != nil {
			assert.ErrorIs(t, err, ErrQueueClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not release a blocked Submit")
	}
	close(release)
	<-closed
}
