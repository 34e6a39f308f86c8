package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/h1v3-io/relay/pkg/protocol"
)

// HandlerFunc processes one inbound event.
type HandlerFunc func(ctx context.Context, ev protocol.Event) error

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("relay: queue closed")

type loggerKey struct{}

// WithLogger attaches a request-scoped logger to ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}

type job struct {
	ctx context.Context
	ev  protocol.Event
}

// Queue runs events from the same chat one at a time, in arrival order, and
// events from different chats concurrently up to a global limit. A worker
// goroutine is started per chat on first use and lives until Close.
type Queue struct {
	handle HandlerFunc
	sem    *semaphore.Weighted
	size   int
	logger *slog.Logger

	mu      sync.Mutex // guards workers and closed
	workers map[string]chan job
	closed  bool
	quit    chan struct{}  // closed by Close to release blocked senders
	sending sync.WaitGroup // Submit calls past the closed check
	wg      sync.WaitGroup // workers
}

// NewQueue creates a queue. maxConcurrent bounds events in flight across
// all chats; size is the per-chat buffer.
func NewQueue(handle HandlerFunc, maxConcurrent, size int, logger *slog.Logger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	if size <= 0 {
		size = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		handle:  handle,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		size:    size,
		logger:  logger,
		workers: make(map[string]chan job),
		quit:    make(chan struct{}),
	}
}

// Submit enqueues ev, blocking while its chat's buffer is full; other chats
// are unaffected. The event is tagged with an event_id for log correlation.
// Once accepted it runs to completion even if ctx is later cancelled.
func (q *Queue) Submit(ctx context.Context, ev protocol.Event) error {
	eventID := uuid.NewString()
	logger := q.logger.With("event_id", eventID, "chat_id", ev.ChatID)
	jctx := WithLogger(context.WithoutCancel(ctx), logger)

	ch, err := q.worker(ev.ChatID)
	if err != nil {
		return err
	}
	defer q.sending.Done()

	select {
	case ch <- job{ctx: jctx, ev: ev}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay: enqueue: %w", ctx.Err())
	case <-q.quit:
		return ErrQueueClosed
	}
}

// worker returns the chat's channel, starting its goroutine on first use,
// and registers the caller as a pending sender.
func (q *Queue) worker(chatID string) (chan job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	ch, ok := q.workers[chatID]
	if !ok {
		ch = make(chan job, q.size)
		q.workers[chatID] = ch
		q.wg.Add(1)
		go q.work(chatID, ch)
	}
	q.sending.Add(1)
	return ch, nil
}

func (q *Queue) work(chatID string, ch chan job) {
	defer q.wg.Done()
	for j := range ch {
		if err := q.sem.Acquire(context.Background(), 1); err != nil {
			continue
		}
		q.run(j)
		q.sem.Release(1)
	}
	q.logger.Debug("chat worker stopped", "chat_id", chatID)
}

func (q *Queue) run(j job) {
	logger := loggerFrom(j.ctx, q.logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling event", "panic", r)
		}
	}()
	if err := q.handle(j.ctx, j.ev); err != nil {
		logger.Debug("event handled with error", "error", err)
	}
}

// Close stops accepting events and waits for queued ones to finish.
// Submit calls blocked on a full buffer return ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.quit)
	// No sender can reach a channel after this, so closing them is safe.
	q.sending.Wait()
	for _, ch := range q.workers {
		close(ch)
	}
	q.wg.Wait()
}
