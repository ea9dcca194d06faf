package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	// ErrQueueFull means the message was not enqueued. The recovery sweep
	// evaluates the transaction later.
	ErrQueueFull = errors.New("queue is full")
)

// Queue is an in-process, channel-backed transport. It is safe for concurrent
// use and suitable for single-instance deployments.
type Queue struct {
	ch         chan TransactionApplied
	closeChan  chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	workers    int
	maxRetries int
	backoff    time.Duration
}

type QueueConfig struct {
	BufferSize int
	Workers    int
	MaxRetries int
	Backoff    time.Duration
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BufferSize: 256,
		Workers:    4,
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

func NewQueue(cfg QueueConfig) *Queue {
	def := DefaultQueueConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Queue{
		ch:         make(chan TransactionApplied, cfg.BufferSize),
		closeChan:  make(chan struct{}),
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
}

// PublishTransactionApplied enqueues msg without waiting. A full buffer
// returns ErrQueueFull.
func (q *Queue) PublishTransactionApplied(ctx context.Context, msg TransactionApplied) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or the
// queue is stopped; messages still buffered at Stop are processed first.
func (q *Queue) Start(ctx context.Context, handler Handler) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			q.process(ctx, msg, handler)
		case <-q.closeChan:
			for {
				select {
				case msg := <-q.ch:
					q.process(ctx, msg, handler)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) process(ctx context.Context, msg TransactionApplied, handler Handler) {
	err := handler(ctx, msg)
	if err == nil {
		return
	}

	if msg.Attempt >= q.maxRetries {
		slog.ErrorContext(ctx, "Dropping transaction message after retries",
			"message_id", msg.MessageID,
			"transaction_id", msg.TransactionID,
			"attempts", msg.Attempt+1,
			"error", err)
		return
	}

	msg.Attempt++
	delay := time.Duration(msg.Attempt) * q.backoff
	slog.WarnContext(ctx, "Transaction message failed, retrying",
		"message_id", msg.MessageID,
		"transaction_id", msg.TransactionID,
		"attempt", msg.Attempt,
		"delay", delay,
		"error", err)

	time.AfterFunc(delay, func() {
		if err := q.PublishTransactionApplied(context.WithoutCancel(ctx), msg); err != nil {
			slog.Warn("Retry not enqueued", "message_id", msg.MessageID, "error", err)
		}
	})
}

// Stop closes the queue and waits for in-flight messages.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Close() error {
	return q.Stop(context.Background())
}
