package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

const (
	defaultQueueSize = 256
	insertTimeout    = 5 * time.Second
)

// EventStore is the write side of the journal. *DB implements it.
type EventStore interface {
	InsertEvent(ctx context.Context, ev motion.Event) error
}

// Journal is a motion.Recorder that writes events from a bounded queue on a
// background worker. Events arriving while the queue is full are dropped.
type Journal struct {
	store      EventStore
	log        logging.Logger
	retries    int
	retryDelay time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan motion.Event
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets the logger.
func WithJournalLogger(l logging.Logger) JournalOption {
	return func(j *Journal) { j.log = logging.OrNoop(l) }
}

// WithRetries sets how many times a write is retried on connection errors.
func WithRetries(n int, delay time.Duration) JournalOption {
	return func(j *Journal) {
		j.retries = n
		j.retryDelay = delay
	}
}

// NewJournal starts the background writer. queueSize <= 0 uses a default.
func NewJournal(store EventStore, queueSize int, opts ...JournalOption) *Journal {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	j := &Journal{
		store:      store,
		log:        logging.Noop(),
		retries:    2,
		retryDelay: time.Second,
		queue:      make(chan motion.Event, queueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	go j.run()
	return j
}

// Record implements motion.Recorder. It never blocks.
func (j *Journal) Record(ev motion.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- ev:
	default:
		if j.dropped.Add(1) == 1 {
			j.log.Warn(context.Background(), "journal queue full, dropping events")
		}
	}
}

// Close stops accepting events and waits for queued ones to be written or
// for ctx to expire.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the written, dropped and failed event counts.
func (j *Journal) Stats() (written, dropped, failed uint64) {
	return j.written.Load(), j.dropped.Load(), j.failed.Load()
}

func (j *Journal) run() {
	defer close(j.done)
	for ev := range j.queue {
		j.write(ev)
	}
}

func (j *Journal) write(ev motion.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	err := WithRetry(ctx, j.retries, j.retryDelay, func() error {
		return j.store.InsertEvent(ctx, ev)
	})
	if err != nil {
		j.failed.Add(1)
		j.log.Warn(ctx, "journal write failed",
			logging.String("task_id", ev.TaskID),
			logging.String("phase", string(ev.Phase)),
			logging.Err(err),
		)
		return
	}
	j.written.Add(1)
}
