package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/database"
)

// LoggerConfig configures the async audit logger. Zero values get defaults.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        *slog.Logger
}

func (c *LoggerConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// AsyncLogger records decisions off the request path. Events queue in a
// bounded buffer and a single writer persists them in batches.
type AsyncLogger struct {
	queue chan Event
	store *Store
	db    database.Querier
	cfg   LoggerConfig
	now   func() time.Time

	stop      chan struct{}
	stopped   sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64
}

// NewAsyncLogger starts the writer goroutine. Call Close to persist what is
// still queued.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig) *AsyncLogger {
	cfg.applyDefaults()

	l := &AsyncLogger{
		queue: make(chan Event, cfg.BufferSize),
		store: store,
		db:    db,
		cfg:   cfg,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	l.stopped.Add(1)
	go l.run()

	return l
}

// Log stamps and queues an event. It never blocks the request: when the
// queue is full, or the logger is closed, the event is counted as dropped.
func (l *AsyncLogger) Log(_ context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}
	if l.closed.Load() {
		l.drop(event, "closed")
		return
	}
	select {
	case l.queue <- event:
	default:
		l.drop(event, "queue full")
	}
}

// Dropped reports how many events were discarded without being persisted.
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops the writer after it has persisted every queued event. Safe to
// call more than once.
func (l *AsyncLogger) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stop)
		l.stopped.Wait()
	})
	return nil
}

func (l *AsyncLogger) drop(event Event, cause string) {
	l.dropped.Add(1)
	l.cfg.Logger.Warn("decision audit event dropped",
		"cause", cause,
		"decision", event.Decision,
		"username", event.Username,
		"request_id", event.RequestID,
	)
}

// run owns the pending batch. It writes when the batch reaches BatchSize,
// on every tick with a non-empty batch, and once more on stop.
func (l *AsyncLogger) run() {
	defer l.stopped.Done()

	tick := time.NewTicker(l.cfg.FlushInterval)
	defer tick.Stop()

	pending := make([]Event, 0, l.cfg.BatchSize)
	for {
		select {
		case event := <-l.queue:
			pending = append(pending, event)
			if len(pending) < l.cfg.BatchSize {
				continue
			}
		case <-tick.C:
		case <-l.stop:
			l.write(l.collect(pending))
			return
		}
		l.write(pending)
		pending = pending[:0]
	}
}

// collect appends whatever is still queued to pending without blocking.
func (l *AsyncLogger) collect(pending []Event) []Event {
	for {
		select {
		case event := <-l.queue:
			pending = append(pending, event)
		default:
			return pending
		}
	}
}

func (l *AsyncLogger) write(batch []Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	if err := l.store.InsertBatch(ctx, l.db, batch); err != nil {
		l.cfg.Logger.Error("decision audit write failed", "error", err, "events", len(batch))
	}
}
