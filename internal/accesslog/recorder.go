package accesslog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/leonletto/webdemos/internal/logging"
	"github.com/leonletto/webdemos/internal/responder"
)

// DefaultPruneInterval is how often Run deletes expired records when
// Retention is set.
const DefaultPruneInterval = time.Hour

// Recorder moves records from poll workers to the Store on its own
// goroutine so a slow disk never stalls request handling.
type Recorder struct {
	// Retention, when positive, is how long records are kept. Set it
	// before calling Run.
	Retention     time.Duration
	PruneInterval time.Duration

	store   *Store
	ch      chan responder.Record
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewRecorder creates a recorder buffering up to size records.
func NewRecorder(store *Store, size int, logger *slog.Logger) *Recorder {
	if size <= 0 {
		size = 256
	}
	return &Recorder{
		store:  store,
		ch:     make(chan responder.Record, size),
		logger: logging.ForComponent(logger, "accesslog"),
	}
}

// Record queues r for storage. It never blocks; when the buffer is full the
// record is dropped and counted.
func (r *Recorder) Record(rec responder.Record) {
	select {
	case r.ch <- rec:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("access history buffer full, dropping records")
		}
	}
}

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued records until ctx is done, then flushes what is left.
// With a Retention set it also prunes expired records, once at start and
// then every PruneInterval.
func (r *Recorder) Run(ctx context.Context) error {
	var prune <-chan time.Time
	if r.Retention > 0 {
		interval := r.PruneInterval
		if interval <= 0 {
			interval = DefaultPruneInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		prune = ticker.C
		r.prune(ctx)
	}

	for {
		select {
		case rec := <-r.ch:
			r.insert(context.WithoutCancel(ctx), rec)
		case <-prune:
			r.prune(ctx)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.store.Prune(ctx, time.Now().Add(-r.Retention))
	if err != nil {
		r.logger.Warn("failed to prune access history", "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("pruned access history", "removed", n, "retention", r.Retention)
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case rec := <-r.ch:
			r.insert(context.Background(), rec)
		default:
			return
		}
	}
}

func (r *Recorder) insert(ctx context.Context, rec responder.Record) {
	if err := r.store.Insert(ctx, rec); err != nil {
		r.logger.Warn("failed to store request", "id", rec.ID, "error", err)
	}
}
