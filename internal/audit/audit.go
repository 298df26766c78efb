// Package audit buffers per-request outcome records and flushes them to a
// sink on a timer, keeping request handling off the persistence path.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/shared"
)

// Record is one request outcome.
type Record struct {
	Operation string
	RequestID string
	Status    int
	ErrorKind string
	Duration  time.Duration
	CreatedAt time.Time
}

// Sink receives flushed batches of records.
type Sink interface {
	Flush(ctx context.Context, records []Record) error
}

// Recorder accumulates records under a mutex and arms a flush timer on the
// first record of each interval.
type Recorder struct {
	mu       sync.Mutex
	pending  []Record
	timer    *time.Timer
	sink     Sink
	stats    StatsCache
	log      *zap.SugaredLogger
	interval time.Duration
}

// StatsCache optionally mirrors rolling per-operation counts to a cache for
// quick dashboards. Nil disables it.
type StatsCache interface {
	SetOperationCount(ctx context.Context, operation string, count int64, ttl time.Duration) error
}

func NewRecorder(sink Sink, stats StatsCache, log *zap.SugaredLogger) *Recorder {
	return &Recorder{
		sink:     sink,
		stats:    stats,
		log:      log,
		interval: shared.AuditFlushInterval,
	}
}

// SetFlushInterval adjusts the flush timer. Only meaningful before the first
// record arrives.
func (r *Recorder) SetFlushInterval(d time.Duration) {
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

func (r *Recorder) Record(rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, rec)
	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, func() {
			if err := r.Flush(context.Background()); err != nil {
				r.log.Warnw("audit flush failed, retrying once", "error", err.Error())
				time.Sleep(time.Second)
				if err := r.Flush(context.Background()); err != nil {
					r.log.Errorw("audit flush retry failed", "error", err.Error())
				}
			}
		})
	}
}

// Flush drains the pending records into the sink.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	records := r.pending
	r.pending = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := r.sink.Flush(ctx, records); err != nil {
		// Put them back for the next interval rather than dropping.
		r.mu.Lock()
		r.pending = append(records, r.pending...)
		r.mu.Unlock()
		return err
	}

	if r.stats != nil {
		counts := map[string]int64{}
		for _, rec := range records {
			counts[rec.Operation]++
		}
		for op, n := range counts {
			if err := r.stats.SetOperationCount(ctx, op, n, shared.AuditStatsCacheTTL); err != nil {
				r.log.Warnw("stats cache update failed", "operation", op, "error", err.Error())
			}
		}
	}
	return nil
}

// Shutdown performs a final synchronous flush.
func (r *Recorder) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for attempt := 0; attempt < shared.MaxFlushRetries; attempt++ {
		if err := r.Flush(ctx); err == nil {
			return
		}
		time.Sleep(time.Second)
	}
	r.log.Error("audit records dropped at shutdown")
}
