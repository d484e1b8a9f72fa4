// Package usage tracks knowledge item accesses with buffered batch writes.
//
// Access counts feed the decay scorer's usage bonus. Individual reads are
// cheap to lose, so the recorder trades durability for write amplification:
// increments accumulate in memory and flush as one batched UPDATE per
// interval instead of a row write per request.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/telemetry"
)

// maxPendingKeys caps the number of distinct items held between flushes.
// Past the cap new items are dropped rather than growing without bound.
const maxPendingKeys = 10_000

// Recorder accumulates access-count increments and flushes them to the
// database when the pending set grows large or the flush interval elapses.
type Recorder struct {
	db            *storage.DB
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration

	mu     sync.Mutex
	counts map[model.ItemRef]int

	dropped atomic.Int64

	started    atomic.Bool
	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// NewRecorder creates an access recorder. maxSize is the pending-item count
// that triggers an early flush; flushInterval bounds staleness.
func NewRecorder(db *storage.DB, logger *slog.Logger, maxSize int, flushInterval time.Duration) *Recorder {
	return &Recorder{
		db:            db,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		counts:        make(map[model.ItemRef]int),
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics.
// Idempotent. Call Drain to stop.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("usage: Start called twice, ignoring")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.flushLoop(loopCtx)
}

// Record notes one access of (id, type). Never blocks and never fails: when
// the pending set is at capacity the access is counted as dropped instead.
func (r *Recorder) Record(id string, t model.ItemType) {
	key := model.ItemRef{ID: id, Type: t}

	r.mu.Lock()
	if _, exists := r.counts[key]; !exists && len(r.counts) >= maxPendingKeys {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	r.counts[key]++
	pending := len(r.counts)
	r.mu.Unlock()

	if pending >= r.maxSize {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush needs a live context because ctx is already done.
			if r.drainCtx != nil {
				r.flush(r.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				r.flush(fallbackCtx)
				cancel()
			}
			close(r.done)
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-r.flushCh:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.counts) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.counts
	r.counts = make(map[model.ItemRef]int)
	r.mu.Unlock()

	start := time.Now()
	err := r.db.IncrementAccessCounts(ctx, batch)
	if err != nil {
		r.logger.Error("usage: flush failed", "error", err, "batch_size", len(batch))
		// Merge the batch back for retry, respecting the capacity cap.
		r.mu.Lock()
		for key, n := range batch {
			if _, exists := r.counts[key]; !exists && len(r.counts) >= maxPendingKeys {
				r.dropped.Add(int64(n))
				continue
			}
			r.counts[key] += n
		}
		r.mu.Unlock()
		return
	}

	r.logger.Debug("usage: batch flushed",
		"items", len(batch),
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
}

// Drain signals the flush loop to stop, waits for its final flush, and
// returns. ctx bounds the wait and the final flush.
func (r *Recorder) Drain(ctx context.Context) {
	r.drainCtx = ctx
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("usage: drain timed out waiting for flush loop")
	}
}

func (r *Recorder) registerMetrics() {
	meter := telemetry.Meter("kioku/usage")

	_, _ = meter.Int64ObservableGauge("kioku.usage.pending",
		metric.WithDescription("Distinct items with unflushed access increments"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("kioku.usage.dropped_total",
		metric.WithDescription("Access increments dropped due to capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.Dropped())
			return nil
		}),
	)
}

// Len returns the number of distinct items pending flush.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counts)
}

// Dropped returns the total increments dropped due to capacity. A non-zero
// value means some accesses were undercounted.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}
