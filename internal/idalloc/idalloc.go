// Package idalloc allocates globally unique schema ids in batches, so the
// master need not round-trip to the coordinator for every registration
// (SPEC_FULL.md §4.3). The algorithm is a direct port of
// nextSchemaIdCounterBatch/getNextBatchLowerBoundFromKafkaStore: lock a batch
// by conditionally writing its upper bound to a shared counter path, falling
// back to whatever the log already contains if the counter is absent or
// behind.
package idalloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"schemaregistry/internal/coordinator"
)

const (
	// DefaultBatchSize matches ZOOKEEPER_SCHEMA_ID_COUNTER_BATCH_SIZE.
	DefaultBatchSize = 20
	// DefaultRetryBackoff matches ZOOKEEPER_SCHEMA_ID_COUNTER_BATCH_WRITE_RETRY_BACKOFF_MS.
	DefaultRetryBackoff = 50 * time.Millisecond
	// CounterPath is the coordinator node the batch upper bound is stored under.
	CounterPath = "/schema_id_counter"
)

// MaxIDSource returns the greatest schema id currently materialized in the
// store, or -1 if none exist yet. Allocator uses it to ensure a freshly
// claimed batch never collides with ids that arrived via the log before the
// coordinator's counter did (or before it existed at all).
type MaxIDSource func() int32

// Allocator hands out schema ids in batches of Config.BatchSize, reserving
// each batch from the Coordinator before any id in it is handed out.
type Allocator struct {
	coord          coordinator.Coordinator
	path           string
	batchSize      int32
	retryBackoff   time.Duration
	maxIDInStore   MaxIDSource
	onBatchClaimed func()

	mu    sync.Mutex
	next  int32
	upper int32 // exclusive upper bound of the current batch
}

// Config controls batch size, the coordinator path, and CAS retry pacing.
// Zero values fall back to the originals above.
type Config struct {
	Path         string
	BatchSize    int32
	RetryBackoff time.Duration
	// OnBatchClaimed, if set, is called once per batch successfully claimed
	// from the coordinator (for metrics; SPEC_FULL.md §D.4's
	// id_batch_reservations_total).
	OnBatchClaimed func()
}

// New builds an Allocator. maxIDInStore must reflect the store's current
// contents at the time it is called; Allocator never caches its result.
func New(coord coordinator.Coordinator, maxIDInStore MaxIDSource, cfg Config) *Allocator {
	if cfg.Path == "" {
		cfg.Path = CounterPath
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Allocator{
		coord:          coord,
		path:           cfg.Path,
		batchSize:      cfg.BatchSize,
		retryBackoff:   cfg.RetryBackoff,
		maxIDInStore:   maxIDInStore,
		onBatchClaimed: cfg.OnBatchClaimed,
	}
}

// Init claims this node's first batch. Must be called once, after becoming
// master and before the first Next call.
func (a *Allocator) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	lower, err := a.claimNextBatchAndReport(ctx)
	if err != nil {
		return err
	}
	a.next = lower
	a.upper = lower + a.batchSize
	return nil
}

// Next returns the next available schema id, claiming a new batch from the
// coordinator if the current one is exhausted.
func (a *Allocator) Next(ctx context.Context) (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next >= a.upper {
		lower, err := a.claimNextBatchAndReport(ctx)
		if err != nil {
			return 0, err
		}
		a.next = lower
		a.upper = lower + a.batchSize
	}

	id := a.next
	a.next++
	return id, nil
}

// claimNextBatchAndReport wraps claimNextBatch with the optional metrics hook.
func (a *Allocator) claimNextBatchAndReport(ctx context.Context) (int32, error) {
	lower, err := a.claimNextBatch(ctx)
	if err == nil && a.onBatchClaimed != nil {
		a.onBatchClaimed()
	}
	return lower, err
}

// claimNextBatch locks the next batch of ids by writing its upper bound to
// the coordinator, and returns the batch's lower bound. Mirrors
// nextSchemaIdCounterBatch: if the counter node doesn't exist yet, seed it
// from whatever the store already has; otherwise align the counter up to a
// batch boundary and CAS-loop against concurrent masters.
func (a *Allocator) claimNextBatch(ctx context.Context) (int32, error) {
	entry, err := a.coord.Get(ctx, a.path)
	if errors.Is(err, coordinator.ErrNotFound) {
		lower := a.lowerBoundFromStore()
		upper := lower + a.batchSize
		if err := a.coord.Create(ctx, a.path, encodeCounter(upper)); err != nil {
			if errors.Is(err, coordinator.ErrAlreadyExists) {
				// Lost a race with another node's first Create; fall through
				// to the CAS loop below, which will read whatever it wrote.
				return a.casLoop(ctx)
			}
			return 0, fmt.Errorf("idalloc: create counter: %w", err)
		}
		return lower, nil
	}
	if err != nil {
		return 0, fmt.Errorf("idalloc: get counter: %w", err)
	}
	return a.casLoopFrom(ctx, entry)
}

func (a *Allocator) casLoop(ctx context.Context) (int32, error) {
	entry, err := a.coord.Get(ctx, a.path)
	if err != nil {
		return 0, fmt.Errorf("idalloc: get counter: %w", err)
	}
	return a.casLoopFrom(ctx, entry)
}

func (a *Allocator) casLoopFrom(ctx context.Context, entry coordinator.Entry) (int32, error) {
	for {
		lower, err := decodeCounter(entry.Value)
		if err != nil {
			return 0, fmt.Errorf("idalloc: decode counter: %w", err)
		}

		if lower%a.batchSize != 0 {
			aligned := (1 + lower/a.batchSize) * a.batchSize
			slog.Warn("schema id counter is not a multiple of the batch size, aligning up",
				"counter", lower, "batch_size", a.batchSize, "aligned", aligned)
			lower = aligned
		}

		if fromStore := a.lowerBoundFromStore(); fromStore > lower {
			lower = fromStore
		}

		upper := lower + a.batchSize
		err = a.coord.CAS(ctx, a.path, encodeCounter(upper), entry.Version)
		if err == nil {
			return lower, nil
		}
		if !errors.Is(err, coordinator.ErrVersionMismatch) {
			return 0, fmt.Errorf("idalloc: cas counter: %w", err)
		}

		select {
		case <-time.After(a.retryBackoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}

		entry, err = a.coord.Get(ctx, a.path)
		if err != nil {
			return 0, fmt.Errorf("idalloc: get counter: %w", err)
		}
	}
}

// lowerBoundFromStore returns the smallest batch-aligned lower bound that is
// still greater than every id already materialized in the store.
func (a *Allocator) lowerBoundFromStore() int32 {
	maxID := a.maxIDInStore()
	if maxID < 0 {
		return 0
	}
	return (1 + maxID/a.batchSize) * a.batchSize
}

func encodeCounter(upper int32) []byte {
	return []byte(strconv.Itoa(int(upper)))
}

func decodeCounter(data []byte) (int32, error) {
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}
