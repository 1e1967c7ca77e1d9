package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"
)

// -----------------------------------------------------------------------------
// Recorder buffers price ticks and balances coming off the event buses and
// writes them in batches. Observe is safe to use as a bus handler; it never
// touches the database.
// -----------------------------------------------------------------------------

type Recorder struct {
	db         interfaces.IDatabase
	Logger     *logger.Logger
	batchSize  int
	flushEvery time.Duration

	mu       sync.Mutex
	ticks    []models.MPriceTick
	balances map[string]models.MAccountBalance
	kick     chan struct{}

	written atomic.Int64
}

// -----------------------------------------------------------------------------

func NewRecorder(db interfaces.IDatabase, cfg models.MStorageConfig, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	every := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	if every <= 0 {
		every = 2 * time.Second
	}
	return &Recorder{
		db:         db,
		Logger:     log,
		batchSize:  batch,
		flushEvery: every,
		balances:   make(map[string]models.MAccountBalance),
		kick:       make(chan struct{}, 1),
	}
}

// -----------------------------------------------------------------------------

// Observe queues price and balance events
func (r *Recorder) Observe(ev models.MEvent) {
	switch {
	case ev.Kind == models.EventPrice && ev.Tick != nil:
		r.mu.Lock()
		r.ticks = append(r.ticks, *ev.Tick)
		full := len(r.ticks) >= r.batchSize
		r.mu.Unlock()
		if full {
			select {
			case r.kick <- struct{}{}:
			default:
			}
		}
	case ev.Kind == models.EventBalance && ev.Balance != nil:
		r.mu.Lock()
		r.balances[ev.Balance.Address] = *ev.Balance
		r.mu.Unlock()
	}
}

// Pending returns the number of ticks waiting to be written
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

// Written returns the number of ticks stored so far
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// -----------------------------------------------------------------------------

// Flush writes everything queued so far. Ticks that fail to save are dropped
// so a broken database cannot grow the queue without bound.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	ticks := r.ticks
	r.ticks = nil
	balances := r.balances
	r.balances = make(map[string]models.MAccountBalance)
	r.mu.Unlock()

	var firstErr error
	if len(ticks) > 0 {
		if err := r.db.SaveTicksBulk(ctx, ticks); err != nil {
			r.Logger.Error("Failed to store %d ticks: %v", len(ticks), err)
			firstErr = err
		} else {
			r.written.Add(int64(len(ticks)))
			r.Logger.Debug("Stored %d ticks", len(ticks))
		}
	}
	for _, b := range balances {
		if err := r.db.SaveBalance(ctx, b); err != nil {
			r.Logger.Error("Failed to store balance of %s: %v", b.Address, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// -----------------------------------------------------------------------------

// Run flushes on every interval or full batch until ctx is done, then
// flushes one last time
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(final)
			cancel()
			return
		case <-ticker.C:
			r.Flush(ctx)
		case <-r.kick:
			r.Flush(ctx)
		}
	}
}
