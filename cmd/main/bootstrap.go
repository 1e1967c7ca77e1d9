package main

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------

// bootstrap restores buffered history from storage and starts the
// background writers
func bootstrap(ctx context.Context, a *app) {
	workerCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.db != nil {
		restoreHistory(ctx, a)

		a.workers.Add(1)
		go func() {
			defer a.workers.Done()
			a.recorder.Run(workerCtx)
		}()

		if err := a.retention.Start(); err != nil {
			a.log.Error("Retention job not started: %v", err)
		}
	}

	if a.cache != nil {
		a.workers.Add(1)
		go func() {
			defer a.workers.Done()
			a.cache.Run(workerCtx)
		}()
	}
}

// -----------------------------------------------------------------------------

// restoreHistory seeds each exchange buffer with its newest stored ticks
func restoreHistory(ctx context.Context, a *app) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	capacity := a.conf.Exchanges.HistoryCapacity
	for _, src := range a.exchanges.GetAllSources() {
		ticks, err := a.db.LoadRecentTicks(loadCtx, src.Name(), capacity)
		if err != nil {
			a.log.Warning("Could not restore history of %s: %v", src.Name(), err)
			continue
		}
		a.exchanges.Seed(src.Name(), ticks)
		if len(ticks) > 0 {
			a.log.Info("Restored %d ticks for %s", len(ticks), src.Name())
		}
	}
}
