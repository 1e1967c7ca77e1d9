package main

import (
	"context"
	"time"

	"cove-observer/src/models"
)

// -----------------------------------------------------------------------------

// startServers starts the HTTP/WebSocket API and the gRPC health service
func startServers(a *app) {
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("Server failed: %v", err)
		}
	}()

	if a.conf.GrpcPort != 0 {
		go func() {
			if err := a.health.ListenAndServe(a.conf.GrpcHost, a.conf.GrpcPort); err != nil {
				a.log.Error("gRPC health server failed: %v", err)
			}
		}()
	}
}

// -----------------------------------------------------------------------------

// connect opens the exchange streams and the ledger connection, then
// registers the configured streams and balance watches. Connection failures
// are retried in the background.
func connect(ctx context.Context, a *app) {
	if err := a.exchanges.ConnectAll(ctx); err != nil {
		a.log.Error("Exchange connect failed: %v", err)
	}

	endpoint, err := a.conf.SelectedEndpoint()
	if err != nil {
		a.log.Error("%v", err)
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.ledger.Connect(connectCtx, endpoint); err != nil {
		a.log.Warning("Ledger %s not reachable yet, retrying in background: %v", endpoint.DisplayName, err)
	} else if a.conf.Balance.PreferLiveReserve {
		if err := a.balances.RefreshReserve(connectCtx); err != nil {
			a.log.Warning("Live reserve unavailable: %v", err)
		}
	}

	for _, stream := range a.conf.Ledger.Streams {
		if err := a.ledger.Subscribe(ctx, models.StreamSubscription(stream)); err != nil {
			a.log.Warning("Stream %s not subscribed yet: %v", stream, err)
		}
	}
	for _, address := range a.conf.Balance.WatchAddresses {
		if err := a.server.Watch(ctx, "config", address); err != nil {
			a.log.Error("Cannot watch %s: %v", address, err)
		}
	}
}

// -----------------------------------------------------------------------------

// shutdown stops everything in reverse dependency order
func (a *app) shutdown() {
	if err := a.server.Stop(); err != nil {
		a.log.Warning("Server stop: %v", err)
	}
	a.health.Stop()

	a.balances.Close()
	if err := a.ledger.Disconnect(); err != nil {
		a.log.Warning("Ledger disconnect: %v", err)
	}
	if err := a.exchanges.DisconnectAll(); err != nil {
		a.log.Warning("Exchange disconnect: %v", err)
	}

	for _, stop := range a.detach {
		stop()
	}

	if a.retention != nil {
		a.retention.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.workers.Wait()

	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warning("Database close: %v", err)
		}
	}
}
