package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cove-observer/src/cache"
	"cove-observer/src/config"
	datasource "cove-observer/src/data_source"
	"cove-observer/src/grpc_control"
	"cove-observer/src/interfaces"
	"cove-observer/src/ledger"
	"cove-observer/src/logger"
	"cove-observer/src/metrics"
	"cove-observer/src/network"
	"cove-observer/src/server"
	"cove-observer/src/storage"
)

// -----------------------------------------------------------------------------

// app holds every long lived component of the process
type app struct {
	conf *config.Config
	log  *logger.Logger

	exchanges *datasource.MultiSourceManager
	ledger    *ledger.ConnectionManager
	balances  *ledger.BalanceService
	faucet    *network.FaucetClient

	db        interfaces.IDatabase
	recorder  *storage.Recorder
	retention *storage.RetentionJob
	cache     *cache.RedisCache

	metrics *metrics.Metrics
	health  *grpc_control.HealthReporter
	server  *server.Server

	workers sync.WaitGroup
	cancel  context.CancelFunc
	detach  []func()
}

// -----------------------------------------------------------------------------

// setupApp builds every component from the config. Nothing connects yet.
func setupApp(ctx context.Context, conf *config.Config, log *logger.Logger) (*app, error) {
	a := &app{conf: conf, log: log}

	dialer := network.NewWSDialer(
		time.Duration(conf.Exchanges.HandshakeTimeoutMs)*time.Millisecond,
		conf.Network.UserAgent,
	)

	// Exchanges
	exchanges, err := datasource.BuildManager(conf.Exchanges, dialer, log.Named("Exchanges"))
	if err != nil {
		return nil, fmt.Errorf("exchanges: %w", err)
	}
	a.exchanges = exchanges

	// Ledger
	a.ledger = ledger.NewConnectionManager(dialer, ledger.OptionsFromConfig(conf.Ledger), log.Named("Ledger"))
	a.balances = ledger.NewBalanceService(a.ledger, nil, conf.Balance, log.Named("Balances"))
	if conf.Balance.PreferLiveReserve {
		a.ledger.AddPostReconnectHook(a.balances.RefreshReserve)
	}

	// Faucet
	httpClient := network.NewAsyncNetworkManager(conf.MConfig, log.Named("HTTP"))
	a.faucet = network.NewFaucetClient(conf.Faucet, httpClient, log.Named("Faucet"))
	a.faucet.Refresh = a.balances.GetBalance

	// Storage
	if conf.Storage.Enabled {
		if err := setupStorage(a); err != nil {
			return nil, err
		}
	}

	// Cache
	if conf.Cache.Enabled {
		a.cache = cache.NewRedisCache(conf.Cache, log.Named("Cache"))
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.cache.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warning("Redis cache unavailable, continuing without it: %v", err)
			a.cache.Close()
			a.cache = nil
		}
	}

	// Observability
	a.metrics = metrics.New()
	a.health = grpc_control.NewHealthReporter(log.Named("Health"))
	for _, src := range a.exchanges.GetAllSources() {
		a.health.Track(src.Name())
	}

	a.server = server.NewServer(conf, server.Deps{
		Exchanges: a.exchanges,
		Ledger:    a.ledger,
		Balances:  a.balances,
		Faucet:    a.faucet,
		Metrics:   a.metrics,
		Health:    a.health,
	}, log.Named("Server"))

	a.wireEvents()
	return a, nil
}

// -----------------------------------------------------------------------------

// setupStorage opens the configured database
func setupStorage(a *app) error {
	db, err := storage.NewDatabase(a.conf.MConfig, a.log.Named("Storage"))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := db.Initialize(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.db = db
	a.recorder = storage.NewRecorder(db, a.conf.Storage, a.log.Named("Recorder"))
	a.retention = storage.NewRetentionJob(db, a.conf.Storage, a.log.Named("Retention"))
	return nil
}

// -----------------------------------------------------------------------------

// wireEvents fans the three buses out to their consumers
func (a *app) wireEvents() {
	exchangeBus := a.exchanges.Events()
	ledgerBus := a.ledger.Events()
	balanceBus := a.balances.Events()

	sub := func(stop func()) { a.detach = append(a.detach, stop) }

	sub(exchangeBus.Subscribe(a.metrics.Observe))
	sub(exchangeBus.Subscribe(a.health.ObserveExchange))
	sub(exchangeBus.Subscribe(a.server.Broadcast))

	sub(ledgerBus.Subscribe(a.metrics.Observe))
	sub(ledgerBus.Subscribe(a.health.ObserveLedger))
	sub(ledgerBus.Subscribe(a.server.Broadcast))

	sub(balanceBus.Subscribe(a.metrics.Observe))
	sub(balanceBus.Subscribe(a.server.Broadcast))

	if a.recorder != nil {
		sub(exchangeBus.Subscribe(a.recorder.Observe))
		sub(balanceBus.Subscribe(a.recorder.Observe))
	}
	if a.cache != nil {
		sub(exchangeBus.Subscribe(a.cache.Observe))
		sub(balanceBus.Subscribe(a.cache.Observe))
	}
}
