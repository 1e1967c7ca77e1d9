package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cove-observer/src/config"
	"cove-observer/src/logger"
)

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf.LogLevel, conf.Name)
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Setup Components
	app, err := setupApp(ctx, conf, appLogger)
	if err != nil {
		appLogger.Critical("Startup failed: %v", err)
	}

	// 5. Restore history and start background workers
	bootstrap(ctx, app)

	// 6. Start Servers
	startServers(app)

	// 7. Connect to the ledger and the exchanges
	connect(ctx, app)

	appLogger.Info("Observer running, press Ctrl+C to stop")
	<-ctx.Done()

	appLogger.Info("Shutting down...")
	app.shutdown()
	appLogger.Info("Shutdown complete.")
}
