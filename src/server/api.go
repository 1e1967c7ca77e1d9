package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cove-observer/src/config"
	datasource "cove-observer/src/data_source"
	"cove-observer/src/grpc_control"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/metrics"
	"cove-observer/src/models"
	"cove-observer/src/network"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// Deps are the components the API reads from. Health, Metrics and Faucet may
// be nil.
// -----------------------------------------------------------------------------

type Deps struct {
	Exchanges *datasource.MultiSourceManager
	Ledger    interfaces.ILedgerMonitor
	Balances  interfaces.IBalanceService
	Faucet    *network.FaucetClient
	Metrics   *metrics.Metrics
	Health    *grpc_control.HealthReporter
}

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

type Server struct {
	Config *config.Config
	Logger *logger.Logger
	deps   Deps
	engine *gin.Engine
	http   *http.Server

	// WebSocket clients, owned by the hub goroutine
	clients    map[*Client]struct{}
	broadcast  chan models.MEvent
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage
	quit       chan struct{}
	stopOnce   sync.Once
	connected  atomic.Int64

	watchMu sync.Mutex
	watches map[string]*sharedWatch

	// catalogue id of the selected ledger network
	netMu   sync.RWMutex
	network string

	startedAt time.Time
}

var _ interfaces.IDataExchanger = (*Server)(nil)

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

// NewServer builds the engine and starts the websocket hub
func NewServer(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		Config:     cfg,
		Logger:     log,
		deps:       deps,
		engine:     gin.New(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan models.MEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage, 64),
		quit:       make(chan struct{}),
		watches:    make(map[string]*sharedWatch),
		network:    cfg.Ledger.Network,
		startedAt:  time.Now(),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())

	// CORS for the local dashboard
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.setupRoutes()
	go s.runHub()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/networks", s.getNetworks)

	api.GET("/ledger/status", s.getLedgerStatus)
	api.PUT("/ledger/network", s.putLedgerNetwork)

	api.GET("/prices", s.getPrices)
	api.GET("/prices/summary", s.getPriceSummary)
	api.PUT("/prices/active", s.putActiveSource)
	api.GET("/prices/:source", s.getPrice)
	api.GET("/prices/:source/history", s.getPriceHistory)
	api.GET("/prices/:source/candles", s.getCandles)

	api.GET("/accounts/:address/balance", s.getBalance)
	api.GET("/accounts/:address/transactions", s.getTransactions)
	api.POST("/accounts/:address/fund", s.postFund)
	api.POST("/accounts/:address/send/check", s.postSendCheck)
	api.POST("/wallet/seed/check", s.postSeedCheck)

	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	s.engine.GET("/ws", s.handleWebSocket)
}

// requestLogger logs every request at debug level through the app logger
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler exposes the engine, used by tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves HTTP on host:port until Stop
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Logger.Info("Starting server on %s", addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop closes every websocket client, drops the balance watches the
// clients hold and shuts the HTTP server down
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.quit) })
	s.dropAllWatches()

	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
