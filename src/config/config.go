package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"cove-observer/src/models"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file. A .env file next to
// the working directory is loaded first so COVE_* overrides can live there.
func NewConfig(configPath string) (*Config, error) {
	// 1. Optional .env, missing file is fine
	_ = godotenv.Load()

	// 2. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a Config from raw YAML, applying defaults and env overrides
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Default returns a fully defaulted configuration
func Default() *Config {
	c := &Config{MConfig: &models.MConfig{}}
	c.applyDefaults()
	return c
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "cove-observer"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}

	l := &c.Ledger
	if l.Network == "" {
		l.Network = models.DefaultEndpointID
	}
	if l.InitialRetryDelayMs == 0 {
		l.InitialRetryDelayMs = 2000
	}
	if l.MaxRetryDelayMs == 0 {
		l.MaxRetryDelayMs = 30000
	}
	if l.ConnectTimeoutMs == 0 {
		l.ConnectTimeoutMs = 15000
	}
	if l.RequestTimeoutMs == 0 {
		l.RequestTimeoutMs = 20000
	}
	if l.RequestsPerSecond == 0 {
		l.RequestsPerSecond = 10
	}
	if l.RequestBurst == 0 {
		l.RequestBurst = 20
	}

	b := &c.Balance
	if b.PollIntervalSeconds == 0 {
		b.PollIntervalSeconds = 10
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = 3
	}
	if b.ReserveDrops == 0 {
		b.ReserveDrops = models.DefaultReserveDrops
	}

	e := &c.Exchanges
	if e.ActiveSource == "" {
		e.ActiveSource = "Bitfinex"
	}
	if e.HistoryCapacity == 0 {
		e.HistoryCapacity = 1000
	}
	if e.ReconnectDelayMs == 0 {
		e.ReconnectDelayMs = 5000
	}
	if e.MaxReconnectDelayMs == 0 {
		e.MaxReconnectDelayMs = 60000
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}
	if e.PingIntervalSeconds == 0 {
		e.PingIntervalSeconds = 30
	}
	if e.HandshakeTimeoutMs == 0 {
		e.HandshakeTimeoutMs = 10000
	}
	if len(e.Sources) == 0 {
		e.Sources = []models.MSourceConfig{
			{Name: "Bitfinex", Type: "bitfinex", Enabled: true},
			{Name: "Bitstamp", Type: "bitstamp", Enabled: true},
			{Name: "Kraken", Type: "kraken", Enabled: true},
		}
	}

	s := &c.Storage
	if s.DBType == "" {
		s.DBType = "sqlite"
	}
	if s.DBPath == "" {
		s.DBPath = "cove-observer.db"
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = 7
	}
	if s.RetentionSchedule == "" {
		s.RetentionSchedule = "@hourly"
	}
	if s.FlushIntervalMs == 0 {
		s.FlushIntervalMs = 2000
	}
	if s.BatchSize == 0 {
		s.BatchSize = 500
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "cove"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 300
	}

	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 30
	}
	if c.Network.MaxRetries == 0 {
		c.Network.MaxRetries = 3
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "cove-observer/1.0"
	}

	if c.Faucet.TestnetURL == "" {
		c.Faucet.TestnetURL = "https://faucet.altnet.rippletest.net/accounts"
	}
	if c.Faucet.DevnetURL == "" {
		c.Faucet.DevnetURL = "https://faucet.devnet.rippletest.net/accounts"
	}
	if c.Faucet.RequestsPerMinute == 0 {
		c.Faucet.RequestsPerMinute = 6
	}
}

// -----------------------------------------------------------------------------

// applyEnvOverrides lets deployment environments patch the file config
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("COVE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("COVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("COVE_GRPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.GrpcPort = port
		}
	}

	// Ledger
	if v := os.Getenv("COVE_NETWORK"); v != "" {
		c.Ledger.Network = v
	}
	if v := os.Getenv("COVE_WATCH_ADDRESSES"); v != "" {
		c.Balance.WatchAddresses = splitList(v)
	}

	// Storage
	if v := os.Getenv("COVE_DB_TYPE"); v != "" {
		c.Storage.DBType = v
	}
	if v := os.Getenv("COVE_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("COVE_DATABASE_URL"); v != "" {
		c.Storage.DBConnectionString = v
	}

	// Redis
	if v := os.Getenv("COVE_REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
		c.Cache.Enabled = true
	}
	if v := os.Getenv("COVE_REDIS_PASSWORD"); v != "" {
		c.Cache.Password = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Server
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Ledger
	for i := range c.Ledger.CustomEndpoints {
		if err := validate.Struct(c.Ledger.CustomEndpoints[i]); err != nil {
			return fmt.Errorf("custom endpoint %d: %w", i, err)
		}
	}
	if _, err := c.SelectedEndpoint(); err != nil {
		return err
	}
	if c.Ledger.InitialRetryDelayMs <= 0 || c.Ledger.MaxRetryDelayMs < c.Ledger.InitialRetryDelayMs {
		return fmt.Errorf("ledger retry delays must satisfy 0 < initial <= max")
	}
	if c.Ledger.RetryJitter < 0 || c.Ledger.RetryJitter > 1 {
		return fmt.Errorf("ledger retry jitter must be within [0, 1]")
	}
	if c.Ledger.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}

	// Balance
	if c.Balance.PollIntervalSeconds <= 0 {
		return fmt.Errorf("balance poll interval must be greater than 0")
	}
	if c.Balance.MaxRetries <= 0 {
		return fmt.Errorf("balance max retries must be greater than 0")
	}
	if c.Balance.ReserveDrops < 0 {
		return fmt.Errorf("reserve cannot be negative")
	}

	// Exchanges
	if c.Exchanges.HistoryCapacity <= 0 {
		return fmt.Errorf("history capacity must be greater than 0")
	}
	if c.Exchanges.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	seen := make(map[string]bool)
	for i, src := range c.Exchanges.Sources {
		if src.Name == "" {
			return fmt.Errorf("source %d must have a name", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("source '%s' is declared twice", src.Name)
		}
		seen[src.Name] = true
		switch strings.ToLower(src.Type) {
		case "bitfinex", "bitstamp", "kraken":
		default:
			return fmt.Errorf("source '%s' has unknown type '%s'", src.Name, src.Type)
		}
	}

	// Storage
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.Enabled && c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type '%s'", c.Storage.DBType)
	}
	if c.Storage.RetentionDays <= 0 {
		return fmt.Errorf("data retention days must be greater than 0")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("redis address cannot be empty when cache is enabled")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Endpoints returns the built-in catalogue followed by custom endpoints
func (c *Config) Endpoints() []models.MNetworkEndpoint {
	list := models.DefaultEndpoints()
	return append(list, c.Ledger.CustomEndpoints...)
}

// -----------------------------------------------------------------------------

// FindEndpoint looks an endpoint up by id
func (c *Config) FindEndpoint(id string) (models.MNetworkEndpoint, bool) {
	for _, ep := range c.Endpoints() {
		if ep.ID == id {
			return ep, true
		}
	}
	return models.MNetworkEndpoint{}, false
}

// -----------------------------------------------------------------------------

// SelectedEndpoint resolves ledger.network against the catalogue
func (c *Config) SelectedEndpoint() (models.MNetworkEndpoint, error) {
	ep, ok := c.FindEndpoint(c.Ledger.Network)
	if !ok {
		return ep, fmt.Errorf("unknown ledger network '%s'", c.Ledger.Network)
	}
	return ep, nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
