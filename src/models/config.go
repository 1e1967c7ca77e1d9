package models

// MConfig Structure
type MConfig struct {
	Name      string          `yaml:"name"`
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"log_level"`
	GrpcHost  string          `yaml:"grpc_host"`
	GrpcPort  int             `yaml:"grpc_port"`
	Ledger    MLedgerConfig   `yaml:"ledger"`
	Balance   MBalanceConfig  `yaml:"balance"`
	Exchanges MExchangeConfig `yaml:"exchanges"`
	Storage   MStorageConfig  `yaml:"storage"`
	Cache     MCacheConfig    `yaml:"cache"`
	Network   MNetworkConfig  `yaml:"network"`
	Faucet    MFaucetConfig   `yaml:"faucet"`
}

type MLedgerConfig struct {
	Network             string             `yaml:"network"` // endpoint id
	CustomEndpoints     []MNetworkEndpoint `yaml:"custom_endpoints"`
	InitialRetryDelayMs int                `yaml:"initial_retry_delay_ms"`
	MaxRetryDelayMs     int                `yaml:"max_retry_delay_ms"`
	RetryJitter         float64            `yaml:"retry_jitter"`
	ConnectTimeoutMs    int                `yaml:"connect_timeout_ms"`
	RequestTimeoutMs    int                `yaml:"request_timeout_ms"`
	RequestsPerSecond   float64            `yaml:"requests_per_second"`
	RequestBurst        int                `yaml:"request_burst"`
	Streams             []string           `yaml:"streams"`
}

type MBalanceConfig struct {
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
	ReserveDrops        int64    `yaml:"reserve_drops"`
	PreferLiveReserve   bool     `yaml:"prefer_live_reserve"`
	WatchAddresses      []string `yaml:"watch_addresses"`
}

type MExchangeConfig struct {
	ActiveSource        string          `yaml:"active_source"`
	HistoryCapacity     int             `yaml:"history_capacity"`
	ReconnectDelayMs    int             `yaml:"reconnect_delay_ms"`
	MaxReconnectDelayMs int             `yaml:"max_reconnect_delay_ms"`
	MaxRetries          int             `yaml:"max_retries"`
	PingIntervalSeconds int             `yaml:"ping_interval_seconds"`
	HandshakeTimeoutMs  int             `yaml:"handshake_timeout_ms"`
	Sources             []MSourceConfig `yaml:"sources"`
}

type MSourceConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // bitfinex, bitstamp, kraken
	URL     string `yaml:"url"`
	Pair    string `yaml:"pair"` // optional, protocol default when empty
	Enabled bool   `yaml:"enabled"`
}

type MStorageConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
	RetentionSchedule  string `yaml:"retention_schedule"`
	FlushIntervalMs    int    `yaml:"flush_interval_ms"`
	BatchSize          int    `yaml:"batch_size"`
}

type MCacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
	Proxy          string `yaml:"proxy"`
}

type MFaucetConfig struct {
	TestnetURL        string  `yaml:"testnet_url"`
	DevnetURL         string  `yaml:"devnet_url"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}
