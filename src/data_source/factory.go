package datasource

import (
	"fmt"
	"strings"
	"time"

	"cove-observer/src/data_source/bitfinex"
	"cove-observer/src/data_source/bitstamp"
	"cove-observer/src/data_source/kraken"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"
)

// NewProtocol builds the wire protocol for a configured source
func NewProtocol(src models.MSourceConfig) (Protocol, error) {
	switch strings.ToLower(src.Type) {
	case "bitfinex":
		return bitfinex.New(src.URL, src.Pair), nil
	case "bitstamp":
		return bitstamp.New(src.URL, src.Pair), nil
	case "kraken":
		return kraken.New(src.URL, src.Pair), nil
	default:
		return nil, fmt.Errorf("unknown exchange type %q", src.Type)
	}
}

// -----------------------------------------------------------------------------

// OptionsFromConfig maps the exchange section onto adapter options
func OptionsFromConfig(cfg models.MExchangeConfig) AdapterOptions {
	opts := DefaultAdapterOptions()
	if cfg.ReconnectDelayMs > 0 {
		opts.ReconnectDelay = time.Duration(cfg.ReconnectDelayMs) * time.Millisecond
	}
	if cfg.MaxReconnectDelayMs > 0 {
		opts.MaxReconnectDelay = time.Duration(cfg.MaxReconnectDelayMs) * time.Millisecond
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PingIntervalSeconds > 0 {
		opts.PingInterval = time.Duration(cfg.PingIntervalSeconds) * time.Second
	}
	if cfg.HandshakeTimeoutMs > 0 {
		opts.HandshakeTimeout = time.Duration(cfg.HandshakeTimeoutMs) * time.Millisecond
	}
	return opts
}

// -----------------------------------------------------------------------------

// BuildManager creates one adapter per enabled source and the manager that
// aggregates them
func BuildManager(cfg models.MExchangeConfig, dialer interfaces.IDialer, log *logger.Logger) (*MultiSourceManager, error) {
	opts := OptionsFromConfig(cfg)

	var adapters []interfaces.IExchangeAdapter
	for _, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		proto, err := NewProtocol(src)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		adapters = append(adapters, NewStreamAdapter(src.Name, proto, dialer, opts, log.Named(src.Name)))
	}

	m := NewMultiSourceManager(adapters, cfg.HistoryCapacity, log.Named("aggregator"))
	if cfg.ActiveSource != "" {
		if err := m.SetActiveSource(cfg.ActiveSource); err != nil && len(adapters) > 0 {
			m.Logger.Warning("Configured active source %s is not enabled, using %s", cfg.ActiveSource, m.ActiveSource())
		}
	}
	return m, nil
}
