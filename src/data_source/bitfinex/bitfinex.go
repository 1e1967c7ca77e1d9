package bitfinex

import (
	"fmt"
	"sync"

	"cove-observer/src/helpers"
	"cove-observer/src/models"

	"github.com/tidwall/gjson"
)

const (
	DefaultURL    = "wss://api-pub.bitfinex.com/ws/2"
	DefaultSymbol = "tXRPUSD"
)

// -----------------------------------------------------------------------------
// Protocol speaks the Bitfinex v2 public channels: 1m candles plus ticker.
// Ticker fields are laid over the last candle so every emitted tick is the
// freshest composite of both.
// -----------------------------------------------------------------------------

type Protocol struct {
	url    string
	symbol string

	mu         sync.Mutex
	channels   map[int64]string
	lastTicker *models.MTickerSnapshot
	lastCandle *models.MPriceTick
}

// -----------------------------------------------------------------------------

func New(url, symbol string) *Protocol {
	if url == "" {
		url = DefaultURL
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}
	return &Protocol{url: url, symbol: symbol, channels: make(map[int64]string)}
}

func (p *Protocol) URL() string { return p.url }

func (p *Protocol) SubscribeMessages() []interface{} {
	return []interface{}{
		map[string]string{"event": "subscribe", "channel": "candles", "key": "trade:1m:" + p.symbol},
		map[string]string{"event": "subscribe", "channel": "ticker", "symbol": p.symbol},
	}
}

func (p *Protocol) PingMessage() interface{} {
	return map[string]string{"event": "ping"}
}

// Reset drops channel ids and the ticker overlay. The last candle survives
// so GetLastData keeps answering across reconnects.
func (p *Protocol) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = make(map[int64]string)
	p.lastTicker = nil
}

// -----------------------------------------------------------------------------

func (p *Protocol) Handle(raw []byte) ([]models.MPriceTick, error) {
	if !gjson.ValidBytes(raw) {
		return nil, helpers.NewValidationError("bitfinex: malformed frame", nil)
	}
	msg := gjson.ParseBytes(raw)

	if msg.IsObject() {
		return nil, p.handleEvent(msg)
	}
	if !msg.IsArray() {
		return nil, helpers.NewValidationError("bitfinex: unexpected frame "+msg.Raw, nil)
	}

	parts := msg.Array()
	if len(parts) < 2 {
		return nil, helpers.NewValidationError("bitfinex: short channel frame", nil)
	}
	chanID, payload := parts[0].Int(), parts[1]
	if payload.Type == gjson.String && payload.Str == "hb" {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.channels[chanID] {
	case "candles":
		return p.handleCandles(payload)
	case "ticker":
		return p.handleTicker(payload)
	default:
		return nil, nil
	}
}

// -----------------------------------------------------------------------------

func (p *Protocol) handleEvent(msg gjson.Result) error {
	switch msg.Get("event").String() {
	case "subscribed":
		p.mu.Lock()
		p.channels[msg.Get("chanId").Int()] = msg.Get("channel").String()
		p.mu.Unlock()
	case "error":
		return fmt.Errorf("bitfinex: %s (code %d)", msg.Get("msg").String(), msg.Get("code").Int())
	case "info":
		// 20051: server restart, reconnect now
		if msg.Get("code").Int() == 20051 {
			return helpers.ErrReconnectRequested
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// handleCandles accepts a snapshot (newest first) or a single update
func (p *Protocol) handleCandles(payload gjson.Result) ([]models.MPriceTick, error) {
	if !payload.IsArray() {
		return nil, helpers.NewValidationError("bitfinex: candle payload is not an array", nil)
	}
	rows := payload.Array()
	if len(rows) == 0 {
		return nil, nil
	}

	row := payload
	if rows[0].IsArray() {
		row = rows[0]
	}
	candle, err := parseCandle(row)
	if err != nil {
		return nil, err
	}

	composite := candle.WithTicker(p.lastTicker)
	p.lastCandle = &composite
	return []models.MPriceTick{composite}, nil
}

// -----------------------------------------------------------------------------

// handleTicker parses [bid, bidSize, ask, askSize, dailyChange,
// dailyChangeRelative, lastPrice, volume, high, low]
func (p *Protocol) handleTicker(payload gjson.Result) ([]models.MPriceTick, error) {
	fields := payload.Array()
	if len(fields) < 10 {
		return nil, helpers.NewValidationError(fmt.Sprintf("bitfinex: ticker has %d fields", len(fields)), nil)
	}

	p.lastTicker = &models.MTickerSnapshot{
		Bid:                models.Float(fields[0].Float()),
		Ask:                models.Float(fields[2].Float()),
		DailyChange:        models.Float(fields[4].Float()),
		DailyChangePercent: models.Float(fields[5].Float() * 100),
		LastPrice:          models.Float(fields[6].Float()),
		Volume:             models.Float(fields[7].Float()),
		High:               models.Float(fields[8].Float()),
		Low:                models.Float(fields[9].Float()),
	}

	if p.lastCandle == nil {
		return nil, nil
	}
	composite := p.lastCandle.WithTicker(p.lastTicker)
	p.lastCandle = &composite
	return []models.MPriceTick{composite}, nil
}

// -----------------------------------------------------------------------------

// parseCandle reads [mts, open, close, high, low, volume]
func parseCandle(row gjson.Result) (models.MPriceTick, error) {
	f := row.Array()
	if len(f) < 6 {
		return models.MPriceTick{}, helpers.NewValidationError(fmt.Sprintf("bitfinex: candle has %d fields", len(f)), nil)
	}
	return models.MPriceTick{
		Timestamp: f[0].Int(),
		Open:      f[1].Float(),
		Close:     f[2].Float(),
		High:      f[3].Float(),
		Low:       f[4].Float(),
		Volume:    f[5].Float(),
	}, nil
}
