package bitstamp

import (
	"fmt"
	"strings"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/models"

	"github.com/tidwall/gjson"
)

const (
	DefaultURL  = "wss://ws.bitstamp.net"
	DefaultPair = "xrpusd"
)

// -----------------------------------------------------------------------------
// Protocol follows the live_trades channel. Every trade becomes one tick
// whose close is the trade price.
// -----------------------------------------------------------------------------

type Protocol struct {
	url     string
	channel string
	now     func() time.Time
}

func New(url, pair string) *Protocol {
	if url == "" {
		url = DefaultURL
	}
	if pair == "" {
		pair = DefaultPair
	}
	return &Protocol{
		url:     url,
		channel: "live_trades_" + strings.ToLower(strings.ReplaceAll(pair, "/", "")),
		now:     time.Now,
	}
}

func (p *Protocol) URL() string { return p.url }

func (p *Protocol) SubscribeMessages() []interface{} {
	return []interface{}{
		map[string]interface{}{
			"event": "bts:subscribe",
			"data":  map[string]string{"channel": p.channel},
		},
	}
}

// Bitstamp keeps the socket alive server side
func (p *Protocol) PingMessage() interface{} { return nil }

func (p *Protocol) Reset() {}

// -----------------------------------------------------------------------------

func (p *Protocol) Handle(raw []byte) ([]models.MPriceTick, error) {
	if !gjson.ValidBytes(raw) {
		return nil, helpers.NewValidationError("bitstamp: malformed frame", nil)
	}
	msg := gjson.ParseBytes(raw)

	switch msg.Get("event").String() {
	case "trade":
		tick, err := p.parseTrade(msg.Get("data"))
		if err != nil {
			return nil, err
		}
		return []models.MPriceTick{tick}, nil
	case "bts:request_reconnect":
		return nil, helpers.ErrReconnectRequested
	case "bts:error":
		return nil, fmt.Errorf("bitstamp: %s", msg.Get("data.message").String())
	default:
		// bts:subscription_succeeded, bts:heartbeat
		return nil, nil
	}
}

// -----------------------------------------------------------------------------

func (p *Protocol) parseTrade(data gjson.Result) (models.MPriceTick, error) {
	price := data.Get("price")
	if !price.Exists() {
		return models.MPriceTick{}, helpers.NewValidationError("bitstamp: trade without price", nil)
	}
	last := price.Float()

	ts := p.now().UnixMilli()
	if micro := data.Get("microtimestamp"); micro.Exists() {
		ts = micro.Int() / 1000
	}

	tick := models.MPriceTick{
		Timestamp: ts,
		Open:      orDefault(data.Get("open_24"), last),
		High:      orDefault(data.Get("high_24"), last),
		Low:       orDefault(data.Get("low_24"), last),
		Close:     last,
		Volume:    data.Get("amount").Float(),
		LastPrice: models.Float(last),
		Vwap:      optional(data.Get("vwap")),
		Bid:       optional(data.Get("bid")),
		Ask:       optional(data.Get("ask")),
	}
	return tick, nil
}

func orDefault(r gjson.Result, def float64) float64 {
	if !r.Exists() {
		return def
	}
	return r.Float()
}

func optional(r gjson.Result) *float64 {
	if !r.Exists() {
		return nil
	}
	return models.Float(r.Float())
}
