package kraken

import (
	"fmt"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/models"

	"github.com/tidwall/gjson"
)

const (
	DefaultURL  = "wss://ws.kraken.com"
	DefaultPair = "XRP/USD"
)

// -----------------------------------------------------------------------------
// Protocol reads the v1 public ticker:
// [channelID, {a,b,c,v,p,t,l,h,o}, "ticker", pair]
// -----------------------------------------------------------------------------

type Protocol struct {
	url  string
	pair string
	now  func() time.Time
}

func New(url, pair string) *Protocol {
	if url == "" {
		url = DefaultURL
	}
	if pair == "" {
		pair = DefaultPair
	}
	return &Protocol{url: url, pair: pair, now: time.Now}
}

func (p *Protocol) URL() string { return p.url }

func (p *Protocol) SubscribeMessages() []interface{} {
	return []interface{}{
		map[string]interface{}{
			"event":        "subscribe",
			"pair":         []string{p.pair},
			"subscription": map[string]string{"name": "ticker"},
		},
	}
}

func (p *Protocol) PingMessage() interface{} {
	return map[string]string{"event": "ping"}
}

func (p *Protocol) Reset() {}

// -----------------------------------------------------------------------------

func (p *Protocol) Handle(raw []byte) ([]models.MPriceTick, error) {
	if !gjson.ValidBytes(raw) {
		return nil, helpers.NewValidationError("kraken: malformed frame", nil)
	}
	msg := gjson.ParseBytes(raw)

	if msg.IsObject() {
		switch msg.Get("event").String() {
		case "subscriptionStatus":
			if msg.Get("status").String() == "error" {
				return nil, fmt.Errorf("kraken: %s", msg.Get("errorMessage").String())
			}
		case "error":
			return nil, fmt.Errorf("kraken: %s", msg.Get("errorMessage").String())
		case "systemStatus":
			if status := msg.Get("status").String(); status == "maintenance" {
				return nil, helpers.ErrReconnectRequested
			}
		}
		// heartbeat, pong, online systemStatus
		return nil, nil
	}

	if !msg.IsArray() {
		return nil, helpers.NewValidationError("kraken: unexpected frame "+msg.Raw, nil)
	}

	// [channelID, payload..., channelName, pair]
	parts := msg.Array()
	if len(parts) < 4 || parts[len(parts)-2].Type != gjson.String || parts[len(parts)-1].Type != gjson.String {
		return nil, helpers.NewValidationError("kraken: malformed channel frame", nil)
	}
	if parts[len(parts)-2].String() != "ticker" {
		return nil, nil
	}

	tick, err := p.parseTicker(parts[1])
	if err != nil {
		return nil, err
	}
	return []models.MPriceTick{tick}, nil
}

// -----------------------------------------------------------------------------

func (p *Protocol) parseTicker(t gjson.Result) (models.MPriceTick, error) {
	last := t.Get("c.0")
	if !last.Exists() {
		return models.MPriceTick{}, helpers.NewValidationError("kraken: ticker without close", nil)
	}

	return models.MPriceTick{
		Timestamp: p.now().UnixMilli(),
		Open:      t.Get("o.0").Float(),
		High:      t.Get("h.1").Float(), // 24h
		Low:       t.Get("l.1").Float(), // 24h
		Close:     last.Float(),
		Volume:    t.Get("v.1").Float(), // 24h
		LastPrice: models.Float(last.Float()),
		Vwap:      models.Float(t.Get("p.1").Float()),
		Bid:       models.Float(t.Get("b.0").Float()),
		Ask:       models.Float(t.Get("a.0").Float()),
		NumTrades: models.Int(t.Get("t.1").Int()),
	}, nil
}
