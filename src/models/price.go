package models

// MPriceTick is one canonical price observation from a single exchange.
// Optional fields are nil when the source did not report them.
type MPriceTick struct {
	SourceID           string   `json:"source_id"`
	Timestamp          int64    `json:"timestamp"` // unix millis
	Open               float64  `json:"open"`
	High               float64  `json:"high"`
	Low                float64  `json:"low"`
	Close              float64  `json:"close"`
	Volume             float64  `json:"volume"`
	Bid                *float64 `json:"bid,omitempty"`
	Ask                *float64 `json:"ask,omitempty"`
	LastPrice          *float64 `json:"last_price,omitempty"`
	Vwap               *float64 `json:"vwap,omitempty"`
	DailyChange        *float64 `json:"daily_change,omitempty"`
	DailyChangePercent *float64 `json:"daily_change_percent,omitempty"`
	NumTrades          *int64   `json:"num_trades,omitempty"`
}

// -----------------------------------------------------------------------------

// MTickerSnapshot holds the partial fields carried by ticker messages.
type MTickerSnapshot struct {
	Bid                *float64
	Ask                *float64
	LastPrice          *float64
	DailyChange        *float64
	DailyChangePercent *float64
	Volume             *float64
	High               *float64
	Low                *float64
}

// -----------------------------------------------------------------------------

// WithTicker returns a copy of the tick with every field the ticker carries
// laid over it.
func (t MPriceTick) WithTicker(s *MTickerSnapshot) MPriceTick {
	if s == nil {
		return t
	}
	if s.Bid != nil {
		t.Bid = Float(*s.Bid)
	}
	if s.Ask != nil {
		t.Ask = Float(*s.Ask)
	}
	if s.LastPrice != nil {
		t.LastPrice = Float(*s.LastPrice)
	}
	if s.DailyChange != nil {
		t.DailyChange = Float(*s.DailyChange)
	}
	if s.DailyChangePercent != nil {
		t.DailyChangePercent = Float(*s.DailyChangePercent)
	}
	if s.Volume != nil {
		t.Volume = *s.Volume
	}
	if s.High != nil {
		t.High = *s.High
	}
	if s.Low != nil {
		t.Low = *s.Low
	}
	return t
}

// -----------------------------------------------------------------------------

// Float returns a pointer to a copy of v
func Float(v float64) *float64 { return &v }

// Int returns a pointer to a copy of v
func Int(v int64) *int64 { return &v }

// -----------------------------------------------------------------------------

// MCandle is one OHLCV bucket built from tick history.
type MCandle struct {
	SourceID  string  `json:"source_id"`
	StartTime int64   `json:"start_time"`
	EndTime   int64   `json:"end_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Ticks     int     `json:"ticks"`
}

// -----------------------------------------------------------------------------

// MPriceSummary compares the latest close across all sources.
type MPriceSummary struct {
	ActiveSource string             `json:"active_source"`
	Prices       map[string]float64 `json:"prices"`
	Mean         float64            `json:"mean"`
	StdDev       float64            `json:"std_dev"`
	Min          float64            `json:"min"`
	Max          float64            `json:"max"`
	Spread       float64            `json:"spread"`
	// Deviation of the active source from the cross-source mean, in std units
	ActiveZScore float64 `json:"active_z_score"`
	Timestamp    int64   `json:"timestamp"`
}
