package analysis

import (
	"testing"
	"time"

	"cove-observer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampleIndicesAlignsWindows(t *testing.T) {
	r := &TimeSeriesResampler{}
	groups := r.ResampleIndices([]int64{61_000, 65_000, 119_999, 120_000, 245_000}, 60_000)

	require.Len(t, groups, 3)
	assert.Equal(t, []int{0, 1, 2}, groups[0].Indices)
	assert.Equal(t, int64(60_000), groups[0].StartTime)
	assert.Equal(t, int64(120_000), groups[0].EndTime)
	assert.Equal(t, []int{3}, groups[1].Indices)
	assert.Equal(t, []int{4}, groups[2].Indices)
	assert.Equal(t, int64(240_000), groups[2].StartTime)
}

func TestCandlesFromTicks(t *testing.T) {
	a := NewAnalysisFacade()
	ticks := []models.MPriceTick{
		{Timestamp: 60_500, Close: 0.60, Volume: 10},
		{Timestamp: 60_000, Close: 0.58, Volume: 5},
		{Timestamp: 90_000, Close: 0.62, Volume: 12},
		{Timestamp: 130_000, Close: 0.61, Volume: 15},
	}

	candles := a.Candles("Kraken", ticks, time.Minute)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, "Kraken", first.SourceID)
	assert.Equal(t, 0.58, first.Open)
	assert.Equal(t, 0.62, first.Close)
	assert.Equal(t, 0.62, first.High)
	assert.Equal(t, 0.58, first.Low)
	assert.Equal(t, 12.0, first.Volume)
	assert.Equal(t, 3, first.Ticks)

	assert.Equal(t, 0.61, candles[1].Open)
	assert.Empty(t, a.Candles("Kraken", nil, time.Minute))
}

func TestSummaryAcrossSources(t *testing.T) {
	a := NewAnalysisFacade()
	latest := map[string]models.MPriceTick{
		"Bitfinex": {Close: 0.60, Timestamp: 3},
		"Bitstamp": {Close: 0.62, Timestamp: 5},
		"Kraken":   {Close: 0.58, Timestamp: 4},
	}

	s := a.Summary(latest, "Bitstamp")
	assert.InDelta(t, 0.60, s.Mean, 1e-9)
	assert.InDelta(t, 0.04, s.Spread, 1e-9)
	assert.Equal(t, 0.58, s.Min)
	assert.Equal(t, 0.62, s.Max)
	assert.Equal(t, int64(5), s.Timestamp)
	assert.Greater(t, s.ActiveZScore, 1.0)
	assert.Len(t, s.Prices, 3)

	empty := a.Summary(map[string]models.MPriceTick{}, "Bitfinex")
	assert.Zero(t, empty.Mean)
	assert.Zero(t, empty.ActiveZScore)
}

func TestChangePercent(t *testing.T) {
	a := NewAnalysisFacade()
	ticks := []models.MPriceTick{{Close: 0.50}, {Close: 0.55}}
	assert.InDelta(t, 0.10, a.ChangePercent(ticks), 1e-9)
	assert.Zero(t, a.ChangePercent(ticks[:1]))
}
