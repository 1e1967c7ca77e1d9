package analysis

import (
	"sort"
	"time"

	"cove-observer/src/analysis/core"
	"cove-observer/src/models"
)

// AnalysisFacade derives summaries and candles from tick history
type AnalysisFacade struct {
	resampler *TimeSeriesResampler
}

// -----------------------------------------------------------------------------

func NewAnalysisFacade() *AnalysisFacade {
	return &AnalysisFacade{resampler: &TimeSeriesResampler{}}
}

// -----------------------------------------------------------------------------

// Summary compares the latest close of every source
func (a *AnalysisFacade) Summary(latest map[string]models.MPriceTick, active string) models.MPriceSummary {
	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)

	prices := make(map[string]float64, len(latest))
	closes := make([]float64, 0, len(latest))
	var newest int64
	for _, name := range names {
		tick := latest[name]
		prices[name] = tick.Close
		closes = append(closes, tick.Close)
		if tick.Timestamp > newest {
			newest = tick.Timestamp
		}
	}

	stats := core.Describe(closes)
	summary := models.MPriceSummary{
		ActiveSource: active,
		Prices:       prices,
		Mean:         stats.Mean,
		StdDev:       stats.Std,
		Min:          stats.Min,
		Max:          stats.Max,
		Spread:       stats.Max - stats.Min,
		Timestamp:    newest,
	}
	if tick, ok := latest[active]; ok {
		summary.ActiveZScore = core.CalculateZScore(tick.Close, stats.Mean, stats.Std)
	}
	return summary
}

// -----------------------------------------------------------------------------

// Candles buckets ticks into OHLCV windows of the given width
func (a *AnalysisFacade) Candles(source string, ticks []models.MPriceTick, window time.Duration) []models.MCandle {
	width := window.Milliseconds()
	if len(ticks) == 0 || width <= 0 {
		return []models.MCandle{}
	}

	ordered := make([]models.MPriceTick, len(ticks))
	copy(ordered, ticks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	timestamps := make([]int64, len(ordered))
	for i, t := range ordered {
		timestamps[i] = t.Timestamp
	}

	groups := ResampleData(a.resampler, timestamps, ordered, width)
	candles := make([]models.MCandle, 0, len(groups))
	for _, g := range groups {
		closes := make([]float64, len(g.Data))
		volumes := make([]float64, len(g.Data))
		for i, t := range g.Data {
			closes[i] = t.Close
			// each tick repeats its source's rolling volume, keep the last one
			if i == len(g.Data)-1 {
				volumes[i] = t.Volume
			}
		}
		bar := core.ComputeOHLCV(closes, volumes)
		candles = append(candles, models.MCandle{
			SourceID:  source,
			StartTime: g.StartTime,
			EndTime:   g.EndTime,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
			Ticks:     len(g.Data),
		})
	}
	return candles
}

// -----------------------------------------------------------------------------

// ChangePercent returns the fractional move between the first and last tick
func (a *AnalysisFacade) ChangePercent(ticks []models.MPriceTick) float64 {
	if len(ticks) < 2 {
		return 0
	}
	return core.CalculateChangePercent(ticks[len(ticks)-1].Close, ticks[0].Close)
}
