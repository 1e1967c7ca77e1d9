package analysis

import (
	"sort"
)

// TimeSeriesResampler handles time-based resampling calculations.
type TimeSeriesResampler struct{}

// WindowGroup lists the indices that fall in [StartTime, EndTime)
type WindowGroup struct {
	Indices   []int
	StartTime int64
	EndTime   int64
}

// -----------------------------------------------------------------------------

// ResampleIndices groups sorted timestamps into fixed windows aligned to
// multiples of window. Empty windows are skipped.
func (r *TimeSeriesResampler) ResampleIndices(timestamps []int64, window int64) []WindowGroup {
	if len(timestamps) == 0 || window <= 0 {
		return []WindowGroup{}
	}

	sorted := sort.SliceIsSorted(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	if !sorted {
		cp := make([]int64, len(timestamps))
		copy(cp, timestamps)
		sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
		timestamps = cp
	}

	var results []WindowGroup
	for i := 0; i < len(timestamps); {
		start := alignDown(timestamps[i], window)
		end := start + window

		// first index at or beyond the window end
		j := i + sort.Search(len(timestamps)-i, func(k int) bool {
			return timestamps[i+k] >= end
		})

		indices := make([]int, j-i)
		for k := range indices {
			indices[k] = i + k
		}
		results = append(results, WindowGroup{Indices: indices, StartTime: start, EndTime: end})
		i = j
	}

	return results
}

func alignDown(ts, window int64) int64 {
	aligned := ts - ts%window
	if ts < 0 && ts%window != 0 {
		aligned -= window
	}
	return aligned
}

// -----------------------------------------------------------------------------

// DataGroup holds the items of one window
type DataGroup[T any] struct {
	Data      []T
	StartTime int64
	EndTime   int64
}

// ResampleData returns actual data groupings. data must already be sorted
// by the timestamps passed alongside it.
func ResampleData[T any](r *TimeSeriesResampler, timestamps []int64, data []T, window int64) []DataGroup[T] {
	groups := r.ResampleIndices(timestamps, window)

	results := make([]DataGroup[T], 0, len(groups))
	for _, g := range groups {
		slice := make([]T, 0, len(g.Indices))
		for _, idx := range g.Indices {
			if idx < len(data) {
				slice = append(slice, data[idx])
			}
		}
		results = append(results, DataGroup[T]{Data: slice, StartTime: g.StartTime, EndTime: g.EndTime})
	}

	return results
}
