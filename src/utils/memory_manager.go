package utils

import (
	"runtime"
	"sort"
	"sync"

	"cove-observer/src/models"
)

// -----------------------------------------------------------------------------
// MemoryManager keeps one bounded tick history per price source.
// -----------------------------------------------------------------------------

type MemoryManager struct {
	DataStreams   map[string]*RingBuffer[models.MPriceTick]
	MaxDataPoints int
	mu            sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMemoryManager(maxDataPoints int) *MemoryManager {
	if maxDataPoints <= 0 {
		maxDataPoints = 1000
	}
	return &MemoryManager{
		DataStreams:   make(map[string]*RingBuffer[models.MPriceTick]),
		MaxDataPoints: maxDataPoints,
	}
}

// -----------------------------------------------------------------------------

// AddDataPoint appends a tick to the source's buffer, creating it on demand
func (mm *MemoryManager) AddDataPoint(source string, tick models.MPriceTick) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	buf, ok := mm.DataStreams[source]
	if !ok {
		buf = NewRingBuffer[models.MPriceTick](mm.MaxDataPoints)
		mm.DataStreams[source] = buf
	}
	buf.Append(tick)
}

// -----------------------------------------------------------------------------

// Latest returns the newest tick for a source
func (mm *MemoryManager) Latest(source string) (models.MPriceTick, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	buf, ok := mm.DataStreams[source]
	if !ok {
		return models.MPriceTick{}, false
	}
	return buf.Last()
}

// -----------------------------------------------------------------------------

// History returns a copy of the source's buffer, oldest first
func (mm *MemoryManager) History(source string) []models.MPriceTick {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	buf, ok := mm.DataStreams[source]
	if !ok {
		return []models.MPriceTick{}
	}
	return buf.GetAll()
}

// -----------------------------------------------------------------------------

// LatestAll returns the newest tick of every source that has one
func (mm *MemoryManager) LatestAll() map[string]models.MPriceTick {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	result := make(map[string]models.MPriceTick, len(mm.DataStreams))
	for source, buf := range mm.DataStreams {
		if tick, ok := buf.Last(); ok {
			result[source] = tick
		}
	}
	return result
}

// -----------------------------------------------------------------------------

// Remove drops a source's history
func (mm *MemoryManager) Remove(source string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.DataStreams, source)
}

// -----------------------------------------------------------------------------

// Sources lists the sources with a buffer, sorted
func (mm *MemoryManager) Sources() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	out := make([]string, 0, len(mm.DataStreams))
	for source := range mm.DataStreams {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// TotalPoints counts buffered ticks across all sources
func (mm *MemoryManager) TotalPoints() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	total := 0
	for _, buf := range mm.DataStreams {
		total += buf.Size()
	}
	return total
}

// -----------------------------------------------------------------------------

// GetProcessMemoryMB gets current heap usage in MB
func (mm *MemoryManager) GetProcessMemoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / 1024 / 1024
}

