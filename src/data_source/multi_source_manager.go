package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cove-observer/src/analysis"
	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"
	"cove-observer/src/utils"

	"golang.org/x/sync/errgroup"
)

// MultiSourceManager owns every exchange adapter, keeps a bounded history
// per source and re-publishes adapter events on one bus.
type MultiSourceManager struct {
	Sources  map[string]interfaces.IExchangeAdapter
	Logger   *logger.Logger
	mu       sync.RWMutex
	history  *utils.MemoryManager
	events   *utils.EventBus[models.MEvent]
	analyzer *analysis.AnalysisFacade
	unsubs   map[string]func()
	active   string
	ctx      context.Context // non-nil while connected
}

// liveCtxLocked returns the context sources run under, or nil once it ended
func (m *MultiSourceManager) liveCtxLocked() context.Context {
	if m.ctx != nil && m.ctx.Err() != nil {
		m.ctx = nil
	}
	return m.ctx
}

// -----------------------------------------------------------------------------

func NewMultiSourceManager(sources []interfaces.IExchangeAdapter, historyCapacity int, log *logger.Logger) *MultiSourceManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	m := &MultiSourceManager{
		Sources:  make(map[string]interfaces.IExchangeAdapter),
		Logger:   log,
		history:  utils.NewMemoryManager(historyCapacity),
		events:   utils.NewEventBus[models.MEvent](log),
		analyzer: analysis.NewAnalysisFacade(),
		unsubs:   make(map[string]func()),
	}

	for _, s := range sources {
		m.attachLocked(s)
	}
	if len(sources) > 0 {
		m.active = sources[0].Name()
	}

	return m
}

// -----------------------------------------------------------------------------

func (m *MultiSourceManager) attachLocked(source interfaces.IExchangeAdapter) {
	name := source.Name()
	m.Sources[name] = source
	m.unsubs[name] = source.Events().Subscribe(func(ev models.MEvent) {
		if ev.Kind == models.EventPrice && ev.Tick != nil {
			m.history.AddDataPoint(name, *ev.Tick)
		}
		m.events.Publish(ev)
	})
}

// -----------------------------------------------------------------------------

// Events carries the events of every source, tagged with the source name
func (m *MultiSourceManager) Events() *utils.EventBus[models.MEvent] {
	return m.events
}

// -----------------------------------------------------------------------------

// AddSource adds a new source and connects it if the manager is connected
func (m *MultiSourceManager) AddSource(source interfaces.IExchangeAdapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := source.Name()
	if _, exists := m.Sources[name]; exists {
		return fmt.Errorf("source %s already exists", name)
	}

	m.attachLocked(source)
	if m.active == "" {
		m.active = name
	}
	m.Logger.Info("Added source: %s", name)

	if ctx := m.liveCtxLocked(); ctx != nil {
		if err := source.Connect(ctx); err != nil {
			return fmt.Errorf("failed to start source %s: %w", name, err)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// RemoveSource disconnects and removes a source along with its history
func (m *MultiSourceManager) RemoveSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, exists := m.Sources[name]
	if !exists {
		return fmt.Errorf("source %s not found", name)
	}

	if err := source.Disconnect(); err != nil {
		m.Logger.Error("Error stopping source %s: %v", name, err)
	}
	if unsub := m.unsubs[name]; unsub != nil {
		unsub()
	}

	delete(m.unsubs, name)
	delete(m.Sources, name)
	m.history.Remove(name)
	if m.active == name {
		m.active = ""
		for _, n := range m.sortedNamesLocked() {
			m.active = n
			break
		}
	}

	m.Logger.Info("Removed source: %s", name)
	return nil
}

// -----------------------------------------------------------------------------

// GetSource retrieves a source by name
func (m *MultiSourceManager) GetSource(name string) (interfaces.IExchangeAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	source, exists := m.Sources[name]
	if !exists {
		return nil, fmt.Errorf("source %s: %w", name, helpers.ErrUnknownSource)
	}
	return source, nil
}

// -----------------------------------------------------------------------------

// GetAllSources returns all sources ordered by name
func (m *MultiSourceManager) GetAllSources() []interfaces.IExchangeAdapter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]interfaces.IExchangeAdapter, 0, len(m.Sources))
	for _, name := range m.sortedNamesLocked() {
		list = append(list, m.Sources[name])
	}
	return list
}

func (m *MultiSourceManager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.Sources))
	for name := range m.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------

// SetActiveSource picks the source GetLastPrice("") answers for
func (m *MultiSourceManager) SetActiveSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Sources[name]; !ok {
		return fmt.Errorf("source %s: %w", name, helpers.ErrUnknownSource)
	}
	m.active = name
	m.Logger.Info("Active price source is now %s", name)
	return nil
}

// ActiveSource returns the selected source name
func (m *MultiSourceManager) ActiveSource() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// -----------------------------------------------------------------------------

// GetLastPrice returns the newest tick of source, or of the active source
// when source is empty
func (m *MultiSourceManager) GetLastPrice(source string) (models.MPriceTick, bool) {
	if source == "" {
		source = m.ActiveSource()
	}
	if tick, ok := m.history.Latest(source); ok {
		return tick, true
	}

	m.mu.RLock()
	adapter, ok := m.Sources[source]
	m.mu.RUnlock()
	if !ok {
		return models.MPriceTick{}, false
	}
	return adapter.GetLastData()
}

// -----------------------------------------------------------------------------

// GetHistory returns a copy of a source's buffered ticks, oldest first
func (m *MultiSourceManager) GetHistory(source string) []models.MPriceTick {
	return m.history.History(source)
}

// -----------------------------------------------------------------------------

// Seed preloads history, for example from storage at startup. Ticks are
// appended in the order given.
func (m *MultiSourceManager) Seed(source string, ticks []models.MPriceTick) {
	for _, t := range ticks {
		m.history.AddDataPoint(source, t)
	}
}

// -----------------------------------------------------------------------------

// LatestAll returns the newest tick of each source that has one
func (m *MultiSourceManager) LatestAll() map[string]models.MPriceTick {
	return m.history.LatestAll()
}

// -----------------------------------------------------------------------------

// BufferStats reports how many ticks are buffered and the current heap size
func (m *MultiSourceManager) BufferStats() (points int, heapMB float64) {
	return m.history.TotalPoints(), m.history.GetProcessMemoryMB()
}

// -----------------------------------------------------------------------------

// Summary compares the newest price of every source
func (m *MultiSourceManager) Summary() models.MPriceSummary {
	return m.analyzer.Summary(m.history.LatestAll(), m.ActiveSource())
}

// -----------------------------------------------------------------------------

// Candles resamples a source's history into OHLCV buckets
func (m *MultiSourceManager) Candles(source string, window time.Duration) ([]models.MCandle, error) {
	if _, err := m.GetSource(source); err != nil {
		return nil, err
	}
	return m.analyzer.Candles(source, m.history.History(source), window), nil
}

// -----------------------------------------------------------------------------

// ConnectAll connects every source. Calling it again while connected only
// nudges sources that have stopped. Once the context of the earlier call has
// ended, ctx takes its place.
func (m *MultiSourceManager) ConnectAll(ctx context.Context) error {
	m.mu.Lock()
	if live := m.liveCtxLocked(); live != nil {
		ctx = live
	} else {
		m.ctx = ctx
	}
	sources := make([]interfaces.IExchangeAdapter, 0, len(m.Sources))
	for _, name := range m.sortedNamesLocked() {
		sources = append(sources, m.Sources[name])
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := src.Connect(ctx); err != nil {
				m.Logger.Error("Failed to start source %s: %v", src.Name(), err)
				return fmt.Errorf("connect %s: %w", src.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// -----------------------------------------------------------------------------

// DisconnectAll stops every source
func (m *MultiSourceManager) DisconnectAll() error {
	m.mu.Lock()
	m.ctx = nil
	sources := make([]interfaces.IExchangeAdapter, 0, len(m.Sources))
	for _, s := range m.Sources {
		sources = append(sources, s)
	}
	m.mu.Unlock()

	m.Logger.Info("Stopping all price sources...")
	var g errgroup.Group
	for _, src := range sources {
		g.Go(src.Disconnect)
	}
	return g.Wait()
}

// -----------------------------------------------------------------------------

// Name returns "MultiSourceManager"
func (m *MultiSourceManager) Name() string {
	return "MultiSourceManager"
}
