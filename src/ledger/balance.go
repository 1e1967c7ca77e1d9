package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"
	"cove-observer/src/utils"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// BalanceService keeps at most one watch per address. A watch re-reads the
// balance when a transaction touching the address is streamed and on a fixed
// poll interval. Polling pauses while the ledger connection is down.
// -----------------------------------------------------------------------------

type BalanceService struct {
	conn         interfaces.ILedgerConnection
	reserve      *ReservePolicy
	interval     time.Duration
	maxRetries   int
	checkTimeout time.Duration
	events       *utils.EventBus[models.MEvent]
	Logger       *logger.Logger

	subscribeMu sync.Mutex
	mu          sync.Mutex
	watches     map[string]*watch
	detach      func()
}

var _ interfaces.IBalanceService = (*BalanceService)(nil)

// -----------------------------------------------------------------------------

func NewBalanceService(conn interfaces.ILedgerConnection, reserve *ReservePolicy, cfg models.MBalanceConfig, log *logger.Logger) *BalanceService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if reserve == nil {
		reserve = NewReservePolicy(cfg.ReserveDrops, cfg.PreferLiveReserve)
	}
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	s := &BalanceService{
		conn:         conn,
		reserve:      reserve,
		interval:     interval,
		maxRetries:   maxRetries,
		checkTimeout: 30 * time.Second,
		events:       utils.NewEventBus[models.MEvent](log),
		Logger:       log,
		watches:      make(map[string]*watch),
	}
	s.detach = conn.Events().Subscribe(s.onLedgerEvent)
	return s
}

// SetPollInterval changes the interval used by watches created afterwards
func (s *BalanceService) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Events carries balance, error and maxRetriesReached events
func (s *BalanceService) Events() *utils.EventBus[models.MEvent] {
	return s.events
}

// Reserve exposes the activation policy
func (s *BalanceService) Reserve() *ReservePolicy {
	return s.reserve
}

// -----------------------------------------------------------------------------

func (s *BalanceService) onLedgerEvent(ev models.MEvent) {
	switch ev.Kind {
	case models.EventTransaction:
		if ev.Transaction == nil {
			return
		}
		for _, w := range s.snapshot() {
			if ev.Transaction.Involves(w.address) {
				go w.check("transaction " + ev.Transaction.Hash)
			}
		}
	case models.EventConnected:
		for _, w := range s.snapshot() {
			w.resume()
		}
	case models.EventDisconnected:
		for _, w := range s.snapshot() {
			w.pause()
		}
	}
}

func (s *BalanceService) snapshot() []*watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*watch, 0, len(s.watches))
	for _, w := range s.watches {
		list = append(list, w)
	}
	return list
}

// -----------------------------------------------------------------------------

// GetBalance reads the current balance once
func (s *BalanceService) GetBalance(ctx context.Context, address string) (models.MAccountBalance, error) {
	return FetchBalance(ctx, s.conn, s.reserve, address)
}

// Transactions returns recent account history
func (s *BalanceService) Transactions(ctx context.Context, address string, limit int) ([]models.MLedgerTransaction, error) {
	return FetchTransactions(ctx, s.conn, address, limit)
}

// CheckSend reports whether address can send amountDrops with its current
// balance. The failure is a UserError when the user can fix it.
func (s *BalanceService) CheckSend(ctx context.Context, address string, amountDrops int64) (models.MAccountBalance, error) {
	bal, err := s.GetBalance(ctx, address)
	if err != nil {
		return bal, helpers.ClassifyUserError(err)
	}
	return bal, s.reserve.CheckSpend(bal.AmountMinorUnits, amountDrops)
}

// RefreshReserve pulls the live base reserve from the server
func (s *BalanceService) RefreshReserve(ctx context.Context) error {
	drops, err := s.reserve.Refresh(ctx, s.conn)
	if err != nil {
		return err
	}
	s.Logger.Info("Live base reserve is %s XRP", models.DropsToXRP(drops).String())
	return nil
}

// ReserveDrops is the activation threshold currently in force
func (s *BalanceService) ReserveDrops() int64 {
	return s.reserve.Threshold()
}

// -----------------------------------------------------------------------------

// Subscribe starts watching address and returns a function that stops the
// watch. An existing watch on the same address is stopped first. The stop
// function may be called any number of times; once it has returned onUpdate
// is not called again. onUpdate must not call the stop function itself.
func (s *BalanceService) Subscribe(ctx context.Context, address string, onUpdate func(models.MAccountBalance)) (func(), error) {
	if err := helpers.ValidateClassicAddress(address); err != nil {
		return func() {}, err
	}
	if onUpdate == nil {
		onUpdate = func(models.MAccountBalance) {}
	}

	s.subscribeMu.Lock()
	defer s.subscribeMu.Unlock()

	s.mu.Lock()
	old := s.watches[address]
	interval := s.interval
	s.mu.Unlock()
	if old != nil {
		s.Logger.Debug("Replacing balance watch %s on %s", old.id, address)
		old.close(ctx)
	}

	w := &watch{
		id:       uuid.NewString(),
		address:  address,
		svc:      s,
		interval: interval,
		onUpdate: onUpdate,
	}
	s.mu.Lock()
	s.watches[address] = w
	s.mu.Unlock()

	if err := s.conn.Subscribe(ctx, models.AccountSubscription(address)); err != nil && !helpers.IsNotConnected(err) {
		s.Logger.Warning("Server side subscription for %s failed, relying on polling: %v", address, err)
		s.events.Publish(models.ErrorEvent(address, err))
	}
	if s.conn.IsConnected() {
		w.resume()
	}

	s.Logger.Info("Watching balance of %s (%s)", address, w.id)
	return func() { w.close(context.Background()) }, nil
}

// Watched returns the addresses with an active watch
func (s *BalanceService) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]string, 0, len(s.watches))
	for addr := range s.watches {
		list = append(list, addr)
	}
	sort.Strings(list)
	return list
}

// Latest returns the last balance a watch delivered for address
func (s *BalanceService) Latest(address string) (models.MAccountBalance, bool) {
	s.mu.Lock()
	w := s.watches[address]
	s.mu.Unlock()
	if w == nil {
		return models.MAccountBalance{}, false
	}
	return w.latest()
}

// Close stops every watch and detaches from the ledger connection
func (s *BalanceService) Close() {
	s.detach()
	for _, w := range s.snapshot() {
		w.close(context.Background())
	}
}

// remove drops w from the registry and reports whether it was the current
// watch for its address
func (s *BalanceService) remove(w *watch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watches[w.address] != w {
		return false
	}
	delete(s.watches, w.address)
	return true
}

// -----------------------------------------------------------------------------
// watch
// -----------------------------------------------------------------------------

type watch struct {
	id       string
	address  string
	svc      *BalanceService
	interval time.Duration
	onUpdate func(models.MAccountBalance)

	mu      sync.Mutex
	closed  bool
	stop    chan struct{}
	retries int
	last    *models.MAccountBalance

	deliverMu sync.Mutex
	once      sync.Once
}

// resume starts polling and checks immediately
func (w *watch) resume() {
	w.mu.Lock()
	if w.closed || w.stop != nil {
		w.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	w.stop = stop
	w.mu.Unlock()

	go w.poll(stop)
	go w.check("subscribe")
}

func (w *watch) pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

func (w *watch) poll(stop chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.check("poll")
		}
	}
}

// -----------------------------------------------------------------------------

func (w *watch) check(trigger string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.svc.checkTimeout)
	bal, err := w.svc.GetBalance(ctx, w.address)
	cancel()

	if err != nil {
		w.fail(trigger, err)
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.retries = 0
	changed := w.last == nil ||
		w.last.AmountMinorUnits != bal.AmountMinorUnits ||
		w.last.IsActivated != bal.IsActivated
	if changed {
		b := bal
		w.last = &b
	}
	w.mu.Unlock()

	if changed {
		w.deliver(bal)
	}
}

func (w *watch) fail(trigger string, err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.retries++
	n := w.retries
	limit := w.svc.maxRetries
	if n >= limit {
		// later failures racing this one must not report again
		w.closed = true
	}
	w.mu.Unlock()

	w.svc.Logger.Warning("Balance check (%s) for %s failed (%d/%d): %v", trigger, w.address, n, limit, err)
	w.svc.events.Publish(models.ErrorEvent(w.address, err))

	if n >= limit {
		exhausted := helpers.NewExhaustedRetriesError(
			fmt.Sprintf("Balance updates for %s stopped after %d failed checks", w.address, n), n)
		w.svc.Logger.Error("%v", exhausted)
		w.close(context.Background())
		w.svc.events.Publish(models.MaxRetriesEvent(w.address, exhausted))
	}
}

func (w *watch) deliver(bal models.MAccountBalance) {
	w.deliverMu.Lock()
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.onUpdate(bal)
	}
	w.deliverMu.Unlock()

	if !closed {
		w.svc.events.Publish(models.BalanceEvent(w.address, bal))
	}
}

func (w *watch) latest() (models.MAccountBalance, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return models.MAccountBalance{}, false
	}
	return *w.last, true
}

// -----------------------------------------------------------------------------

// close stops polling and drops the server side subscription. Transport
// errors on the way down are logged, never returned.
func (w *watch) close(ctx context.Context) {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.stop != nil {
			close(w.stop)
			w.stop = nil
		}
		w.mu.Unlock()

		// wait out a delivery that already passed the closed check
		w.deliverMu.Lock()
		w.deliverMu.Unlock()

		if !w.svc.remove(w) {
			return
		}
		err := w.svc.conn.Unsubscribe(ctx, models.AccountSubscription(w.address))
		if err != nil && !helpers.IsTolerableOnTeardown(err) {
			w.svc.Logger.Warning("Unsubscribe %s: %v", w.address, err)
		}
		w.svc.Logger.Info("Stopped watching balance of %s (%s)", w.address, w.id)
	})
}
