package ledger

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// balanceLedger answers account_info from a mutable balance table
type balanceLedger struct {
	*fakeLedger
	mu       sync.Mutex
	balances map[string]int64
	failing  bool
}

func newBalanceLedger() *balanceLedger {
	b := &balanceLedger{fakeLedger: newFakeLedger(), balances: map[string]int64{}}
	b.setHandler(func(command string, req map[string]interface{}) *reply {
		if command != "account_info" {
			return b.defaultHandler(command, req)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failing {
			return &reply{code: "tooBusy"}
		}
		drops, ok := b.balances[req["account"].(string)]
		if !ok {
			return &reply{code: CodeAccountNotFound}
		}
		return &reply{result: map[string]interface{}{
			"account_data": map[string]interface{}{"Balance": strconv.FormatInt(drops, 10)},
		}}
	})
	return b
}

func (b *balanceLedger) set(addr string, drops int64) {
	b.mu.Lock()
	b.balances[addr] = drops
	b.mu.Unlock()
}

func (b *balanceLedger) fail(on bool) {
	b.mu.Lock()
	b.failing = on
	b.mu.Unlock()
}

func connectedService(t *testing.T, l *balanceLedger, poll time.Duration) (*ConnectionManager, *BalanceService) {
	t.Helper()
	m := NewConnectionManager(l, fastLedgerOptions(), nil)
	svc := NewBalanceService(m, nil, models.MBalanceConfig{MaxRetries: 3, ReserveDrops: models.DefaultReserveDrops}, nil)
	svc.SetPollInterval(poll)
	require.NoError(t, m.Connect(context.Background(), testEndpoint))
	t.Cleanup(func() {
		svc.Close()
		m.Disconnect()
	})
	return m, svc
}

type updates struct {
	ch    chan models.MAccountBalance
	count atomic.Int32
}

func newUpdates() *updates {
	return &updates{ch: make(chan models.MAccountBalance, 64)}
}

func (u *updates) fn(b models.MAccountBalance) {
	u.count.Add(1)
	u.ch <- b
}

func (u *updates) next(t *testing.T) models.MAccountBalance {
	t.Helper()
	select {
	case b := <-u.ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no balance update")
		return models.MAccountBalance{}
	}
}

// -----------------------------------------------------------------------------

func TestGetBalance(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 25_000_000)
	l.set(addrZero, 9_999_999)
	_, svc := connectedService(t, l, time.Hour)

	bal, err := svc.GetBalance(context.Background(), addrGenesis)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), bal.AmountMinorUnits)
	assert.True(t, bal.IsActivated)

	bal, err = svc.GetBalance(context.Background(), addrZero)
	require.NoError(t, err)
	assert.False(t, bal.IsActivated, "one drop below the reserve")

	l.mu.Lock()
	delete(l.balances, addrZero)
	l.mu.Unlock()
	bal, err = svc.GetBalance(context.Background(), addrZero)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.AmountMinorUnits)
	assert.False(t, bal.IsActivated)

	_, err = svc.GetBalance(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, helpers.ErrInvalidAddress)
}

func TestLiveReserveOverride(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 5_000_000)
	_, svc := connectedService(t, l, time.Hour)

	bal, err := svc.GetBalance(context.Background(), addrGenesis)
	require.NoError(t, err)
	assert.False(t, bal.IsActivated, "static 10 XRP threshold")

	require.NoError(t, svc.RefreshReserve(context.Background()))
	live, ok := svc.Reserve().Live()
	require.True(t, ok)
	assert.Equal(t, int64(1_000_000), live)

	bal, _ = svc.GetBalance(context.Background(), addrGenesis)
	assert.False(t, bal.IsActivated, "static value wins unless live is preferred")

	svc.Reserve().PreferLive = true
	bal, _ = svc.GetBalance(context.Background(), addrGenesis)
	assert.True(t, bal.IsActivated)
}

func TestCheckSendKeepsReserve(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 25_000_000)
	_, svc := connectedService(t, l, time.Hour)
	ctx := context.Background()

	bal, err := svc.CheckSend(ctx, addrGenesis, 15_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), bal.AmountMinorUnits)

	_, err = svc.CheckSend(ctx, addrGenesis, 15_000_001)
	assert.ErrorIs(t, err, helpers.ErrInsufficientBalance, "would dip into the 10 XRP reserve")

	_, err = svc.CheckSend(ctx, addrGenesis, 0)
	assert.ErrorIs(t, err, helpers.ErrInvalidAmount)

	_, err = svc.CheckSend(ctx, addrZero, 1)
	assert.ErrorIs(t, err, helpers.ErrInsufficientBalance, "unfunded account")

	_, err = svc.CheckSend(ctx, "not-an-address", 1)
	assert.ErrorIs(t, err, helpers.ErrInvalidAddress)
}

func TestSubscribeDeliversOnPollAndTransaction(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 20_000_000)
	_, svc := connectedService(t, l, time.Hour)

	u := newUpdates()
	unsubscribe, err := svc.Subscribe(context.Background(), addrGenesis, u.fn)
	require.NoError(t, err)
	defer unsubscribe()

	first := u.next(t)
	assert.Equal(t, int64(20_000_000), first.AmountMinorUnits)
	assert.Equal(t, 1, l.conn(0).count("subscribe"))

	l.set(addrGenesis, 45_000_000)
	l.conn(0).push(map[string]interface{}{
		"type": "transaction",
		"transaction": map[string]interface{}{
			"Account": addrZero, "Destination": addrGenesis, "TransactionType": "Payment", "hash": "T1",
		},
	})
	assert.Equal(t, int64(45_000_000), u.next(t).AmountMinorUnits)

	// unrelated transactions do not trigger a check
	before := l.conn(0).count("account_info")
	l.conn(0).push(map[string]interface{}{
		"type":        "transaction",
		"transaction": map[string]interface{}{"Account": addrZero, "Destination": addrZero, "hash": "T2"},
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, l.conn(0).count("account_info"))

	latest, ok := svc.Latest(addrGenesis)
	require.True(t, ok)
	assert.Equal(t, int64(45_000_000), latest.AmountMinorUnits)
}

func TestPollFallback(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 20_000_000)
	_, svc := connectedService(t, l, 10*time.Millisecond)

	u := newUpdates()
	unsubscribe, err := svc.Subscribe(context.Background(), addrGenesis, u.fn)
	require.NoError(t, err)
	defer unsubscribe()
	u.next(t)

	l.set(addrGenesis, 21_000_000)
	assert.Equal(t, int64(21_000_000), u.next(t).AmountMinorUnits)
}

func TestUnsubscribeIsIdempotentAndFinal(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 20_000_000)
	m, svc := connectedService(t, l, 5*time.Millisecond)

	u := newUpdates()
	unsubscribe, err := svc.Subscribe(context.Background(), addrGenesis, u.fn)
	require.NoError(t, err)
	u.next(t)

	unsubscribe()
	unsubscribe()
	delivered := u.count.Load()

	l.set(addrGenesis, 99_000_000)
	l.conn(0).push(map[string]interface{}{
		"type":        "transaction",
		"transaction": map[string]interface{}{"Account": addrGenesis, "hash": "T3"},
	})
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, delivered, u.count.Load(), "no update after unsubscribe")
	assert.Equal(t, 1, l.conn(0).count("unsubscribe"))
	assert.Empty(t, svc.Watched())
	assert.Empty(t, m.Subscriptions())
}

func TestUnsubscribeWhileDisconnectedIsTolerated(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 20_000_000)
	m, svc := connectedService(t, l, time.Hour)

	u := newUpdates()
	unsubscribe, err := svc.Subscribe(context.Background(), addrGenesis, u.fn)
	require.NoError(t, err)
	u.next(t)

	require.NoError(t, m.Disconnect())
	assert.NotPanics(t, unsubscribe)
	assert.Empty(t, svc.Watched())
}

func TestResubscribeReplacesExistingWatch(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 20_000_000)
	_, svc := connectedService(t, l, time.Hour)

	first := newUpdates()
	_, err := svc.Subscribe(context.Background(), addrGenesis, first.fn)
	require.NoError(t, err)
	first.next(t)

	second := newUpdates()
	unsubscribe, err := svc.Subscribe(context.Background(), addrGenesis, second.fn)
	require.NoError(t, err)
	defer unsubscribe()
	second.next(t)
	delivered := first.count.Load()

	l.set(addrGenesis, 30_000_000)
	l.conn(0).push(map[string]interface{}{
		"type":        "transaction",
		"transaction": map[string]interface{}{"Destination": addrGenesis, "hash": "T4"},
	})
	assert.Equal(t, int64(30_000_000), second.next(t).AmountMinorUnits)
	assert.Equal(t, delivered, first.count.Load())
	assert.Equal(t, []string{addrGenesis}, svc.Watched())
}

func TestRepeatedPollFailuresStopTheWatch(t *testing.T) {
	l := newBalanceLedger()
	l.fail(true)
	_, svc := connectedService(t, l, 5*time.Millisecond)
	terminal := collect(svc.Events(), models.EventMaxRetriesReached)
	failures := collect(svc.Events(), models.EventError)

	_, err := svc.Subscribe(context.Background(), addrGenesis, newUpdates().fn)
	require.NoError(t, err)

	ev := await(t, terminal)
	assert.Equal(t, addrGenesis, ev.Source)
	var exhausted *helpers.ExhaustedRetriesError
	require.ErrorAs(t, ev.Err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, failures, 3)

	assert.Empty(t, svc.Watched())
	checks := l.conn(0).count("account_info")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, checks, l.conn(0).count("account_info"), "polling stopped")
}

func TestWatchesResumeAfterReconnect(t *testing.T) {
	l := newBalanceLedger()
	l.set(addrGenesis, 20_000_000)
	m, svc := connectedService(t, l, time.Hour)
	connected := collect(m.Events(), models.EventConnected)

	u := newUpdates()
	unsubscribe, err := svc.Subscribe(context.Background(), addrGenesis, u.fn)
	require.NoError(t, err)
	defer unsubscribe()
	u.next(t)

	l.set(addrGenesis, 33_000_000)
	l.conn(0).drop()
	await(t, connected)

	assert.Equal(t, int64(33_000_000), u.next(t).AmountMinorUnits)
	assert.Equal(t, 1, l.conn(1).count("subscribe"), "account subscription restored once")
}
