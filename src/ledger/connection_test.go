package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/models"
	"cove-observer/src/network"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRequestBeforeConnectIsNotConnected(t *testing.T) {
	m := NewConnectionManager(newFakeLedger(), fastLedgerOptions(), nil)

	_, err := m.Request(context.Background(), "server_info", nil)
	assert.True(t, helpers.IsKind(err, helpers.NotConnected))
	assert.False(t, m.IsConnected())
	assert.Equal(t, models.StateDisconnected, m.State())
}

func TestRequestResultsAndTypedErrors(t *testing.T) {
	l := newFakeLedger()
	l.setHandler(func(command string, req map[string]interface{}) *reply {
		switch command {
		case "account_info":
			return &reply{code: "actNotFound"}
		case "slow":
			return nil
		default:
			return l.defaultHandler(command, req)
		}
	})
	m := NewConnectionManager(l, fastLedgerOptions(), nil)
	require.NoError(t, m.Connect(context.Background(), testEndpoint))
	defer m.Disconnect()

	result, err := m.Request(context.Background(), "server_info", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.GetBytes(result, "info.validated_ledger.reserve_base_xrp").Int())

	_, err = m.Request(context.Background(), "account_info", map[string]interface{}{"account": addrGenesis})
	assert.True(t, helpers.IsKind(err, helpers.RequestFailed))
	assert.True(t, helpers.HasCode(err, "actNotFound"))
	assert.ErrorContains(t, err, "account_info")

	_, err = m.Request(context.Background(), "slow", nil)
	assert.True(t, helpers.IsKind(err, helpers.Timeout), "got %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Request(ctx, "slow", nil)
	assert.True(t, helpers.IsKind(err, helpers.RequestFailed))

	sent := l.conn(0).requestsFor("account_info")
	require.Len(t, sent, 1)
	assert.Equal(t, addrGenesis, sent[0]["account"])
	assert.NotNil(t, sent[0]["id"])
	assert.Equal(t, 0, m.Status().PendingRequests)
}

// -----------------------------------------------------------------------------

func TestConcurrentConnectSharesOneDial(t *testing.T) {
	l := newFakeLedger()
	l.gate = make(chan struct{})
	m := NewConnectionManager(l, fastLedgerOptions(), nil)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Connect(context.Background(), testEndpoint)
		}()
	}

	eventually(t, func() bool { return l.dials.Load() == 1 }, "dial never started")
	time.Sleep(10 * time.Millisecond)
	close(l.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), l.dials.Load())
	assert.True(t, m.IsConnected())

	require.NoError(t, m.Connect(context.Background(), testEndpoint))
	assert.Equal(t, int32(1), l.dials.Load(), "already connected")
	require.NoError(t, m.Disconnect())
}

func TestReconnectReplaysEachSubscriptionOnce(t *testing.T) {
	l := newFakeLedger()
	m := NewConnectionManager(l, fastLedgerOptions(), nil)
	connected := collect(m.Events(), models.EventConnected)
	disconnected := collect(m.Events(), models.EventDisconnected)

	var hookRuns atomic.Int32
	m.AddPostReconnectHook(func(ctx context.Context) error {
		hookRuns.Add(1)
		return nil
	})

	require.NoError(t, m.Connect(context.Background(), testEndpoint))
	await(t, connected)
	require.NoError(t, m.Subscribe(context.Background(), models.AccountSubscription(addrGenesis)))
	require.NoError(t, m.Subscribe(context.Background(), models.StreamSubscription("ledger")))
	assert.Equal(t, 2, l.conn(0).count("subscribe"))
	assert.Equal(t, int32(0), hookRuns.Load(), "hooks only run after a reconnect")

	l.conn(0).drop()
	ev := await(t, disconnected)
	assert.Equal(t, models.StateReconnecting, ev.State)

	ev = await(t, connected)
	require.NotNil(t, ev.Endpoint)
	assert.Equal(t, testEndpoint.ID, ev.Endpoint.ID)
	require.Equal(t, 2, l.connCount())

	second := l.conn(1)
	subs := second.requestsFor("subscribe")
	require.Len(t, subs, 2)
	keys := map[string]int{}
	for _, s := range subs {
		if accts, ok := s["accounts"].([]interface{}); ok {
			keys["accounts:"+accts[0].(string)]++
		}
		if streams, ok := s["streams"].([]interface{}); ok {
			keys["streams:"+streams[0].(string)]++
		}
	}
	assert.Equal(t, map[string]int{"accounts:" + addrGenesis: 1, "streams:ledger": 1}, keys)
	assert.Equal(t, int32(1), hookRuns.Load())
	assert.Equal(t, int64(1), m.Status().Reconnects)
	for _, s := range m.Subscriptions() {
		assert.True(t, s.Active, s.Key())
	}

	require.NoError(t, m.Disconnect())
}

func TestSubscribeRacingConnectIsSentOnce(t *testing.T) {
	l := newFakeLedger()
	gate := make(chan struct{})
	l.gate = gate
	m := NewConnectionManager(l, fastLedgerOptions(), nil)
	connected := collect(m.Events(), models.EventConnected)

	go m.Connect(context.Background(), testEndpoint)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == n/2 {
				close(gate)
			}
			assert.NoError(t, m.Subscribe(context.Background(), models.StreamSubscription(fmt.Sprintf("s%d", i))))
		}(i)
	}
	wg.Wait()
	await(t, connected)

	sent := map[string]int{}
	for _, req := range l.conn(0).requestsFor("subscribe") {
		streams := req["streams"].([]interface{})
		sent[streams[0].(string)]++
	}
	require.Len(t, sent, n)
	for key, count := range sent {
		assert.Equal(t, 1, count, key)
	}

	require.NoError(t, m.Disconnect())
}

func TestFailedConnectKeepsRetryingWithoutLimit(t *testing.T) {
	l := newFakeLedger()
	l.failDial = 6 // well past the exchange adapters' cap of three retries
	m := NewConnectionManager(l, fastLedgerOptions(), nil)
	connected := collect(m.Events(), models.EventConnected)

	err := m.Connect(context.Background(), testEndpoint)
	var ce *helpers.ConnectionError
	require.ErrorAs(t, err, &ce)

	ep, ok := m.CurrentEndpoint()
	require.True(t, ok, "a failed connect keeps the endpoint targeted")
	assert.Equal(t, testEndpoint.ID, ep.ID)

	await(t, connected)
	assert.Equal(t, int32(7), l.dials.Load())
	assert.True(t, m.IsConnected())
	require.NoError(t, m.Disconnect())
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	l := newFakeLedger()
	l.failDial = 1 << 30
	m := NewConnectionManager(l, fastLedgerOptions(), nil)

	_ = m.Connect(context.Background(), testEndpoint)
	eventually(t, func() bool { return l.dials.Load() >= 3 }, "no retries")
	require.NoError(t, m.Disconnect())

	time.Sleep(10 * time.Millisecond)
	n := l.dials.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, l.dials.Load())

	_, ok := m.CurrentEndpoint()
	assert.False(t, ok)
	assert.Equal(t, models.StateDisconnected, m.State())
}

func TestSwitchingEndpointTearsDownOldSocket(t *testing.T) {
	l := newFakeLedger()
	l.setHandler(func(command string, req map[string]interface{}) *reply {
		if command == "slow" {
			return nil
		}
		return l.defaultHandler(command, req)
	})
	opts := fastLedgerOptions()
	opts.RequestTimeout = 2 * time.Second
	m := NewConnectionManager(l, opts, nil)
	require.NoError(t, m.Connect(context.Background(), testEndpoint))

	failed := make(chan error, 1)
	go func() {
		_, err := m.Request(context.Background(), "slow", nil)
		failed <- err
	}()
	eventually(t, func() bool { return l.conn(0).count("slow") == 1 }, "request not sent")

	other := models.MNetworkEndpoint{ID: "devnet-fake", DisplayName: "Fake devnet", URL: "wss://dev.fake.test", Kind: models.KindDevnet}
	require.NoError(t, m.Connect(context.Background(), other))

	select {
	case err := <-failed:
		assert.True(t, helpers.IsNotConnected(err), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("pending request was not failed on teardown")
	}

	select {
	case <-l.conn(0).done:
	default:
		t.Fatal("old socket still open")
	}
	ep, _ := m.CurrentEndpoint()
	assert.Equal(t, "devnet-fake", ep.ID)
	assert.Equal(t, 2, l.connCount())
	require.NoError(t, m.Disconnect())
}

func TestTransactionStreamIsPublished(t *testing.T) {
	l := newFakeLedger()
	m := NewConnectionManager(l, fastLedgerOptions(), nil)
	txs := collect(m.Events(), models.EventTransaction)
	require.NoError(t, m.Connect(context.Background(), testEndpoint))
	defer m.Disconnect()

	l.conn(0).push(map[string]interface{}{
		"type":         "ledgerClosed",
		"ledger_index": 812,
	})
	l.conn(0).push(map[string]interface{}{
		"type":          "transaction",
		"engine_result": "tesSUCCESS",
		"ledger_index":  813,
		"validated":     true,
		"transaction": map[string]interface{}{
			"Account":         addrZero,
			"Destination":     addrGenesis,
			"TransactionType": "Payment",
			"Amount":          "25000000",
			"Fee":             "12",
			"hash":            "ABC123",
			"date":            0,
		},
	})

	ev := await(t, txs)
	tx := ev.Transaction
	require.NotNil(t, tx)
	assert.Equal(t, "ABC123", tx.Hash)
	assert.Equal(t, "Payment", tx.TransactionType)
	assert.Equal(t, "25000000", tx.AmountDrops)
	assert.Equal(t, int64(813), tx.LedgerIndex)
	assert.Equal(t, int64(946684800000), tx.CloseTimestamp)
	assert.True(t, tx.Involves(addrGenesis))
	assert.Equal(t, int64(812), m.Status().LastLedgerIndex)
}

// -----------------------------------------------------------------------------
// real websocket round trip through network.WSDialer
// -----------------------------------------------------------------------------

func TestConnectionOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]interface{}
			if json.Unmarshal(raw, &req) != nil {
				return
			}
			resp := map[string]interface{}{"id": req["id"], "type": "response", "status": "success"}
			switch req["command"] {
			case "account_info":
				resp["result"] = map[string]interface{}{
					"account_data": map[string]interface{}{"Account": req["account"], "Balance": "12500000"},
				}
			default:
				resp["result"] = map[string]interface{}{}
			}
			if conn.WriteJSON(resp) != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ep := models.MNetworkEndpoint{
		ID:          "local",
		DisplayName: "Local",
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		Kind:        models.KindCustom,
	}
	m := NewConnectionManager(network.NewWSDialer(time.Second, "cove-observer-test"), fastLedgerOptions(), nil)
	require.NoError(t, m.Connect(context.Background(), ep))
	defer m.Disconnect()

	bal, err := FetchBalance(context.Background(), m, NewReservePolicy(0, false), addrGenesis)
	require.NoError(t, err)
	assert.Equal(t, int64(12500000), bal.AmountMinorUnits)
	assert.True(t, bal.IsActivated)
	assert.Equal(t, "12.5", bal.Amount().String())
}
