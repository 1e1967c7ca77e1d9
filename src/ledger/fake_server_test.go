package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cove-observer/src/interfaces"
	"cove-observer/src/models"
)

// -----------------------------------------------------------------------------
// fakeLedger is an in-memory ledger server. Every Dial opens a new fakeConn.
// -----------------------------------------------------------------------------

// reply describes how the fake answers a command. A nil reply leaves the
// request unanswered.
type reply struct {
	result interface{}
	code   string
}

type fakeLedger struct {
	mu       sync.Mutex
	conns    []*fakeConn
	handler  func(command string, req map[string]interface{}) *reply
	failDial int // fail this many dials before succeeding
	gate     chan struct{}

	dials atomic.Int32
}

func newFakeLedger() *fakeLedger {
	l := &fakeLedger{}
	l.handler = l.defaultHandler
	return l
}

func (l *fakeLedger) defaultHandler(command string, req map[string]interface{}) *reply {
	switch command {
	case "subscribe", "unsubscribe":
		return &reply{result: map[string]interface{}{}}
	case "server_info":
		return &reply{result: map[string]interface{}{
			"info": map[string]interface{}{
				"validated_ledger": map[string]interface{}{"reserve_base_xrp": 1, "seq": 100},
			},
		}}
	default:
		return &reply{code: "unknownCmd"}
	}
}

func (l *fakeLedger) setHandler(h func(command string, req map[string]interface{}) *reply) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *fakeLedger) Dial(ctx context.Context, url string) (interfaces.ISocket, error) {
	n := l.dials.Add(1)

	l.mu.Lock()
	gate := l.gate
	fail := int(n) <= l.failDial
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("connection refused")
	}

	c := &fakeConn{ledger: l, frames: make(chan []byte, 256), done: make(chan struct{})}
	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()
	return c, nil
}

func (l *fakeLedger) conn(i int) *fakeConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 {
		i = len(l.conns) + i
	}
	if i < 0 || i >= len(l.conns) {
		return nil
	}
	return l.conns[i]
}

func (l *fakeLedger) connCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// -----------------------------------------------------------------------------

type fakeConn struct {
	ledger *fakeLedger
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	requests []map[string]interface{}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.done:
		return errors.New("use of closed connection")
	default:
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var req map[string]interface{}
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	command, _ := req["command"].(string)
	c.ledger.mu.Lock()
	handler := c.ledger.handler
	c.ledger.mu.Unlock()

	r := handler(command, req)
	if r == nil {
		return nil
	}
	resp := map[string]interface{}{"id": req["id"], "type": "response"}
	if r.code != "" {
		resp["status"] = "error"
		resp["error"] = r.code
		resp["error_message"] = r.code + " from fake"
	} else {
		resp["status"] = "success"
		resp["result"] = r.result
	}
	c.push(resp)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// push sends an unsolicited message to the client
func (c *fakeConn) push(msg interface{}) {
	raw, _ := json.Marshal(msg)
	select {
	case c.frames <- raw:
	case <-c.done:
	}
}

// drop simulates the server closing the socket
func (c *fakeConn) drop() {
	c.Close()
}

func (c *fakeConn) count(command string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r["command"] == command {
			n++
		}
	}
	return n
}

func (c *fakeConn) requestsFor(command string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, r := range c.requests {
		if r["command"] == command {
			out = append(out, r)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

const (
	addrGenesis = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	addrZero    = "rrrrrrrrrrrrrrrrrrrrrhoLvTp"
)

var testEndpoint = models.MNetworkEndpoint{
	ID:          "testnet-fake",
	DisplayName: "Fake testnet",
	URL:         "wss://fake.test",
	Kind:        models.KindTestnet,
}

func fastLedgerOptions() Options {
	return Options{
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		ConnectTimeout:    time.Second,
		RequestTimeout:    200 * time.Millisecond,
	}
}

// collect buffers the events of a bus matching kind
func collect(bus interface {
	Subscribe(func(models.MEvent)) func()
}, kind models.EventKind) chan models.MEvent {
	ch := make(chan models.MEvent, 64)
	bus.Subscribe(func(ev models.MEvent) {
		if ev.Kind == kind {
			select {
			case ch <- ev:
			default:
			}
		}
	})
	return ch
}

func await(t *testing.T, ch <-chan models.MEvent) models.MEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.MEvent{}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
