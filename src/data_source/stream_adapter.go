package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"
	"cove-observer/src/utils"
)

// -----------------------------------------------------------------------------
// Protocol is the exchange specific half of an adapter: what to send after
// connecting and how to turn frames into ticks. Implementations must be safe
// for concurrent use.
// -----------------------------------------------------------------------------

type Protocol interface {
	URL() string
	SubscribeMessages() []interface{}
	// PingMessage returns nil when the exchange needs no client keep-alive
	PingMessage() interface{}
	// Handle parses one frame. Heartbeats and acks return no ticks and no
	// error. helpers.ErrReconnectRequested forces a reconnect.
	Handle(raw []byte) ([]models.MPriceTick, error)
	// Reset forgets per-connection state such as channel ids
	Reset()
}

// -----------------------------------------------------------------------------

type AdapterOptions struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxRetries        int
	PingInterval      time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultAdapterOptions mirrors the exchange defaults: 5s doubling, three retries
func DefaultAdapterOptions() AdapterOptions {
	return AdapterOptions{
		ReconnectDelay:    5 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		MaxRetries:        3,
		PingInterval:      30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// -----------------------------------------------------------------------------
// StreamAdapter
// -----------------------------------------------------------------------------

type StreamAdapter struct {
	name    string
	proto   Protocol
	dialer  interfaces.IDialer
	opts    AdapterOptions
	backoff *helpers.Backoff
	events  *utils.EventBus[models.MEvent]
	Logger  *logger.Logger

	mu        sync.Mutex
	state     models.ConnectionState
	socket    interfaces.ISocket
	session   uint64
	retries   int
	stopped   bool
	ctx       context.Context
	stopCtx   func() bool
	stopPing  chan struct{}
	lastTick  *models.MPriceTick
	lastError error
}

// -----------------------------------------------------------------------------

func NewStreamAdapter(name string, proto Protocol, dialer interfaces.IDialer, opts AdapterOptions, log *logger.Logger) *StreamAdapter {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &StreamAdapter{
		name:    name,
		proto:   proto,
		dialer:  dialer,
		opts:    opts,
		backoff: helpers.NewBackoff(opts.ReconnectDelay, opts.MaxReconnectDelay),
		events:  utils.NewEventBus[models.MEvent](log),
		Logger:  log,
		state:   models.StateDisconnected,
		stopped: true,
	}
}

// -----------------------------------------------------------------------------

func (a *StreamAdapter) Name() string {
	return a.name
}

func (a *StreamAdapter) Events() *utils.EventBus[models.MEvent] {
	return a.events
}

func (a *StreamAdapter) State() models.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Retries returns the number of consecutive failed connection attempts
func (a *StreamAdapter) Retries() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retries
}

// LastError returns the most recent connection failure
func (a *StreamAdapter) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

func (a *StreamAdapter) GetLastData() (models.MPriceTick, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastTick == nil {
		return models.MPriceTick{}, false
	}
	return *a.lastTick, true
}

// -----------------------------------------------------------------------------

// Connect opens the stream in the background. It is a no-op while a socket
// is open, being opened, or waiting on a retry. Cancelling ctx disconnects.
func (a *StreamAdapter) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// a session whose context ended is about to stop itself
	a.mu.Lock()
	stale := !a.stopped && a.ctx != nil && a.ctx.Err() != nil
	a.mu.Unlock()
	if stale {
		a.Disconnect()
	}

	a.mu.Lock()
	if !a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = false
	a.retries = 0
	a.lastError = nil
	a.session++
	session := a.session
	a.ctx = ctx
	a.stopCtx = context.AfterFunc(ctx, func() { a.disconnectFrom(ctx) })
	a.mu.Unlock()

	a.backoff.Reset()
	go a.open(session)
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect closes the socket and cancels any pending retry
func (a *StreamAdapter) Disconnect() error {
	a.mu.Lock()
	if a.stopped && a.socket == nil {
		a.mu.Unlock()
		a.backoff.Cancel()
		return nil
	}
	wasConnected := a.state == models.StateConnected
	a.stopped = true
	a.session++
	sock := a.socket
	a.socket = nil
	a.state = models.StateDisconnected
	a.haltPingLocked()
	if a.stopCtx != nil {
		a.stopCtx()
		a.stopCtx = nil
	}
	a.mu.Unlock()

	a.backoff.Cancel()
	if sock != nil {
		sock.Close()
	}
	a.proto.Reset()

	a.Logger.Info("Disconnected from %s", a.name)
	if wasConnected {
		a.events.Publish(models.StateEvent(models.EventDisconnected, a.name, models.StateDisconnected))
	}
	return nil
}

// disconnectFrom stops the adapter only if ctx still owns it
func (a *StreamAdapter) disconnectFrom(ctx context.Context) {
	a.mu.Lock()
	owned := a.ctx == ctx && !a.stopped
	a.mu.Unlock()
	if owned {
		a.Disconnect()
	}
}

// -----------------------------------------------------------------------------

func (a *StreamAdapter) open(session uint64) {
	a.mu.Lock()
	if a.stopped || session != a.session {
		a.mu.Unlock()
		return
	}
	a.state = models.StateConnecting
	ctx := a.ctx
	a.mu.Unlock()

	a.Logger.Info("Connecting to %s WebSocket at %s", a.name, a.proto.URL())

	dialCtx, cancel := context.WithTimeout(ctx, a.opts.HandshakeTimeout)
	sock, err := a.dialer.Dial(dialCtx, a.proto.URL())
	cancel()
	if err != nil {
		a.handleClose(session, err)
		return
	}

	a.mu.Lock()
	if a.stopped || session != a.session {
		a.mu.Unlock()
		sock.Close()
		return
	}
	a.proto.Reset()
	a.socket = sock
	a.mu.Unlock()

	for _, msg := range a.proto.SubscribeMessages() {
		if err := sock.WriteJSON(msg); err != nil {
			a.handleClose(session, helpers.NewConnectionError("subscribe to "+a.name, err))
			return
		}
	}

	// subscribed: only now does the source count as connected
	a.mu.Lock()
	if a.stopped || session != a.session {
		a.mu.Unlock()
		return
	}
	a.state = models.StateConnected
	a.retries = 0
	a.lastError = nil
	a.mu.Unlock()

	a.backoff.Reset()
	a.Logger.Info("Connected to %s", a.name)
	a.events.Publish(models.StateEvent(models.EventConnected, a.name, models.StateConnected))

	a.startPing(session, sock)
	a.readLoop(session, sock)
}

// -----------------------------------------------------------------------------

// readLoop is the only reader of sock, so events leave in receipt order
func (a *StreamAdapter) readLoop(session uint64, sock interfaces.ISocket) {
	for {
		raw, err := sock.ReadMessage()
		if err != nil {
			a.handleClose(session, err)
			return
		}

		ticks, err := a.proto.Handle(raw)
		if errors.Is(err, helpers.ErrReconnectRequested) {
			a.Logger.Warning("%s asked for a reconnect", a.name)
			sock.Close()
			continue
		}
		if err != nil {
			a.Logger.Warning("Error processing %s data: %v", a.name, err)
			a.events.Publish(models.ErrorEvent(a.name, err))
			continue
		}

		for _, tick := range ticks {
			tick.SourceID = a.name
			a.mu.Lock()
			if session != a.session {
				a.mu.Unlock()
				return
			}
			t := tick
			a.lastTick = &t
			a.mu.Unlock()
			a.events.Publish(models.PriceEvent(a.name, tick))
		}
	}
}

// -----------------------------------------------------------------------------

// handleClose runs once per failed or lost socket of the current session
func (a *StreamAdapter) handleClose(session uint64, cause error) {
	a.mu.Lock()
	if a.stopped || session != a.session {
		a.mu.Unlock()
		return
	}
	wasConnected := a.state == models.StateConnected
	sock := a.socket
	a.socket = nil
	a.haltPingLocked()
	a.lastError = cause
	a.retries++
	retries := a.retries

	if retries > a.opts.MaxRetries {
		a.stopped = true
		a.session++
		a.state = models.StateDisconnected
		if a.stopCtx != nil {
			a.stopCtx()
			a.stopCtx = nil
		}
		a.mu.Unlock()

		if sock != nil {
			sock.Close()
		}
		a.proto.Reset()
		if wasConnected {
			a.events.Publish(models.StateEvent(models.EventDisconnected, a.name, models.StateDisconnected))
		}

		err := helpers.NewExhaustedRetriesError(fmt.Sprintf("Failed to connect to %s after maximum retries", a.name), retries-1)
		a.Logger.Error("%v (last error: %v)", err, cause)
		a.events.Publish(models.ErrorEvent(a.name, err))
		a.events.Publish(models.MaxRetriesEvent(a.name, err))
		return
	}

	a.session++
	next := a.session
	a.state = models.StateReconnecting
	a.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	a.proto.Reset()

	if wasConnected {
		a.Logger.Warning("Disconnected from %s: %v", a.name, cause)
		a.events.Publish(models.StateEvent(models.EventDisconnected, a.name, models.StateReconnecting))
	} else {
		a.Logger.Warning("Failed to connect to %s: %v", a.name, cause)
		a.events.Publish(models.ErrorEvent(a.name, helpers.NewConnectionError("connect to "+a.name, cause)))
	}

	delay := a.backoff.NextDelay(retries - 1)
	a.Logger.Info("Scheduling %s reconnect in %v (attempt %d/%d)", a.name, delay, retries, a.opts.MaxRetries)
	a.backoff.ScheduleRetry(retries-1, func() { a.open(next) })
}

// -----------------------------------------------------------------------------

func (a *StreamAdapter) startPing(session uint64, sock interfaces.ISocket) {
	msg := a.proto.PingMessage()
	if msg == nil || a.opts.PingInterval <= 0 {
		return
	}

	stop := make(chan struct{})
	a.mu.Lock()
	if session != a.session {
		a.mu.Unlock()
		return
	}
	a.stopPing = stop
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(a.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := sock.WriteJSON(msg); err != nil {
					a.Logger.Debug("%s ping failed: %v", a.name, err)
					return
				}
			}
		}
	}()
}

func (a *StreamAdapter) haltPingLocked() {
	if a.stopPing != nil {
		close(a.stopPing)
		a.stopPing = nil
	}
}
