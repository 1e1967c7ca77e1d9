package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"
	"cove-observer/src/utils"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// SourceName tags every event published by the connection manager
const SourceName = "ledger"

// -----------------------------------------------------------------------------

type Options struct {
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	RetryJitter       float64
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	RequestBurst      int
}

func DefaultOptions() Options {
	return Options{
		InitialRetryDelay: 2 * time.Second,
		MaxRetryDelay:     30 * time.Second,
		ConnectTimeout:    15 * time.Second,
		RequestTimeout:    20 * time.Second,
		RequestsPerSecond: 10,
		RequestBurst:      20,
	}
}

// OptionsFromConfig maps the ledger section onto manager options
func OptionsFromConfig(cfg models.MLedgerConfig) Options {
	o := DefaultOptions()
	if cfg.InitialRetryDelayMs > 0 {
		o.InitialRetryDelay = time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond
	}
	if cfg.MaxRetryDelayMs > 0 {
		o.MaxRetryDelay = time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond
	}
	o.RetryJitter = cfg.RetryJitter
	if cfg.ConnectTimeoutMs > 0 {
		o.ConnectTimeout = time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	}
	if cfg.RequestTimeoutMs > 0 {
		o.RequestTimeout = time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	}
	if cfg.RequestsPerSecond > 0 {
		o.RequestsPerSecond = cfg.RequestsPerSecond
	}
	if cfg.RequestBurst > 0 {
		o.RequestBurst = cfg.RequestBurst
	}
	return o
}

// -----------------------------------------------------------------------------
// session is one open socket and the requests waiting on it
// -----------------------------------------------------------------------------

type session struct {
	sock     interfaces.ISocket
	endpoint models.MNetworkEndpoint

	mu      sync.Mutex
	pending map[uint64]pendingRequest
	closed  bool
}

type pendingRequest struct {
	command string
	reply   chan response
}

func (s *session) register(id uint64, command string) (chan response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan response, 1)
	s.pending[id] = pendingRequest{command: command, reply: ch}
	return ch, true
}

func (s *session) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *session) resolve(id uint64, msg gjson.Result) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.reply <- parseResponse(p.command, msg)
	return true
}

// shutdown closes the socket and fails every waiting request
func (s *session) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.sock.Close()
	for _, p := range pending {
		p.reply <- response{err: &helpers.RequestError{Kind: helpers.NotConnected, Command: p.command, Cause: cause}}
	}
}

func (s *session) inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// -----------------------------------------------------------------------------
// ConnectionManager
// -----------------------------------------------------------------------------

// ConnectionManager owns the single socket to a ledger server. It reconnects
// without limit while an endpoint is targeted and re-issues every registered
// subscription on each new socket.
type ConnectionManager struct {
	dialer  interfaces.IDialer
	opts    Options
	backoff *helpers.Backoff
	limiter *rate.Limiter
	events  *utils.EventBus[models.MEvent]
	flight  singleflight.Group
	Logger  *logger.Logger

	nextID     atomic.Uint64
	reconnects atomic.Int64
	lastLedger atomic.Int64

	mu        sync.Mutex
	state     models.ConnectionState
	target    *models.MNetworkEndpoint
	epoch     uint64
	sess      *session
	subs      map[string]models.MSubscription
	hooks     []func(ctx context.Context) error
	connected bool // a socket was opened for the current target
}

var (
	_ interfaces.ILedgerConnection = (*ConnectionManager)(nil)
	_ interfaces.ILedgerMonitor    = (*ConnectionManager)(nil)
)

// -----------------------------------------------------------------------------

func NewConnectionManager(dialer interfaces.IDialer, opts Options, log *logger.Logger) *ConnectionManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	b := helpers.NewBackoff(opts.InitialRetryDelay, opts.MaxRetryDelay)
	b.Jitter = opts.RetryJitter

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.RequestBurst
	if burst <= 0 {
		burst = 1
	}

	return &ConnectionManager{
		dialer:  dialer,
		opts:    opts,
		backoff: b,
		limiter: rate.NewLimiter(limit, burst),
		events:  utils.NewEventBus[models.MEvent](log),
		Logger:  log,
		state:   models.StateDisconnected,
		subs:    make(map[string]models.MSubscription),
	}
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) Events() *utils.EventBus[models.MEvent] {
	return m.events
}

func (m *ConnectionManager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.state == models.StateConnected
}

// CurrentEndpoint returns the targeted endpoint, connected or not
func (m *ConnectionManager) CurrentEndpoint() (models.MNetworkEndpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == nil {
		return models.MNetworkEndpoint{}, false
	}
	return *m.target, true
}

// Subscriptions returns the registered subscriptions ordered by key
func (m *ConnectionManager) Subscriptions() []models.MSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptionsLocked()
}

func (m *ConnectionManager) subscriptionsLocked() []models.MSubscription {
	list := make([]models.MSubscription, 0, len(m.subs))
	for _, s := range m.subs {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })
	return list
}

// Status snapshots the connection for the status endpoint
func (m *ConnectionManager) Status() models.MLedgerStatus {
	m.mu.Lock()
	st := models.MLedgerStatus{
		State:         m.state,
		Subscriptions: m.subscriptionsLocked(),
	}
	if m.target != nil {
		ep := *m.target
		st.Endpoint = &ep
	}
	sess := m.sess
	m.mu.Unlock()

	if sess != nil {
		st.PendingRequests = sess.inflight()
	}
	st.Reconnects = m.reconnects.Load()
	st.LastLedgerIndex = m.lastLedger.Load()
	return st
}

// AddPostReconnectHook registers fn to run after every reconnect, once the
// subscriptions have been re-issued. It does not run on the first connection
// to an endpoint.
func (m *ConnectionManager) AddPostReconnectHook(fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) setStateLocked(s models.ConnectionState) bool {
	if m.state == s {
		return false
	}
	m.state = s
	return true
}

func (m *ConnectionManager) publishState(s models.ConnectionState) {
	m.events.Publish(models.StateEvent(models.EventStateChanged, SourceName, s))
}

// -----------------------------------------------------------------------------
// Connect
// -----------------------------------------------------------------------------

// Connect targets endpoint and opens a socket to it. Concurrent calls for the
// same endpoint share one dial. Switching endpoint tears the old socket down
// first. When the dial fails the endpoint stays targeted and the manager keeps
// retrying in the background until Disconnect.
func (m *ConnectionManager) Connect(ctx context.Context, endpoint models.MNetworkEndpoint) error {
	m.mu.Lock()
	if m.target != nil && m.target.ID == endpoint.ID && m.target.URL == endpoint.URL {
		if m.sess != nil {
			m.mu.Unlock()
			return nil
		}
	} else {
		old := m.retargetLocked(&endpoint)
		m.mu.Unlock()
		m.teardown(old, "switching to "+endpoint.DisplayName)
		m.mu.Lock()
	}
	epoch := m.epoch
	m.mu.Unlock()

	return m.connectShared(ctx, endpoint, epoch)
}

// retargetLocked switches the target and detaches the current session
func (m *ConnectionManager) retargetLocked(endpoint *models.MNetworkEndpoint) *session {
	m.target = endpoint
	m.epoch++
	m.connected = false
	old := m.sess
	m.sess = nil
	m.backoff.Cancel()
	m.backoff.Reset()
	return old
}

func (m *ConnectionManager) teardown(old *session, reason string) {
	if old == nil {
		return
	}
	m.Logger.Info("Closing ledger socket to %s (%s)", old.endpoint.URL, reason)
	old.shutdown(helpers.NewConnectionError(reason, nil))
	m.events.Publish(models.StateEvent(models.EventDisconnected, SourceName, models.StateDisconnected))
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) connectShared(ctx context.Context, endpoint models.MNetworkEndpoint, epoch uint64) error {
	key := endpoint.ID + "#" + strconv.FormatUint(epoch, 10)
	ch := m.flight.DoChan(key, func() (interface{}, error) {
		return nil, m.dial(endpoint, epoch)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial runs at most once at a time per endpoint and epoch
func (m *ConnectionManager) dial(endpoint models.MNetworkEndpoint, epoch uint64) error {
	m.mu.Lock()
	if epoch != m.epoch || m.target == nil {
		m.mu.Unlock()
		return helpers.NewConnectionError("connection attempt superseded", nil)
	}
	if m.sess != nil {
		m.mu.Unlock()
		return nil
	}
	phase := models.StateConnecting
	if m.connected {
		phase = models.StateReconnecting
	}
	changed := m.setStateLocked(phase)
	m.mu.Unlock()
	if changed {
		m.publishState(phase)
	}

	m.Logger.Info("Connecting to ledger %s at %s", endpoint.DisplayName, endpoint.URL)
	dialCtx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	sock, err := m.dialer.Dial(dialCtx, endpoint.URL)
	cancel()
	if err != nil {
		cerr := helpers.NewConnectionError("connect to "+endpoint.URL, err)
		m.Logger.Warning("Ledger connection failed: %v", err)
		m.events.Publish(models.ErrorEvent(SourceName, cerr))
		m.scheduleReconnect(epoch)
		return cerr
	}

	sess := &session{sock: sock, endpoint: endpoint, pending: make(map[uint64]pendingRequest)}

	m.mu.Lock()
	if epoch != m.epoch || m.target == nil {
		m.mu.Unlock()
		sock.Close()
		return helpers.NewConnectionError("connection attempt superseded", nil)
	}
	m.sess = sess
	isReconnect := m.connected
	m.connected = true
	m.setStateLocked(models.StateConnected)
	subs := m.subscriptionsLocked()
	hooks := append([]func(context.Context) error(nil), m.hooks...)
	m.mu.Unlock()

	m.backoff.Reset()
	go m.readLoop(sess, epoch)

	m.Logger.Info("Connected to ledger %s", endpoint.DisplayName)
	m.publishState(models.StateConnected)

	m.replay(sess, subs)
	if isReconnect {
		m.reconnects.Add(1)
		m.runHooks(hooks)
	}

	ev := models.StateEvent(models.EventConnected, SourceName, models.StateConnected)
	ev.Endpoint = &endpoint
	m.events.Publish(ev)
	return nil
}

// -----------------------------------------------------------------------------

// replay re-issues every registered subscription on a fresh socket
func (m *ConnectionManager) replay(sess *session, subs []models.MSubscription) {
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.RequestTimeout)
		_, err := m.requestOn(ctx, sess, "subscribe", sub.Params())
		cancel()
		if err != nil {
			m.Logger.Warning("Failed to restore subscription %s: %v", sub.Key(), err)
			m.events.Publish(models.ErrorEvent(SourceName, err))
			continue
		}
		m.markActive(sub.Key(), true)
	}
}

func (m *ConnectionManager) runHooks(hooks []func(context.Context) error) {
	for _, hook := range hooks {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.RequestTimeout)
		if err := hook(ctx); err != nil {
			m.Logger.Warning("Post-reconnect hook failed: %v", err)
			m.events.Publish(models.ErrorEvent(SourceName, err))
		}
		cancel()
	}
}

func (m *ConnectionManager) markActive(key string, active bool) {
	m.mu.Lock()
	if s, ok := m.subs[key]; ok {
		s.Active = active
		m.subs[key] = s
	}
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------
// reconnect policy
// -----------------------------------------------------------------------------

func (m *ConnectionManager) scheduleReconnect(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.target == nil {
		m.mu.Unlock()
		return
	}
	endpoint := *m.target
	changed := m.setStateLocked(models.StateReconnecting)
	m.mu.Unlock()
	if changed {
		m.publishState(models.StateReconnecting)
	}

	attempt, delay, ok := m.backoff.Schedule(func() {
		if err := m.connectShared(context.Background(), endpoint, epoch); err != nil {
			m.Logger.Debug("Ledger reconnect attempt failed: %v", err)
		}
	})
	if ok {
		m.Logger.Info("Reconnecting to ledger in %v (attempt %d)", delay, attempt+1)
	}
}

// -----------------------------------------------------------------------------

func (m *ConnectionManager) readLoop(sess *session, epoch uint64) {
	for {
		raw, err := sess.sock.ReadMessage()
		if err != nil {
			m.handleLost(sess, epoch, err)
			return
		}
		m.dispatch(sess, raw)
	}
}

func (m *ConnectionManager) dispatch(sess *session, raw []byte) {
	if !gjson.ValidBytes(raw) {
		m.events.Publish(models.ErrorEvent(SourceName, helpers.NewValidationError("malformed ledger message", nil)))
		return
	}
	msg := gjson.ParseBytes(raw)

	switch msg.Get("type").String() {
	case "response":
		if !sess.resolve(msg.Get("id").Uint(), msg) {
			m.Logger.Debug("Dropping response for unknown request id %s", msg.Get("id").Raw)
		}
	case "transaction":
		tx := parseStreamTransaction(msg)
		m.events.Publish(models.TransactionEvent(SourceName, tx))
	case "ledgerClosed":
		m.lastLedger.Store(msg.Get("ledger_index").Int())
	default:
		if id := msg.Get("id"); id.Exists() {
			sess.resolve(id.Uint(), msg)
		}
	}
}

// handleLost runs when the reader of sess stops
func (m *ConnectionManager) handleLost(sess *session, epoch uint64, cause error) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	for k, s := range m.subs {
		s.Active = false
		m.subs[k] = s
	}
	targeted := m.target != nil && epoch == m.epoch
	next := models.StateDisconnected
	if targeted {
		next = models.StateReconnecting
	}
	changed := m.setStateLocked(next)
	m.mu.Unlock()

	sess.shutdown(helpers.NewConnectionError("ledger socket closed", cause))
	m.Logger.Warning("Ledger connection lost: %v", cause)
	if changed {
		m.publishState(next)
	}
	m.events.Publish(models.StateEvent(models.EventDisconnected, SourceName, next))

	if targeted {
		m.scheduleReconnect(epoch)
	}
}

// -----------------------------------------------------------------------------
// Disconnect
// -----------------------------------------------------------------------------

// Disconnect clears the target, cancels pending reconnects and closes the
// socket. Registered subscriptions are kept for the next Connect.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	m.target = nil
	m.epoch++
	m.connected = false
	old := m.sess
	m.sess = nil
	for k, s := range m.subs {
		s.Active = false
		m.subs[k] = s
	}
	changed := m.setStateLocked(models.StateDisconnected)
	m.mu.Unlock()

	m.backoff.Cancel()
	m.backoff.Reset()
	m.teardown(old, "disconnect requested")
	if changed {
		m.publishState(models.StateDisconnected)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

// Request sends command with params on the current socket and waits for its
// response.
func (m *ConnectionManager) Request(ctx context.Context, command string, params map[string]interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	sess := m.sess
	connected := m.state == models.StateConnected
	m.mu.Unlock()

	if sess == nil || !connected {
		return nil, &helpers.RequestError{Kind: helpers.NotConnected, Command: command}
	}
	return m.requestOn(ctx, sess, command, params)
}

func (m *ConnectionManager) requestOn(ctx context.Context, sess *session, command string, params map[string]interface{}) (json.RawMessage, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, contextError(command, err)
	}

	id := m.nextID.Add(1)
	reply, ok := sess.register(id, command)
	if !ok {
		return nil, &helpers.RequestError{Kind: helpers.NotConnected, Command: command}
	}

	body := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["id"] = id
	body["command"] = command

	if err := sess.sock.WriteJSON(body); err != nil {
		sess.forget(id)
		return nil, &helpers.RequestError{
			Kind:    helpers.NotConnected,
			Command: command,
			Cause:   helpers.NewConnectionError("write "+command, err),
		}
	}

	timer := time.NewTimer(m.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res.result, res.err
	case <-timer.C:
		sess.forget(id)
		return nil, &helpers.RequestError{
			Kind:    helpers.Timeout,
			Command: command,
			Cause:   fmt.Errorf("no response after %v", m.opts.RequestTimeout),
		}
	case <-ctx.Done():
		sess.forget(id)
		return nil, contextError(command, ctx.Err())
	}
}

func contextError(command string, err error) error {
	kind := helpers.RequestFailed
	if errors.Is(err, context.DeadlineExceeded) {
		kind = helpers.Timeout
	}
	return &helpers.RequestError{Kind: kind, Command: command, Cause: err}
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// Subscribe registers sub and sends it when connected. While disconnected
// the subscription is only recorded and goes out with the next socket.
func (m *ConnectionManager) Subscribe(ctx context.Context, sub models.MSubscription) error {
	sub.Active = false

	// a socket installed before this point has already taken its replay
	// snapshot, a later one will include sub
	m.mu.Lock()
	m.subs[sub.Key()] = sub
	sess := m.sess
	live := sess != nil && m.state == models.StateConnected
	m.mu.Unlock()

	if !live {
		return nil
	}
	if _, err := m.requestOn(ctx, sess, "subscribe", sub.Params()); err != nil {
		if helpers.IsNotConnected(err) {
			return nil
		}
		return err
	}
	m.markActive(sub.Key(), true)
	return nil
}

// Unsubscribe forgets sub and tells the server. A NotConnected error is
// returned when there is no socket; the registry is updated regardless.
func (m *ConnectionManager) Unsubscribe(ctx context.Context, sub models.MSubscription) error {
	m.mu.Lock()
	delete(m.subs, sub.Key())
	m.mu.Unlock()

	_, err := m.Request(ctx, "unsubscribe", sub.Params())
	return err
}
