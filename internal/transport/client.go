package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var (
	errStale   = errors.New("transport: no pong within stale window")
	errOffline = errors.New("transport: environment offline")
)

// Config tunes reconnect, heartbeat and ack timing.
type Config struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	MaxJitter         time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	AckTimeout        time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		InitialBackoff:    400 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		MaxJitter:         250 * time.Millisecond,
		HeartbeatInterval: 25 * time.Second,
		StaleAfter:        60 * time.Second,
		AckTimeout:        5 * time.Second,
	}
}

// CloseEvent describes a connection that left the Open state, or a dial
// that never reached it.
type CloseEvent struct {
	Target  string
	Err     error
	Planned bool
}

// ReconnectEvent is emitted whenever a reconnect attempt is scheduled.
type ReconnectEvent struct {
	Target  string
	Attempt int
	Delay   time.Duration
}

// Stats is a point-in-time view of the client.
type Stats struct {
	Target      string    `json:"target"`
	State       string    `json:"state"`
	OutboxDepth int       `json:"outbox_depth"`
	PendingAcks int       `json:"pending_acks"`
	Paused      bool      `json:"paused"`
	LastPongAt  time.Time `json:"last_pong_at"`
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the default gorilla websocket dialer.
func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithEnvironment sets the visibility/connectivity source.
func WithEnvironment(env Environment) Option { return func(c *Client) { c.env = env } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithConfig overrides the default timings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		def := DefaultConfig()
		if cfg.InitialBackoff <= 0 {
			cfg.InitialBackoff = def.InitialBackoff
		}
		if cfg.MaxBackoff <= 0 {
			cfg.MaxBackoff = def.MaxBackoff
		}
		if cfg.MaxJitter < 0 {
			cfg.MaxJitter = 0
		}
		if cfg.HeartbeatInterval <= 0 {
			cfg.HeartbeatInterval = def.HeartbeatInterval
		}
		if cfg.StaleAfter <= 0 {
			cfg.StaleAfter = def.StaleAfter
		}
		if cfg.AckTimeout <= 0 {
			cfg.AckTimeout = def.AckTimeout
		}
		c.cfg = cfg
	}
}

// Client is a self-healing duplex message channel to a relayer endpoint.
// Messages sent while the connection is down are queued and flushed in order
// once it reopens. A heartbeat force-closes connections that stop answering
// pings, and reconnects back off exponentially with jitter.
type Client struct {
	cfg     Config
	dialer  Dialer
	env     Environment
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu             sync.Mutex
	target         string
	state          State
	conn           Conn
	gen            uint64
	outbox         [][]byte
	backoff        *Backoff
	reconnectTimer *time.Timer
	reconnectSeq   uint64
	heartbeatStop  chan struct{}
	dialCancel     context.CancelFunc
	lastPongAt     time.Time
	paused         bool
	closed         bool
	unwatchEnv     func()

	acks *ackTable

	onMessage   listenerSet[Message]
	onOpen      listenerSet[struct{}]
	onClose     listenerSet[CloseEvent]
	onError     listenerSet[error]
	onReconnect listenerSet[ReconnectEvent]
}

// New creates a Client and, when target is non-empty, starts connecting.
func New(target string, opts ...Option) *Client {
	c := &Client{
		cfg:    DefaultConfig(),
		dialer: WebsocketDialer{},
		env:    StaticEnvironment{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "transport"))
	c.backoff = NewBackoff(c.cfg.InitialBackoff, c.cfg.MaxBackoff, c.cfg.MaxJitter)
	c.acks = newAckTable(func(id string) {
		c.metrics.ackTimedOut()
		c.logger.Debug("ack timed out", slog.String("id", id))
	})
	c.unwatchEnv = c.env.Watch(c.handleEnv)

	c.mu.Lock()
	c.target = target
	notes := c.connectLocked()
	c.mu.Unlock()
	run(notes)

	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the current endpoint, or "" when idle.
func (c *Client) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Stats returns a snapshot for status endpoints.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Target:      c.target,
		State:       c.state.String(),
		OutboxDepth: len(c.outbox),
		PendingAcks: c.acks.len(),
		Paused:      c.paused,
		LastPongAt:  c.lastPongAt,
	}
}

// OnMessage registers fn for every inbound message.
func (c *Client) OnMessage(fn func(Message)) (unregister func()) { return c.onMessage.add(fn) }

// OnOpen registers fn for every transition into the Open state.
func (c *Client) OnOpen(fn func()) (unregister func()) {
	return c.onOpen.add(func(struct{}) { fn() })
}

// OnClose registers fn for connection closes and failed dials.
func (c *Client) OnClose(fn func(CloseEvent)) (unregister func()) { return c.onClose.add(fn) }

// OnError registers fn for dial and write errors.
func (c *Client) OnError(fn func(error)) (unregister func()) { return c.onError.add(fn) }

// OnReconnect registers fn for every scheduled reconnect attempt.
func (c *Client) OnReconnect(fn func(ReconnectEvent)) (unregister func()) {
	return c.onReconnect.add(fn)
}

// SetTarget switches endpoints. A changed non-empty target closes any current
// connection and reconnects immediately with a fresh backoff; an empty target
// leaves the client idle with no reconnect pending.
func (c *Client) SetTarget(target string) {
	c.mu.Lock()
	if c.closed || target == c.target {
		c.mu.Unlock()
		return
	}
	prev := c.target
	c.target = target
	notes := c.forceCloseLocked(prev, nil)
	c.backoff.Reset()
	notes = append(notes, c.connectLocked()...)
	c.mu.Unlock()

	c.logger.Info("target changed", slog.String("from", prev), slog.String("to", target))
	run(notes)
}

// Send writes v as JSON when the connection is open and queues it otherwise.
// Queued messages are flushed in order on the next open.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: send: %w", domain.ErrClosed)
	}
	var notes []func()
	if c.state == StateOpen && c.conn != nil {
		if werr := c.conn.WriteMessage(data); werr != nil {
			c.outbox = append(c.outbox, data)
			notes = c.dropLocked(werr)
		} else {
			c.metrics.messageSent()
		}
	} else {
		c.outbox = append(c.outbox, data)
	}
	c.metrics.setOutbox(len(c.outbox))
	c.mu.Unlock()

	run(notes)
	return nil
}

// SendWithAck sends msgType with a generated correlation id and waits for the
// reply carrying that id. The id is set on the envelope and, when payload is
// a JSON object, on payload.id as well. A zero timeout uses the configured
// AckTimeout. On timeout the returned error wraps domain.ErrAckTimeout and a
// later reply is ignored.
func (c *Client) SendWithAck(ctx context.Context, msgType string, payload any, timeout time.Duration) (Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return Message{}, err
	}
	if timeout <= 0 {
		timeout = c.cfg.AckTimeout
	}

	id := uuid.NewString()
	msg.ID = id
	msg.Payload = withPayloadID(msg.Payload, id)

	ch := c.acks.add(id, timeout)
	if err := c.Send(msg); err != nil {
		c.acks.cancel(id)
		return Message{}, err
	}

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		c.acks.cancel(id)
		return Message{}, ctx.Err()
	}
}

// Close tears the connection down for good. Pending acks are left to time
// out on their own.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	notes := c.forceCloseLocked(c.target, nil)
	unwatch := c.unwatchEnv
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	run(notes)
	return nil
}

// --------------------------------------------------------------------------
// Internal methods. Methods suffixed Locked require c.mu and return
// notifications to run once it is released.
// --------------------------------------------------------------------------

func run(notes []func()) {
	for _, n := range notes {
		n()
	}
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.setState(s)
}

func (c *Client) connectLocked() []func() {
	if c.closed || c.target == "" {
		return nil
	}
	if !c.env.Visible() || !c.env.Online() {
		c.paused = true
		return nil
	}
	if c.state == StateConnecting || c.state == StateOpen {
		return nil
	}

	c.stopReconnectLocked()
	c.paused = false
	c.gen++
	gen, target := c.gen, c.target
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.setStateLocked(StateConnecting)

	go c.dial(ctx, gen, target)
	return nil
}

func (c *Client) dial(ctx context.Context, gen uint64, target string) {
	conn, err := c.dialer.Dial(ctx, target)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.clearDialLocked()
		notes := c.dialFailedLocked(target, err)
		c.mu.Unlock()

		c.logger.Debug("dial failed", slog.String("target", target), slog.String("error", err.Error()))
		run(notes)
		return
	}

	// The outbox is flushed with c.mu released. The state stays Connecting
	// until it drains, so concurrent sends keep queueing behind it.
	flushed := 0
	for {
		if gen != c.gen || c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		if ctx.Err() != nil {
			c.clearDialLocked()
			notes := c.dialFailedLocked(target, errOffline)
			c.mu.Unlock()
			_ = conn.Close()
			run(notes)
			return
		}
		pending := c.outbox
		c.outbox = nil
		if len(pending) == 0 {
			break
		}
		c.mu.Unlock()

		n, werr := c.writeAll(conn, pending)
		flushed += n

		c.mu.Lock()
		if werr != nil {
			if gen != c.gen || c.closed {
				c.mu.Unlock()
				_ = conn.Close()
				return
			}
			c.outbox = append(append([][]byte(nil), pending[n:]...), c.outbox...)
			c.metrics.setOutbox(len(c.outbox))
			c.clearDialLocked()
			notes := c.dialFailedLocked(target, werr)
			c.mu.Unlock()
			_ = conn.Close()
			run(notes)
			return
		}
	}
	c.clearDialLocked()
	c.metrics.setOutbox(0)

	c.conn = conn
	c.setStateLocked(StateOpen)
	c.lastPongAt = c.now()
	c.backoff.Reset()

	stop := make(chan struct{})
	c.heartbeatStop = stop
	go c.readLoop(gen, conn)
	go c.heartbeatLoop(gen, stop)
	c.mu.Unlock()

	c.logger.Info("connected", slog.String("target", target), slog.Int("flushed", flushed))
	c.onOpen.emit(c.logger, "open", struct{}{})
}

// writeAll writes frames in order and reports how many were written.
func (c *Client) writeAll(conn Conn, frames [][]byte) (int, error) {
	for i, data := range frames {
		if err := conn.WriteMessage(data); err != nil {
			return i, err
		}
		c.metrics.messageSent()
	}
	return len(frames), nil
}

func (c *Client) clearDialLocked() {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
}

// dialFailedLocked reports a connection attempt that never reached Open and
// schedules the next one.
func (c *Client) dialFailedLocked(target string, err error) []func() {
	c.setStateLocked(StateDisconnected)
	notes := []func(){
		func() { c.onError.emit(c.logger, "error", err) },
		func() { c.onClose.emit(c.logger, "close", CloseEvent{Target: target, Err: err}) },
	}
	return append(notes, c.scheduleReconnectLocked()...)
}

// readLoop pumps inbound frames until the connection fails.
func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		c.handleInbound(gen, data)
	}
}

func (c *Client) handleInbound(gen uint64, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.logger.Debug("dropping malformed message", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if msg.Type == "pong" {
		c.lastPongAt = c.now()
	}
	c.mu.Unlock()

	c.metrics.messageReceived(msg.Type)
	c.acks.resolve(msg)
	c.onMessage.emit(c.logger, "message", msg)
}

func (c *Client) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	notes := c.dropLocked(cause)
	c.mu.Unlock()

	c.logger.Warn("connection lost, reconnecting", slog.String("error", cause.Error()))
	run(notes)
}

// heartbeatLoop pings on every tick and closes connections whose last pong
// is older than StaleAfter.
func (c *Client) heartbeatLoop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.heartbeat(gen) {
				return
			}
		}
	}
}

func (c *Client) heartbeat(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return false
	}

	if c.now().Sub(c.lastPongAt) > c.cfg.StaleAfter {
		c.metrics.staleClosed()
		notes := c.dropLocked(errStale)
		c.mu.Unlock()
		c.logger.Warn("connection stale, forcing close",
			slog.Duration("stale_after", c.cfg.StaleAfter))
		run(notes)
		return false
	}

	ping, _ := json.Marshal(Message{Type: "ping"})
	if err := c.conn.WriteMessage(ping); err != nil {
		notes := c.dropLocked(err)
		c.mu.Unlock()
		run(notes)
		return false
	}
	c.mu.Unlock()
	return true
}

// dropLocked tears down an unplanned loss of the current connection and
// schedules a reconnect.
func (c *Client) dropLocked(cause error) []func() {
	target := c.target
	c.teardownLocked()
	notes := []func(){
		func() { c.onClose.emit(c.logger, "close", CloseEvent{Target: target, Err: cause}) },
	}
	return append(notes, c.scheduleReconnectLocked()...)
}

// forceCloseLocked closes the current connection or in-flight dial on purpose
// and cancels any pending reconnect. No reconnect is scheduled.
func (c *Client) forceCloseLocked(target string, cause error) []func() {
	c.stopReconnectLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	hadConn := c.conn != nil
	c.teardownLocked()
	if !hadConn {
		return nil
	}
	return []func(){
		func() {
			c.onClose.emit(c.logger, "close", CloseEvent{Target: target, Err: cause, Planned: true})
		},
	}
}

// teardownLocked invalidates the current generation so late events from the
// old connection are ignored.
func (c *Client) teardownLocked() {
	c.gen++
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.conn != nil {
		c.setStateLocked(StateClosing)
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
}

func (c *Client) scheduleReconnectLocked() []func() {
	if c.closed || c.target == "" {
		return nil
	}
	if !c.env.Visible() || !c.env.Online() {
		c.paused = true
		return nil
	}

	c.stopReconnectLocked()
	delay := c.backoff.Next()
	ev := ReconnectEvent{Target: c.target, Attempt: c.backoff.Attempt(), Delay: delay}
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnectFired(seq) })
	c.metrics.reconnectScheduled()

	return []func(){
		func() { c.onReconnect.emit(c.logger, "reconnect", ev) },
	}
}

func (c *Client) reconnectFired(seq uint64) {
	c.mu.Lock()
	if c.reconnectTimer == nil || seq != c.reconnectSeq {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	notes := c.connectLocked()
	c.mu.Unlock()
	run(notes)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// handleEnv reacts to visibility and connectivity changes. Hidden or offline
// pauses reconnection and visible or online resumes it once both hold.
// Offline also closes the current connection instead of waiting for the
// heartbeat.
func (c *Client) handleEnv(ev EnvEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	var notes []func()
	switch ev {
	case EnvHidden:
		c.paused = true
		c.stopReconnectLocked()
	case EnvVisible, EnvOnline:
		if c.state == StateDisconnected {
			c.backoff.Reset()
			notes = c.connectLocked()
		}
	case EnvOffline:
		switch c.state {
		case StateOpen:
			notes = c.dropLocked(errOffline)
		case StateConnecting:
			if c.dialCancel != nil {
				c.dialCancel()
				c.dialCancel = nil
			}
		}
	}
	c.mu.Unlock()

	c.logger.Debug("environment changed", slog.String("event", ev.String()))
	run(notes)
}
