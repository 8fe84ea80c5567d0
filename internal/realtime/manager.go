package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/retry"
)

// ErrClosed is returned by operations on a manager that was shut down.
var ErrClosed = errors.New("connection manager closed")

// ErrNotConnected is returned when an operation needs a live connection.
var ErrNotConnected = errors.New("not connected")

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Manager owns one persistent connection: heartbeat, reconnection with
// backoff, outbound queueing while disconnected, and typed event dispatch.
type Manager struct {
	cfg       config.ConnectionConfig
	transport Transport
	policy    *retry.Policy
	logger    *loggy.Logger

	mu             sync.Mutex
	state          State
	conn           Conn
	attempts       int
	channel        string
	outbound       []*Envelope
	subscribers    []Subscriber
	closed         bool
	autoReconnect  bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	readCancel     context.CancelFunc
	pongCh         chan struct{}
	ackCh          chan string
	onConnected    func()
}

// NewManager creates a connection manager. The retry configuration drives
// the reconnect backoff schedule.
func NewManager(cfg config.ConnectionConfig, retryCfg config.RetryConfig, transport Transport, logger *loggy.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		transport:     transport,
		policy:        retry.NewPolicy(retryCfg.Base, retryCfg.Cap, retryCfg.JitterFactor),
		logger:        logger,
		state:         StateDisconnected,
		autoReconnect: cfg.AutoReconnect,
	}
}

// OnConnected registers a hook invoked after every successful connect, once
// the channel is re-subscribed and queued messages are flushed. Used to
// trigger offline-queue replay.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// Register adds a subscriber for inbound domain events.
func (m *Manager) Register(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PendingOutbound returns the number of messages queued while disconnected.
func (m *Manager) PendingOutbound() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound)
}

// SetAutoReconnect toggles reconnection. Disabling takes effect immediately:
// an already scheduled attempt fires but short-circuits without dialing.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect dials the remote endpoint. A no-op when already connected or
// connecting. On success the reconnect-attempt counter resets, the heartbeat
// starts, the previously active channel is re-subscribed, and messages
// queued while disconnected are flushed in order.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.transport.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.logger.Warn("Connection dial failed", "url", m.cfg.URL, "error", err)
		m.handleFailure()
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.pongCh = make(chan struct{}, 1)
	stop := make(chan struct{})
	m.heartbeatStop = stop
	readCtx, cancel := context.WithCancel(context.Background())
	m.readCancel = cancel
	pong := m.pongCh
	queued := m.outbound
	m.outbound = nil
	channel := m.channel
	m.mu.Unlock()

	m.logger.Info("Connected", "url", m.cfg.URL)

	go m.readLoop(readCtx, conn)
	go m.heartbeat(conn, stop, pong)

	if channel != "" {
		if err := m.Subscribe(ctx, channel); err != nil {
			m.logger.Warn("Re-subscribe after reconnect failed", "channel", channel, "error", err)
		}
	}
	for _, env := range queued {
		if err := m.writeEnvelope(ctx, conn, env); err != nil {
			m.logger.Warn("Flushing queued message failed", "event", env.Event, "error", err)
			break
		}
	}

	m.mu.Lock()
	onConnected := m.onConnected
	m.mu.Unlock()
	if onConnected != nil {
		go onConnected()
	}
	return nil
}

// Close shuts the manager down for good: the connection is torn down, timers
// stopped, and no further reconnect fires.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.state = StateDisconnected
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopConnLocked()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe announces interest in a vault channel and waits for the server's
// acknowledgement. The channel is remembered and re-subscribed after any
// reconnect.
func (m *Manager) Subscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	conn := m.conn
	ackCh := make(chan string, 1)
	m.ackCh = ackCh
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := m.send(ctx, conn, eventSubscribe, subscribeRequest{Channel: channel}); err != nil {
		return err
	}

	select {
	case got := <-ackCh:
		if got != channel {
			return fmt.Errorf("subscription ack for unexpected channel %q", got)
		}
	case <-time.After(m.cfg.SubscribeAckTimeout):
		return fmt.Errorf("timed out waiting for subscription ack on %q", channel)
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	m.channel = channel
	m.mu.Unlock()
	m.logger.Info("Subscribed", "channel", channel)
	return nil
}

// Unsubscribe leaves the active channel.
func (m *Manager) Unsubscribe(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	channel := m.channel
	m.channel = ""
	m.mu.Unlock()

	if conn == nil || channel == "" {
		return nil
	}
	return m.send(ctx, conn, eventUnsubscribe, subscribeRequest{Channel: channel})
}

// Send transmits an event to the server. While disconnected the envelope is
// queued (bounded, oldest dropped on overflow) and flushed in order on the
// next successful connect.
func (m *Manager) Send(ctx context.Context, event string, payload any) error {
	env, err := newEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encoding outbound event: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	conn := m.conn
	if m.state != StateConnected || conn == nil {
		if len(m.outbound) >= m.cfg.OutboundQueueSize {
			m.logger.Warn("Outbound queue full, dropping oldest message",
				"dropped", m.outbound[0].Event)
			m.outbound = m.outbound[1:]
		}
		m.outbound = append(m.outbound, env)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.writeEnvelope(ctx, conn, env)
}

// readLoop pumps inbound frames until the connection dies, then runs
// disconnection handling unless a newer connection already took over.
func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			m.mu.Lock()
			current := m.conn == conn
			m.mu.Unlock()
			if current {
				m.logger.Warn("Connection lost", "error", err)
				m.handleFailure()
			}
			return
		}
		m.dispatch(data)
	}
}

// heartbeat pings the server every interval and declares the connection dead
// when the pong does not arrive within interval+timeout.
func (m *Manager) heartbeat(conn Conn, stop chan struct{}, pong chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Drop a stale pong from the previous round.
			select {
			case <-pong:
			default:
			}

			if err := m.send(context.Background(), conn, eventPing, nil); err != nil {
				_ = conn.Close()
				return
			}

			select {
			case <-stop:
				return
			case <-pong:
			case <-time.After(m.cfg.HeartbeatInterval + m.cfg.HeartbeatTimeout):
				m.logger.Warn("Heartbeat pong missed, closing connection")
				_ = conn.Close()
				return
			}
		}
	}
}

// handleFailure tears down the current connection and either schedules a
// reconnect or settles in a terminal state.
func (m *Manager) handleFailure() {
	m.mu.Lock()

	m.stopConnLocked()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}

	if m.closed || !m.autoReconnect {
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.state = StateError
		m.mu.Unlock()
		m.logger.Error("Reconnect attempts exhausted, giving up",
			"attempts", m.cfg.MaxReconnectAttempts)
		return
	}

	m.state = StateReconnecting
	delay := m.policy.Delay(m.attempts)
	m.attempts++
	attempt := m.attempts

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		skip := m.closed || !m.autoReconnect
		m.mu.Unlock()
		if skip {
			return
		}
		_ = m.Connect(context.Background())
	})
	m.mu.Unlock()

	m.logger.Info("Reconnect scheduled", "attempt", attempt, "delay", delay)
}

// stopConnLocked stops the heartbeat and read loop of the current connection.
// Caller holds mu.
func (m *Manager) stopConnLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	if m.readCancel != nil {
		m.readCancel()
		m.readCancel = nil
	}
}

// dispatch decodes one inbound frame and routes it: liveness and subscription
// frames are consumed internally, domain events fan out to subscribers.
func (m *Manager) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("Discarding malformed frame", "error", err)
		return
	}

	switch env.Event {
	case eventPong:
		m.mu.Lock()
		pong := m.pongCh
		m.mu.Unlock()
		if pong != nil {
			select {
			case pong <- struct{}{}:
			default:
			}
		}

	case eventSubscriptionAck:
		var ack subscriptionAck
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			m.logger.Warn("Malformed subscription ack", "error", err)
			return
		}
		m.mu.Lock()
		ackCh := m.ackCh
		m.mu.Unlock()
		if ackCh != nil {
			select {
			case ackCh <- ack.Channel:
			default:
			}
		}

	case eventFileChanged:
		var ev FileChanged
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			m.logger.Warn("Malformed file_changed event", "error", err)
			return
		}
		for _, sub := range m.subscriberSnapshot() {
			sub.OnFileChanged(ev)
		}

	case eventConflictRaised:
		var ev ConflictRaised
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			m.logger.Warn("Malformed conflict_raised event", "error", err)
			return
		}
		for _, sub := range m.subscriberSnapshot() {
			sub.OnConflictRaised(ev)
		}

	case eventPresenceChanged:
		var ev PresenceChanged
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			m.logger.Warn("Malformed presence_changed event", "error", err)
			return
		}
		for _, sub := range m.subscriberSnapshot() {
			sub.OnPresenceChanged(ev)
		}

	default:
		m.logger.Debug("Ignoring unknown event", "event", env.Event)
	}
}

func (m *Manager) subscriberSnapshot() []Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subscriber(nil), m.subscribers...)
}

func (m *Manager) send(ctx context.Context, conn Conn, event string, payload any) error {
	env, err := newEnvelope(event, payload)
	if err != nil {
		return err
	}
	return m.writeEnvelope(ctx, conn, env)
}

func (m *Manager) writeEnvelope(ctx context.Context, conn Conn, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(ctx, data)
}
