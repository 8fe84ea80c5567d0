package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

type fakeConn struct {
	mu        sync.Mutex
	inbound   chan []byte
	writes    [][]byte
	closed    chan struct{}
	closeOnce sync.Once
	onWrite   func(env Envelope)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}

	c.mu.Lock()
	c.writes = append(c.writes, data)
	onWrite := c.onWrite
	c.mu.Unlock()

	if onWrite != nil {
		var env Envelope
		if err := json.Unmarshal(data, &env); err == nil {
			go onWrite(env)
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// inject delivers a server frame to the manager's read loop.
func (c *fakeConn) inject(t *testing.T, event string, payload any) {
	t.Helper()
	env, err := newEnvelope(event, payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	c.inbound <- data
}

// writtenEvents returns the event names written so far, in order.
func (c *fakeConn) writtenEvents(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []string
	for _, data := range c.writes {
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		events = append(events, env.Event)
	}
	return events
}

type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	failFrom int // dial number from which every dial fails; 0 disables
	conns    []*fakeConn
	onDial   func(conn *fakeConn)
}

func (f *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failFrom > 0 && f.dials >= f.failFrom {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	if f.onDial != nil {
		f.onDial(conn)
	}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func testConfig() (config.ConnectionConfig, config.RetryConfig) {
	connCfg := config.ConnectionConfig{
		URL:                  "ws://example.test/realtime",
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    time.Hour, // effectively off unless a test lowers it
		HeartbeatTimeout:     time.Hour,
		OutboundQueueSize:    2,
		SubscribeAckTimeout:  200 * time.Millisecond,
	}
	retryCfg := config.RetryConfig{
		Base:         time.Millisecond,
		Cap:          2 * time.Millisecond,
		JitterFactor: 0,
	}
	return connCfg, retryCfg
}

func newTestManager(t *testing.T, connCfg config.ConnectionConfig, retryCfg config.RetryConfig, transport Transport) *Manager {
	t.Helper()
	m := NewManager(connCfg, retryCfg, transport, loggy.NewNoopLogger())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// ackSubscriptions wires a server-side responder that acknowledges every
// subscribe request.
func ackSubscriptions(conn *fakeConn) {
	conn.onWrite = func(env Envelope) {
		if env.Event != eventSubscribe {
			return
		}
		var req subscribeRequest
		if json.Unmarshal(env.Payload, &req) != nil {
			return
		}
		ack, _ := newEnvelope(eventSubscriptionAck, subscriptionAck{Channel: req.Channel})
		data, _ := json.Marshal(ack)
		conn.inbound <- data
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	connCfg, retryCfg := testConfig()
	transport := &fakeTransport{}
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, transport.dialCount(), "connect while connected is a no-op")
}

func TestSubscribeWaitsForAck(t *testing.T) {
	connCfg, retryCfg := testConfig()
	transport := &fakeTransport{onDial: ackSubscriptions}
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Subscribe(context.Background(), "vault:v1"))

	assert.Contains(t, transport.lastConn().writtenEvents(t), eventSubscribe)
}

func TestSubscribeAckTimeout(t *testing.T) {
	connCfg, retryCfg := testConfig()
	transport := &fakeTransport{} // server never acks
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))

	err := m.Subscribe(context.Background(), "vault:v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestOutboundQueueWhileDisconnected(t *testing.T) {
	connCfg, retryCfg := testConfig()
	transport := &fakeTransport{}
	m := newTestManager(t, connCfg, retryCfg, transport)

	// Three sends into a queue of two: the oldest is dropped.
	require.NoError(t, m.Send(context.Background(), "note_a", nil))
	require.NoError(t, m.Send(context.Background(), "note_b", nil))
	require.NoError(t, m.Send(context.Background(), "note_c", nil))
	assert.Equal(t, 2, m.PendingOutbound())

	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, []string{"note_b", "note_c"}, transport.lastConn().writtenEvents(t),
		"queued messages flush in order after connect")
	assert.Zero(t, m.PendingOutbound())
}

func TestReconnectExhaustionEntersErrorState(t *testing.T) {
	connCfg, retryCfg := testConfig()
	transport := &fakeTransport{failFrom: 2} // first dial succeeds, all redials fail
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, StateConnected, m.State())

	// Drop the connection; every reconnect attempt will fail.
	require.NoError(t, transport.lastConn().Close())

	assert.Eventually(t, func() bool {
		return m.State() == StateError
	}, 5*time.Second, 5*time.Millisecond, "exhausted reconnects must settle in Error")

	assert.Equal(t, 11, transport.dialCount(), "one connect plus ten failed reconnects")

	// Error is terminal: no more attempts get scheduled.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 11, transport.dialCount())
}

func TestReconnectRestoresSubscription(t *testing.T) {
	connCfg, retryCfg := testConfig()
	transport := &fakeTransport{onDial: ackSubscriptions}
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Subscribe(context.Background(), "vault:v1"))

	first := transport.lastConn()
	require.NoError(t, first.Close())

	assert.Eventually(t, func() bool {
		conn := transport.lastConn()
		if conn == first || m.State() != StateConnected {
			return false
		}
		for _, event := range conn.writtenEvents(t) {
			if event == eventSubscribe {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "the active channel is re-subscribed after reconnect")
}

func TestAutoReconnectDisabled(t *testing.T) {
	connCfg, retryCfg := testConfig()
	connCfg.AutoReconnect = false
	transport := &fakeTransport{}
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, transport.lastConn().Close())

	assert.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, transport.dialCount(), "no reconnect without auto-reconnect")
}

type recordingSubscriber struct {
	mu       sync.Mutex
	files    []FileChanged
	raised   []ConflictRaised
	presence []PresenceChanged
}

func (r *recordingSubscriber) OnFileChanged(event FileChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, event)
}

func (r *recordingSubscriber) OnConflictRaised(event ConflictRaised) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raised = append(r.raised, event)
}

func (r *recordingSubscriber) OnPresenceChanged(event PresenceChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = append(r.presence, event)
}

func (r *recordingSubscriber) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files), len(r.raised), len(r.presence)
}

func TestTypedEventDispatch(t *testing.T) {
	connCfg, retryCfg := testConfig()
	transport := &fakeTransport{}
	m := newTestManager(t, connCfg, retryCfg, transport)

	sub := &recordingSubscriber{}
	m.Register(sub)

	require.NoError(t, m.Connect(context.Background()))
	conn := transport.lastConn()

	conn.inject(t, eventFileChanged, FileChanged{Path: "a.md", Hash: "h1"})
	conn.inject(t, eventConflictRaised, ConflictRaised{Path: "b.md", Kind: "content"})
	conn.inject(t, eventPresenceChanged, PresenceChanged{UserID: "u1", Online: true})
	conn.inject(t, eventPong, nil) // consumed internally

	assert.Eventually(t, func() bool {
		files, raised, presence := sub.counts()
		return files == 1 && raised == 1 && presence == 1
	}, time.Second, 5*time.Millisecond)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, "a.md", sub.files[0].Path)
	assert.Equal(t, "content", sub.raised[0].Kind)
	assert.True(t, sub.presence[0].Online)
}

func TestHeartbeatDeclaresDeadConnection(t *testing.T) {
	connCfg, retryCfg := testConfig()
	connCfg.AutoReconnect = false
	connCfg.HeartbeatInterval = 10 * time.Millisecond
	connCfg.HeartbeatTimeout = 10 * time.Millisecond
	transport := &fakeTransport{}
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))
	conn := transport.lastConn()

	// The server never pongs, so the heartbeat closes the connection.
	assert.Eventually(t, func() bool {
		return m.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	assert.Contains(t, conn.writtenEvents(t), eventPing)
}

func TestHeartbeatPongKeepsConnectionAlive(t *testing.T) {
	connCfg, retryCfg := testConfig()
	connCfg.HeartbeatInterval = 10 * time.Millisecond
	connCfg.HeartbeatTimeout = 50 * time.Millisecond
	transport := &fakeTransport{
		onDial: func(conn *fakeConn) {
			conn.onWrite = func(env Envelope) {
				if env.Event == eventPing {
					pong, _ := newEnvelope(eventPong, nil)
					data, _ := json.Marshal(pong)
					conn.inbound <- data
				}
			}
		},
	}
	m := newTestManager(t, connCfg, retryCfg, transport)

	require.NoError(t, m.Connect(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, transport.dialCount())
}

func TestSendAfterClose(t *testing.T) {
	connCfg, retryCfg := testConfig()
	m := NewManager(connCfg, retryCfg, &fakeTransport{}, loggy.NewNoopLogger())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Send(context.Background(), "x", nil), ErrClosed)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "error", StateError.String())
}
