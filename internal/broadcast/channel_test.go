package broadcast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/compute-queue/internal/broker"
	"github.com/mtr002/compute-queue/internal/events"
	"github.com/mtr002/compute-queue/internal/interfaces"
)

var errBrokerDown = errors.New("broker down")

type fakeBroker struct {
	healthy      atomic.Bool
	pings        atomic.Int32
	publishCalls atomic.Int32

	mu        sync.Mutex
	published [][]byte
}

func newFakeBroker(healthy bool) *fakeBroker {
	b := &fakeBroker{}
	b.healthy.Store(healthy)
	return b
}

func (b *fakeBroker) Publish(_ context.Context, _ string, payload []byte) error {
	b.publishCalls.Add(1)
	if !b.healthy.Load() {
		return errBrokerDown
	}
	b.mu.Lock()
	b.published = append(b.published, payload)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string, broker.Handler) (broker.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBroker) Ping(context.Context) error {
	b.pings.Add(1)
	if !b.healthy.Load() {
		return errBrokerDown
	}
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) messages() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (s *fakeSender) Send(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func fastOptions(attempts uint64) Options {
	return Options{
		Channel:     "job-updates",
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    3 * time.Millisecond,
	}
}

func TestPublishUsesBrokerWhenConnected(t *testing.T) {
	b := newFakeBroker(true)
	s := &fakeSender{}
	c := NewChannel(b, s, fastOptions(3))
	defer c.Close()

	c.Start(context.Background())
	require.Equal(t, StateConnected, c.State())

	c.Publish(context.Background(), events.JobCreated("job-1"))

	msgs := b.messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"type":"job_created","jobId":"job-1"}`, string(msgs[0]))
	assert.Zero(t, s.count())
}

func TestPublishWithoutBrokerGoesDirect(t *testing.T) {
	s := &fakeSender{}
	c := NewChannel(nil, s, fastOptions(3))
	defer c.Close()

	c.Start(context.Background())
	assert.Equal(t, StateDisabled, c.State())

	c.Publish(context.Background(), events.JobCreated("job-1"))
	assert.Equal(t, 1, s.count())
}

func TestPublishSwallowsAllFailures(t *testing.T) {
	b := newFakeBroker(true)
	s := &fakeSender{err: ErrNotConnected}
	c := NewChannel(b, s, fastOptions(2))
	defer c.Close()
	c.Start(context.Background())

	b.healthy.Store(false)
	assert.NotPanics(t, func() {
		c.Publish(context.Background(), events.JobCreated("job-1"))
		c.Publish(context.Background(), &events.Event{Type: "bogus"})
	})

	noPaths := NewChannel(nil, nil, fastOptions(1))
	defer noPaths.Close()
	assert.NotPanics(t, func() {
		noPaths.Publish(context.Background(), events.JobCreated("job-1"))
	})
}

func TestReconnectExhaustionDisablesBroker(t *testing.T) {
	b := newFakeBroker(true)
	s := &fakeSender{}
	c := NewChannel(b, s, fastOptions(3))
	defer c.Close()

	c.Start(context.Background())
	b.healthy.Store(false)

	c.Publish(context.Background(), events.JobCreated("job-1"))
	assert.Equal(t, 1, s.count())

	require.Eventually(t, func() bool { return c.State() == StateDisabled }, time.Second, 5*time.Millisecond)
	// one startup probe plus three reconnect pings
	assert.EqualValues(t, 4, b.pings.Load())

	// broker comes back but stays unused until restart
	b.healthy.Store(true)
	c.Publish(context.Background(), events.JobCreated("job-2"))
	assert.EqualValues(t, 1, b.publishCalls.Load())
	assert.Equal(t, 2, s.count())
}

func TestReconnectRestoresBroker(t *testing.T) {
	b := newFakeBroker(true)
	s := &fakeSender{}
	c := NewChannel(b, s, Options{MaxAttempts: 1000, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	defer c.Close()

	c.Start(context.Background())
	b.healthy.Store(false)

	c.Publish(context.Background(), events.JobCreated("job-1"))
	assert.Equal(t, StateReconnecting, c.State())

	// further failures during an outage do not start a second loop
	c.Publish(context.Background(), events.JobCreated("job-2"))
	assert.EqualValues(t, 1, b.publishCalls.Load())
	assert.Equal(t, 2, s.count())

	b.healthy.Store(true)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)

	c.Publish(context.Background(), events.JobCreated("job-3"))
	assert.Len(t, b.messages(), 1)
	assert.Equal(t, 2, s.count())
}

func TestUnreachableBrokerAtStartupReconnects(t *testing.T) {
	b := newFakeBroker(false)
	c := NewChannel(b, &fakeSender{}, fastOptions(1000))
	defer c.Close()

	c.Start(context.Background())
	assert.NotEqual(t, StateConnected, c.State())

	b.healthy.Store(true)
	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
}

// gatewayDouble accepts WebSocket connections and records every frame
type gatewayDouble struct {
	server   *httptest.Server
	received chan []byte
}

func newGatewayDouble(t *testing.T) *gatewayDouble {
	g := &gatewayDouble{received: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			g.received <- msg
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gatewayDouble) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func TestBrokerFailureDeliversDirectlyExactlyOnce(t *testing.T) {
	gw := newGatewayDouble(t)

	direct := NewDirect(gw.url(), nil, 10*time.Millisecond)
	direct.Start()
	defer direct.Close()
	require.Eventually(t, direct.Connected, 2*time.Second, 5*time.Millisecond)

	b := newFakeBroker(true)
	c := NewChannel(b, direct, fastOptions(1))
	defer c.Close()
	c.Start(context.Background())
	b.healthy.Store(false)

	c.Publish(context.Background(), events.OperationComplete("job-1", interfaces.OperationMultiply, 42))

	select {
	case msg := <-gw.received:
		assert.JSONEq(t, `{"type":"operation_complete","jobId":"job-1","operation":"multiply","result":42}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not receive the event")
	}

	select {
	case msg := <-gw.received:
		t.Fatalf("duplicate delivery: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Empty(t, b.messages())
}

func TestDirectSendBeforeConnect(t *testing.T) {
	d := NewDirect("ws://127.0.0.1:1/ws", nil, time.Hour)
	err := d.Send(context.Background(), []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, d.Connected())
	require.NoError(t, d.Close())
}

func TestDirectRedialsAfterDrop(t *testing.T) {
	var accepted atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// drop the first connection immediately
		if accepted.Add(1) == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewDirect("ws"+strings.TrimPrefix(srv.URL, "http"), nil, 10*time.Millisecond)
	d.Start()
	defer d.Close()

	require.Eventually(t, func() bool { return accepted.Load() >= 2 && d.Connected() }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, d.Send(context.Background(), []byte(`{"type":"job_created","jobId":"a"}`)))
}

func TestDirectCloseDuringHandshake(t *testing.T) {
	requested := make(chan struct{})
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(requested)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewDirect("ws"+strings.TrimPrefix(srv.URL, "http"), nil, time.Hour)
	d.Start()
	<-requested

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool { return d.ctx.Err() != nil }, time.Second, time.Millisecond)
	close(release)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a connection established during shutdown")
	}
	assert.False(t, d.Connected())
}

func TestDirectSendsHeader(t *testing.T) {
	tokens := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case tokens <- r.Header.Get("X-Gateway-Token"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewDirect("ws"+strings.TrimPrefix(srv.URL, "http"), http.Header{"X-Gateway-Token": {"s3cret"}}, time.Hour)
	d.Start()
	defer d.Close()

	select {
	case tok := <-tokens:
		assert.Equal(t, "s3cret", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway was never dialed")
	}
}

func TestBackoffIsLinearAndCapped(t *testing.T) {
	c := NewChannel(nil, nil, Options{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    350 * time.Millisecond,
	})
	defer c.Close()

	b := c.backoff()
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		350 * time.Millisecond,
		350 * time.Millisecond,
	}
	for i, w := range want {
		d, stop := b.Next()
		require.False(t, stop, "stopped early at retry %d", i+1)
		assert.Equal(t, w, d, "retry %d", i+1)
	}
	_, stop := b.Next()
	assert.True(t, stop)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "disabled", StateDisabled.String())
}
