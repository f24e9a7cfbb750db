package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
)

func startBroadcaster(t *testing.T, setup func(b *Broadcaster)) *Broadcaster {
	t.Helper()
	b := NewBroadcaster(BroadcasterDeps{
		Config:          Config{Bind: "127.0.0.1", Port: 0, PingInterval: time.Hour},
		MetricsRegistry: metric.NewMetricsRegistry(),
	})
	if setup != nil {
		setup(b)
	}
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(2 * time.Second) })
	return b
}

func dial(t *testing.T, b *Broadcaster) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr().String()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitConsumers(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.ConsumerCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

func TestBroadcaster_DeliversToAllConsumers(t *testing.T) {
	b := startBroadcaster(t, nil)
	c1, c2 := dial(t, b), dial(t, b)
	waitConsumers(t, b, 2)

	n := b.Broadcast(context.Background(), []byte(`{"theta":0.5,"phi":1.2}`))
	assert.Equal(t, 2, n)

	assert.Equal(t, `{"theta":0.5,"phi":1.2}`, readText(t, c1))
	assert.Equal(t, `{"theta":0.5,"phi":1.2}`, readText(t, c2))
}

func TestBroadcaster_SkipsClosedConsumers(t *testing.T) {
	b := startBroadcaster(t, nil)

	const total, closed = 5, 2
	conns := make([]*websocket.Conn, total)
	for i := range conns {
		conns[i] = dial(t, b)
	}
	waitConsumers(t, b, total)

	// Mark some consumers as detected-closed without removing them yet.
	b.consumersMu.RLock()
	marked := 0
	for _, c := range b.consumers {
		if marked == closed {
			break
		}
		c.closed.Store(true)
		marked++
	}
	b.consumersMu.RUnlock()

	n := b.Broadcast(context.Background(), []byte("ping"))
	assert.Equal(t, total-closed, n)
	assert.Equal(t, total-closed, b.ConsumerCount())
}

func TestBroadcaster_NoConsumers(t *testing.T) {
	b := startBroadcaster(t, nil)
	assert.Equal(t, 0, b.Broadcast(context.Background(), []byte("x")))
}

func TestBroadcaster_ConsumerDisconnectRemoves(t *testing.T) {
	b := startBroadcaster(t, nil)
	conn := dial(t, b)
	waitConsumers(t, b, 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	waitConsumers(t, b, 0)
	assert.Equal(t, 0, b.Broadcast(context.Background(), []byte("x")))
}

func TestBroadcaster_OnMessage(t *testing.T) {
	var mu sync.Mutex
	var got []string
	b := startBroadcaster(t, func(b *Broadcaster) {
		b.OnMessage(func(_ context.Context, consumerID, text string) {
			mu.Lock()
			defer mu.Unlock()
			assert.NotEmpty(t, consumerID)
			got = append(got, text)
		})
	})

	conn := dial(t, b)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("vibrate")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "vibrate"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcaster_FullQueueDrops(t *testing.T) {
	b := NewBroadcaster(BroadcasterDeps{Config: Config{SendQueue: 1}})
	c := &consumer{id: "slow", send: make(chan []byte, 1), done: make(chan struct{})}
	b.consumers[c.id] = c

	assert.Equal(t, 1, b.Broadcast(context.Background(), []byte("a")))
	assert.Equal(t, 0, b.Broadcast(context.Background(), []byte("b")))
	assert.Equal(t, int64(1), b.dropped.Load())
}

func TestBroadcaster_HandleMountsExtraEndpoints(t *testing.T) {
	b := startBroadcaster(t, func(b *Broadcaster) {
		require.NoError(t, b.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		})))
		assert.Error(t, b.Handle("/", http.NotFoundHandler()))
	})

	resp, err := http.Get("http://" + b.Addr().String() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))

	err = b.Handle("/late", http.NotFoundHandler())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestBroadcaster_BindFailureIsFatal(t *testing.T) {
	first := startBroadcaster(t, nil)
	_, port := splitPort(t, first.Addr().String())

	second := NewBroadcaster(BroadcasterDeps{Config: Config{Bind: "127.0.0.1", Port: port}})
	err := second.Start(context.Background())
	require.Error(t, err)
	var ce *errors.ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errors.ErrorFatal, ce.Class)
}

func TestBroadcaster_StopClosesConsumers(t *testing.T) {
	b := startBroadcaster(t, nil)
	conn := dial(t, b)
	waitConsumers(t, b, 1)

	require.NoError(t, b.Stop(2*time.Second))
	assert.False(t, b.Health().Healthy)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Idempotent.
	assert.NoError(t, b.Stop(time.Second))
}

func splitPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
