package osc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salernoelia/haptic-hand-controller-prototype/errors"
	"github.com/salernoelia/haptic-hand-controller-prototype/message"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
	"github.com/salernoelia/haptic-hand-controller-prototype/pkg/retry"
)

func startListener(t *testing.T, registry *metric.MetricsRegistry) (*Listener, <-chan message.ProtocolMessage) {
	t.Helper()

	received := make(chan message.ProtocolMessage, 16)
	l := NewListener(ListenerDeps{
		Config:          Config{Bind: "127.0.0.1", Port: 0},
		MetricsRegistry: registry,
		Handler: func(_ context.Context, msg message.ProtocolMessage) {
			received <- msg
		},
	})

	require.NoError(t, l.Initialize())
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(time.Second) })
	return l, received
}

func send(t *testing.T, to *net.UDPAddr, data []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, to)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func encode(t *testing.T, msg message.ProtocolMessage) []byte {
	t.Helper()
	data, err := message.Encode(msg)
	require.NoError(t, err)
	return data
}

func next(t *testing.T, ch <-chan message.ProtocolMessage) message.ProtocolMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return message.ProtocolMessage{}
	}
}

func TestListener_DeliversDecodedMessages(t *testing.T) {
	l, received := startListener(t, nil)

	send(t, l.Addr(), encode(t, message.New(message.AddressOrientation, message.Float32(0.5), message.Float32(1.2))))

	msg := next(t, received)
	assert.Equal(t, "/orientation", msg.Address)
	assert.Equal(t, []any{0.5, 1.2}, msg.Flatten())
	assert.True(t, l.Health().Healthy)
}

func TestListener_MalformedDatagramBetweenGoodOnes(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	l, received := startListener(t, registry)

	send(t, l.Addr(), encode(t, message.New(message.AddressGyro, message.Int32(1))))
	send(t, l.Addr(), []byte("definitely not a packet"))
	send(t, l.Addr(), encode(t, message.New(message.AddressGyro, message.Int32(2))))

	first := next(t, received)
	second := next(t, received)

	v1, err := first.Int(0)
	require.NoError(t, err)
	v2, err := second.Int(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{v1, v2})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(l.metrics.decodeErrors) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, l.Health().ErrorCount)
	assert.True(t, l.Health().Healthy)
	assert.Equal(t, int64(3), l.datagrams.Load())
}

func TestListener_InitializeValidation(t *testing.T) {
	l := NewListener(ListenerDeps{Config: Config{Port: 70000}, Handler: func(context.Context, message.ProtocolMessage) {}})
	err := l.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	l = NewListener(ListenerDeps{Config: DefaultConfig()})
	assert.Error(t, l.Initialize())
}

func TestListener_BindFailureIsFatal(t *testing.T) {
	holder, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer holder.Close()

	cfg := retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	l := NewListener(ListenerDeps{
		Config:      Config{Bind: "127.0.0.1", Port: holder.LocalAddr().(*net.UDPAddr).Port},
		Handler:     func(context.Context, message.ProtocolMessage) {},
		RetryConfig: &cfg,
	})

	err = l.Start(context.Background())
	require.Error(t, err)
	var ce *errors.ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errors.ErrorFatal, ce.Class)
	assert.False(t, l.Health().Healthy)
}

func TestListener_StopIsIdempotent(t *testing.T) {
	l, _ := startListener(t, nil)

	require.NoError(t, l.Stop(time.Second))
	require.NoError(t, l.Stop(time.Second))
	assert.Nil(t, l.Addr())
	assert.False(t, l.Health().Healthy)
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, Config{Bind: "0.0.0.0", Port: 50002}, DefaultConfig())
}
