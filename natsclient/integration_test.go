//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "hapticbridge.test", func(_ context.Context, data []byte) {
		received <- data
	}))
	require.NoError(t, tc.Client.Connection().Flush())

	require.NoError(t, tc.Client.Publish(ctx, "hapticbridge.test", []byte(`{"address":"/gyro"}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"address":"/gyro"}`, string(data))
	case <-ctx.Done():
		t.Fatal("message not received")
	}
	assert.True(t, tc.Client.Health().Healthy)
}

func TestIntegration_StreamPublish(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := tc.Client.EnsureStream(ctx, "TELEMETRY", "telemetry.>")
	require.NoError(t, err)

	// A second call updates in place.
	_, err = tc.Client.EnsureStream(ctx, "TELEMETRY", "telemetry.>")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, tc.Client.PublishToStream(ctx, "telemetry.gyro", []byte(`{}`)))
	}

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)
}

func TestIntegration_Unsubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []byte, 4)
	handler := func(_ context.Context, data []byte) { received <- data }
	require.NoError(t, tc.Client.Subscribe(ctx, "hapticbridge.actuate", handler))
	require.NoError(t, tc.Client.Subscribe(ctx, "hapticbridge.other", handler))
	require.NoError(t, tc.Client.Unsubscribe("hapticbridge.actuate"))
	require.NoError(t, tc.Client.Connection().Flush())

	require.NoError(t, tc.Client.Publish(ctx, "hapticbridge.actuate", []byte("vibrate")))
	require.NoError(t, tc.Client.Publish(ctx, "hapticbridge.other", []byte("kept")))

	select {
	case data := <-received:
		assert.Equal(t, "kept", string(data))
	case <-ctx.Done():
		t.Fatal("message not received")
	}
	assert.Empty(t, received)
}
