package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salernoelia/haptic-hand-controller-prototype/config"
	"github.com/salernoelia/haptic-hand-controller-prototype/message"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("HAPTICBRIDGE_CONFIG", "")
	t.Setenv("HAPTICBRIDGE_SHUTDOWN_TIMEOUT", "")

	cli, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Empty(t, cli.ConfigPath)
	assert.Empty(t, cli.LogLevel)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)
	assert.False(t, cli.Validate)
	assert.False(t, cli.ShowVersion)
}

func TestParseFlags_Values(t *testing.T) {
	cli, err := parseFlags([]string{
		"-c", "bridge.yaml",
		"--log-level=debug",
		"--log-format", "json",
		"--shutdown-timeout=3s",
		"--validate",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "bridge.yaml", cli.ConfigPath)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "json", cli.LogFormat)
	assert.Equal(t, 3*time.Second, cli.ShutdownTimeout)
	assert.True(t, cli.Validate)
}

func TestParseFlags_Environment(t *testing.T) {
	t.Setenv("HAPTICBRIDGE_CONFIG", "/etc/hapticbridge.toml")
	t.Setenv("HAPTICBRIDGE_SHUTDOWN_TIMEOUT", "2s")

	cli, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/etc/hapticbridge.toml", cli.ConfigPath)
	assert.Equal(t, 2*time.Second, cli.ShutdownTimeout)
}

func TestParseFlags_Errors(t *testing.T) {
	for name, args := range map[string][]string{
		"unknown flag":     {"--nope"},
		"positional":       {"extra"},
		"zero timeout":     {"--shutdown-timeout=0s"},
		"malformed timout": {"--shutdown-timeout=soon"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseFlags(args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, Version, entry["version"])
	assert.Equal(t, "value", entry["key"])
}

func TestSetupLogger_TextDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "bogus", "")
	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func testConfig(t *testing.T, device *net.UDPConn) *config.Config {
	cfg := config.Default()
	cfg.Inbound = config.InboundConfig{Bind: "127.0.0.1", Port: 0}
	cfg.Outbound = config.OutboundConfig{
		Host:      "127.0.0.1",
		Port:      device.LocalAddr().(*net.UDPAddr).Port,
		LocalBind: "127.0.0.1",
	}
	cfg.Consumers.Bind = "127.0.0.1"
	cfg.Consumers.Port = 0
	cfg.Telemetry.Path = filepath.Join(t.TempDir(), "gyro_data.jsonl")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	device, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer device.Close()

	a := newApp(testConfig(t, device), setupLogger(io.Discard, "error", "text"))
	require.NoError(t, a.Start(context.Background(), time.Second))
	defer func() { assert.NoError(t, a.Stop(2*time.Second)) }()

	require.Eventually(t, a.sender.IsReady, 2*time.Second, 10*time.Millisecond)
	base := "http://" + a.broadcaster.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "hapticbridge_")

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+a.broadcaster.Addr().String()+"/", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return a.broadcaster.ConsumerCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	// Device orientation reaches the consumer.
	data, err := message.Encode(message.New(message.AddressOrientation,
		message.Float32(1.5), message.Float32(-0.25)))
	require.NoError(t, err)
	out, err := net.DialUDP("udp", nil, a.listener.Addr())
	require.NoError(t, err)
	defer out.Close()
	_, err = out.Write(data)
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"theta":1.5,"phi":-0.25}`, string(frame))

	// Consumer request pulses the actuator.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("vibrate")))
	require.NoError(t, device.SetReadDeadline(time.Now().Add(2*time.Second)))
	var states []string
	buf := make([]byte, 1024)
	for len(states) < 2 {
		n, _, err := device.ReadFromUDP(buf)
		require.NoError(t, err)
		msgs, err := message.Decode(buf[:n])
		require.NoError(t, err)
		for _, m := range msgs {
			v, err := m.Int(0)
			require.NoError(t, err)
			states = append(states, fmt.Sprintf("%s=%d", m.Address, v))
		}
	}
	assert.Equal(t, []string{"/vibrate=1", "/vibrate=0"}, states)
}

func TestApp_StartsWithUnwritableTelemetryPath(t *testing.T) {
	device, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer device.Close()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg := testConfig(t, device)
	cfg.Telemetry.Path = filepath.Join(blocker, "gyro_data.jsonl")

	a := newApp(cfg, setupLogger(io.Discard, "error", "text"))
	require.NoError(t, a.Start(context.Background(), time.Second))
	defer func() { assert.NoError(t, a.Stop(2*time.Second)) }()
	assert.True(t, a.store.Health().Degraded)

	resp, err := http.Get("http://" + a.broadcaster.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+a.broadcaster.Addr().String()+"/", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return a.broadcaster.ConsumerCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	out, err := net.DialUDP("udp", nil, a.listener.Addr())
	require.NoError(t, err)
	defer out.Close()
	for _, msg := range []message.ProtocolMessage{
		message.New(message.AddressGyro, message.Float32(0.1), message.Float32(0.2), message.Float32(0.3)),
		message.New(message.AddressOrientation, message.Float32(0.5), message.Float32(1)),
	} {
		data, err := message.Encode(msg)
		require.NoError(t, err)
		_, err = out.Write(data)
		require.NoError(t, err)
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"theta":0.5,"phi":1}`, string(frame))
}

func TestApp_StartFailsWhenConsumerPortTaken(t *testing.T) {
	device, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer device.Close()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t, device)
	cfg.Consumers.Port = taken.Addr().(*net.TCPAddr).Port

	a := newApp(cfg, setupLogger(io.Discard, "error", "text"))
	assert.Error(t, a.Start(context.Background(), time.Second))
	assert.NoError(t, a.Stop(time.Second))
	assert.False(t, a.sender.IsReady())
}
