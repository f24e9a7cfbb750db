// Package hapticbridge is the host-side bridge for the haptic hand controller
// prototype.
//
// The device streams OSC datagrams over UDP. The bridge decodes them and
// routes each message by address:
//
//   - /orientation samples become {"theta":..,"phi":..} JSON frames pushed to
//     every connected WebSocket consumer.
//   - /gyro samples are appended as JSON lines to a telemetry file and,
//     when NATS is configured, mirrored to a subject or JetStream stream.
//   - /vibrate reports from the device are logged.
//
// Consumers request haptic feedback by sending the text "vibrate". The bridge
// answers with a vibration pulse on the device: /vibrate 1, then /vibrate 0
// after the configured duration.
//
// # Layout
//
//   - message: OSC message model and wire codec
//   - input/osc: inbound UDP listener
//   - output/websocket: consumer push channel
//   - output/osc: outbound UDP sender with readiness gate
//   - output/file: append-only telemetry store
//   - processor/telemetry: /gyro recorder and NATS sink
//   - processor/actuation: vibration pulse sequencer
//   - bridge: routing controller tying the above together
//   - natsclient: optional NATS connection
//   - config, component, health, metric, errors, pkg/retry, pkg/worker:
//     shared infrastructure
//   - cmd/hapticbridge: the daemon
package hapticbridge
