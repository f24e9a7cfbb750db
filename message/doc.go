// Package message defines the bridge's data model and its datagram codec.
//
// A ProtocolMessage is an address ("/orientation", "/gyro", "/vibrate") and
// an ordered list of typed arguments. Each Arg carries a one-letter type tag
// and serializes to JSON as the tagged wrapper {"type":"i","value":1};
// Flatten strips the tags for telemetry persistence.
//
// Decode and Encode translate between ProtocolMessage and the OSC 1.0 binary
// encoding using github.com/hypebeast/go-osc. Decode flattens bundles, so a
// bundle of three messages is routed as three messages in order.
//
// OrientationSample and TelemetryRecord are the two derived payloads: the
// first is pushed to WebSocket consumers, the second is appended as one JSON
// line per /gyro message.
package message
