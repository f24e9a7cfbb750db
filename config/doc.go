// Package config loads the bridge configuration.
//
// Default returns a complete configuration: device datagrams in on
// 0.0.0.0:50002, actuator commands out to 192.168.1.118:50001, WebSocket
// consumers on :8080, 100ms vibration pulses and /gyro telemetry appended
// to gyro_data.jsonl.
//
// Loader.Load overlays one file on the defaults. The decoder is chosen by
// extension:
//
//	.json .jsonc   JSON with comments and trailing commas
//	.yaml .yml     YAML
//	.toml          TOML
//
// Keys missing from the file keep their defaults and unknown keys are an
// error. Durations are strings such as "250ms". Environment variables named
// HAPTICBRIDGE_<SECTION>_<KEY> are applied last, for example
// HAPTICBRIDGE_OUTBOUND_HOST or HAPTICBRIDGE_ACTUATION_DURATION. Setting
// HAPTICBRIDGE_NATS_URL also enables the NATS mirror.
package config
