// Package telemetry records sensor telemetry.
//
// The Recorder watches for one message address (/gyro unless configured
// otherwise). Each matching message becomes one TelemetryRecord stamped
// with the current UTC time in millisecond precision:
//
//	{"timestamp":"2024-05-01T12:00:00.000Z","address":"/gyro","args":[0.1,0.2,0.3]}
//
// The record is serialized once on the caller's goroutine and queued for a
// single writer that hands it to every Sink in order. The file store in
// output/file is the primary sink; NATSSink mirrors the same line onto a
// NATS subject. A failing sink is logged as errors.ErrPersistence and
// counted; it never stops other sinks or the caller. A full queue drops the
// record the same way.
package telemetry
