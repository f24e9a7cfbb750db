// Package errors classifies failures in the bridge message path.
//
// Three classes exist: transient (retry or drop and continue), invalid (bad
// input, drop and continue) and fatal (stop startup). The bridge-specific
// sentinels map onto them:
//
//	ErrDecode             invalid    malformed datagram, dropped
//	ErrTransportNotReady  transient  send/actuation before the sender opened
//	ErrPersistence        transient  telemetry append failed, record dropped
//	ErrUnroutable         invalid    inbound address with no route
//
// None of the four propagate far enough to stop the process. Only socket
// binding during startup is wrapped as fatal.
//
// Wrapping follows "component.method: action failed: cause":
//
//	return errors.WrapInvalid(err, "osc-listener", "readLoop", "decode datagram")
package errors
