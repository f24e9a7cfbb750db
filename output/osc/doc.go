// Package osc sends messages to the device.
//
// The Sender owns the bridge's Readiness signal. Readiness starts false and
// flips to true exactly once, when Open has resolved the device address and
// bound the local socket. Anything that sends (the bridge, the actuation
// sequencer) is handed the same Readiness and checks it before sending.
//
// Send before readiness is refused: the call logs at error level and returns
// a transient error wrapping errors.ErrTransportNotReady. It never panics and
// never queues. After readiness each Send encodes one message and writes one
// datagram without waiting for an acknowledgement. There is no reconnect;
// UDP has no connection to lose.
package osc
