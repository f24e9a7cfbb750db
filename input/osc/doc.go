// Package osc receives the device's datagrams.
//
// A Listener binds one UDP socket (default 0.0.0.0:50002), decodes every
// datagram with message.Decode and passes each resulting message to its
// Handler on the read goroutine, so messages reach the handler in arrival
// order. The handler must return quickly; the bridge hands messages to a
// worker queue rather than doing I/O inline.
//
// Datagrams that fail to decode are logged at warn level, counted, and
// dropped. The loop keeps reading. There is no acknowledgement or
// retransmission.
//
// The read loop uses a 100ms read deadline so Stop and context cancellation
// are observed promptly even when the device is silent.
package osc
