// Package websocket is the bridge's consumer push channel.
//
// A Broadcaster runs one HTTP server (default :8080). The WebSocket endpoint
// is mounted at Config.Path ("/" by default, so any path not claimed by
// another handler upgrades); Handle mounts extra endpoints such as /metrics
// and /healthz on the same listener.
//
// Each consumer gets a buffered send queue drained by its own write
// goroutine, so Broadcast never blocks on a slow client. When a queue is
// full the frame is dropped for that consumer only. Consumers detected as
// closed are skipped.
//
// Text frames sent by consumers are handed to the OnMessage callback with
// the consumer's id; the bridge uses this for the "vibrate" trigger.
// Connections are kept alive with pings every PingInterval; a consumer that
// stops answering is dropped when its read deadline expires.
package websocket
