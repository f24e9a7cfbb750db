// Package worker provides a generic bounded worker pool.
//
// The bridge uses a single-worker Pool to move decoded protocol messages off
// the UDP read loop: Submit never blocks, so a slow consumer fan-out or disk
// append cannot stall datagram reception, and one worker keeps messages in
// arrival order. When the queue is full Submit returns ErrQueueFull and the
// caller decides what to log.
//
//	pool := worker.NewPool(1, 256, func(ctx context.Context, msg message.ProtocolMessage) error {
//	    return c.Route(ctx, msg)
//	}, worker.WithMetricsRegistry[message.ProtocolMessage](registry, "bridge_dispatch"))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// All returned errors are sentinels from errors.go and can be compared with
// errors.Is.
package worker
