// Package component defines the contracts shared by the bridge's runtime
// pieces: the inbound listener, the outbound sender, the consumer
// broadcaster and the controller.
//
// Every component is Discoverable (Meta, Health, DataFlow). Components with
// sockets or goroutines also implement LifecycleComponent:
//
//	Initialize() error                  validate configuration, allocate nothing external
//	Start(ctx context.Context) error    bind sockets, launch goroutines
//	Stop(timeout time.Duration) error   release resources within timeout
//
// Components never store the context passed to Start; goroutines receive it
// as a parameter and exit when it is cancelled or Stop is called.
//
// Manager runs a fixed list of LifecycleComponents: Start walks the list in
// order and rolls back on the first failure, Stop walks it in reverse. The
// bridge registers components so that consumers of a transport stop before
// the transport itself closes.
package component
