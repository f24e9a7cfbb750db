// Package natsclient wraps a single NATS connection for the bridge's
// optional telemetry mirror.
//
// NewClient only records options. Connect dials the server with pkg/retry
// backoff and then leaves reconnection to the nats.go client, tracking the
// state through its disconnect and reconnect callbacks:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("hapticbridge"),
//		natsclient.WithLogger(logger),
//		natsclient.WithMetrics(registry))
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
// Publish writes to a core subject without acknowledgement. EnsureStream and
// PublishToStream use JetStream so mirrored telemetry survives a consumer
// being offline.
//
// TestClient starts a throwaway NATS server in a container for integration
// tests (build tag "integration").
package natsclient
