// Package retry provides exponential backoff for operations that can fail
// briefly at startup: binding the inbound and outbound UDP sockets and
// connecting to the optional NATS broker.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return l.bindSocket()
//	})
//
// Do gives up immediately on errors wrapped with NonRetryable and on errors
// the errors package classifies as invalid or fatal, for example when an
// address cannot be resolved at all.
package retry
