// Package health aggregates component health for the bridge.
//
// Components report a component.HealthStatus; FromComponentHealth converts
// it into a Status, sanitizing the last error so socket addresses, file paths
// and credentials are not served to unauthenticated HTTP clients. A Monitor
// keeps the latest Status per component and Aggregate folds them into one
// report: any unhealthy component makes the bridge unhealthy, otherwise any
// degraded component makes it degraded.
//
// Handler exposes the aggregate at DefaultPath on the consumer HTTP server,
// answering 503 while the bridge is unhealthy.
package health
