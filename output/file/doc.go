// Package file persists telemetry as newline-delimited JSON.
//
// A Store opens one file in append mode and writes each record as a single
// line. It never truncates, rewrites or reads back what it wrote. Append
// failures return a transient error wrapping errors.ErrPersistence; callers
// log and count them without interrupting the live data path.
package file
