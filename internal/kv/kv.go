// Package kv defines the string key-value port that durable learner state is
// written through, together with in-memory and single-file implementations.
//
// Database-backed implementations live in the sqlite and postgres
// subpackages. Every implementation is safe for concurrent use; writes to
// the same key are last-write-wins.
package kv

import "context"

// Store is the persistence port. Values are opaque strings (JSON documents in
// practice).
type Store interface {
	// Get returns the value stored under key. ok is false when the key has
	// never been written; err is reserved for backend failures.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set overwrites the value stored under key.
	Set(ctx context.Context, key, value string) error
}

// Pinger is implemented by stores with a remote backend that can be probed for
// readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
