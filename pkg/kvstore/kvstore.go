// Package kvstore provides the durable key-value persistence behind the
// local report store and the credential registry.
package kvstore

import "context"

// Store is a durable string-keyed byte store. Get reports whether the key
// was present.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
