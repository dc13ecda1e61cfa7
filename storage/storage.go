// Package storage defines the durable key/value collaborator the credential store
// persists into. Implementations are synchronous and scoped to a single origin.
package storage

// KV is string key/value persistence. Get reports ok=false for a missing key.
// Implementations return errors wrapping errors.ErrStorageUnavailable when the
// backing medium cannot be used at all.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}
