// Package kvstore provides the named-blob persistence used for the durable
// discovery snapshot and the opaque settings blob. The default in-process
// implementation is Memory; SQLStore persists across restarts.
package kvstore

// Store defines the interface for named-blob persistence.
type Store interface {
	// Load returns the blob stored under key, and whether it was present.
	Load(key string) ([]byte, bool, error)
	// Save stores value under key, replacing any previous blob.
	Save(key string, value []byte) error
	// Delete removes the blob stored under key. Deleting a missing key is not an error.
	Delete(key string) error
	Close() error
}
