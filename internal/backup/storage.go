package backup

import (
	"context"
	"time"
)

// ObjectMetadata is a flat string map round-tripped with every artifact.
// Object stores carry it as object metadata; the local backend writes a
// sidecar JSON file.
type ObjectMetadata map[string]string

// Standard metadata keys attached to stored artifacts
const (
	MetaBackupID     = "backup-id"
	MetaBackupType   = "backup-type"
	MetaParentID     = "parent-id"
	MetaChecksum     = "checksum"
	MetaAlgorithm    = "compression"
	MetaEncrypted    = "encrypted"
	MetaOriginalSize = "original-size"
)

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// StorageAdapter abstracts artifact storage. The object-storage and local
// filesystem implementations are behaviorally identical from the caller's
// perspective: same error taxonomy, same metadata round-trip. Nothing
// outside the factory branches on which backend is active.
type StorageAdapter interface {
	// Put stores data under key and returns a backend-specific location
	Put(ctx context.Context, key string, data []byte, metadata ObjectMetadata) (string, error)

	// Get returns the stored bytes for key
	Get(ctx context.Context, key string) ([]byte, error)

	// GetObjectMetadata returns the metadata stored alongside key
	GetObjectMetadata(ctx context.Context, key string) (ObjectMetadata, error)

	// List returns objects whose keys start with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object and its metadata
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)

	// HealthCheck verifies the backend is reachable and writable
	HealthCheck(ctx context.Context) error
}
