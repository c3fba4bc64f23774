package backup

import (
	"context"
	"fmt"
)

// NewStorageAdapter creates the configured storage backend. This is the
// single place the backend selection switch lives; every caller works
// against the StorageAdapter interface.
func NewStorageAdapter(ctx context.Context, config StorageConfig) (StorageAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid storage configuration", err)
	}

	switch config.Backend {
	case StorageBackendLocal:
		return NewLocalStorageAdapter(config.Local)

	case StorageBackendS3:
		return NewS3StorageAdapter(config.S3)

	case StorageBackendGCS:
		return NewGCSStorageAdapter(ctx, config.GCS)

	case StorageBackendAzure:
		return NewAzureStorageAdapter(config.Azure)

	default:
		return nil, NewConfigurationError(fmt.Sprintf("unsupported storage backend: %s", config.Backend), nil)
	}
}

// SupportedStorageBackends returns the list of supported backend types
func SupportedStorageBackends() []StorageBackendType {
	return []StorageBackendType{
		StorageBackendLocal,
		StorageBackendS3,
		StorageBackendGCS,
		StorageBackendAzure,
	}
}
