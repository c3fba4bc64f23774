package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorageAdapter implements StorageAdapter on the local file system.
// Each object is a file under the base path; metadata lives in a sidecar
// JSON file so it round-trips like object-store metadata.
type LocalStorageAdapter struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageAdapter creates a new LocalStorageAdapter instance
func NewLocalStorageAdapter(config *LocalConfig) (*LocalStorageAdapter, error) {
	if config == nil {
		return nil, NewConfigurationError("local storage configuration is required", nil)
	}
	if config.BasePath == "" {
		return nil, NewConfigurationError("base path is required for local storage", nil)
	}

	permissions := config.Permissions
	if permissions == 0 {
		permissions = 0o755
	}

	adapter := &LocalStorageAdapter{
		basePath:    config.BasePath,
		permissions: permissions,
	}

	if err := os.MkdirAll(config.BasePath, permissions); err != nil {
		return nil, NewStorageError("failed to create base directory", err)
	}

	return adapter, nil
}

// Put stores data under key with a metadata sidecar
func (lsa *LocalStorageAdapter) Put(ctx context.Context, key string, data []byte, metadata ObjectMetadata) (string, error) {
	path := lsa.objectPath(key)

	if err := os.MkdirAll(filepath.Dir(path), lsa.permissions); err != nil {
		return "", NewStorageError("failed to create object directory", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", NewStorageError("failed to write object file", err)
	}

	if err := lsa.writeMetadata(path, metadata); err != nil {
		// Keep object and metadata consistent: remove the half-written object
		os.Remove(path)
		return "", err
	}

	return path, nil
}

// Get returns the stored bytes for key
func (lsa *LocalStorageAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	path := lsa.objectPath(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageError("failed to read object file", err)
	}

	return data, nil
}

// GetObjectMetadata returns the sidecar metadata for key
func (lsa *LocalStorageAdapter) GetObjectMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	data, err := os.ReadFile(lsa.metadataPath(lsa.objectPath(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(fmt.Sprintf("metadata for object %s not found", key), err)
		}
		return nil, NewStorageError("failed to read metadata file", err)
	}

	var metadata ObjectMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, NewStorageError("failed to unmarshal object metadata", err)
	}

	return metadata, nil
}

// List returns objects whose keys start with prefix
func (lsa *LocalStorageAdapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.WalkDir(lsa.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".meta.json") {
			return nil
		}

		rel, err := filepath.Rel(lsa.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, NewStorageError("failed to list objects", err)
	}

	return objects, nil
}

// Delete removes the object and its metadata sidecar
func (lsa *LocalStorageAdapter) Delete(ctx context.Context, key string) error {
	path := lsa.objectPath(key)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
	}

	if err := os.Remove(path); err != nil {
		return NewStorageError("failed to delete object file", err)
	}

	// Sidecar may be absent for objects written by older versions
	if err := os.Remove(lsa.metadataPath(path)); err != nil && !os.IsNotExist(err) {
		return NewStorageError("failed to delete metadata file", err)
	}

	return nil
}

// Exists reports whether key is present
func (lsa *LocalStorageAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(lsa.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, NewStorageError("failed to stat object file", err)
	}
	return true, nil
}

// HealthCheck verifies the base directory is writable and readable
func (lsa *LocalStorageAdapter) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lsa.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0o644); err != nil {
		return NewStorageError("local storage health check failed: cannot write to base directory", err)
	}

	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageError("local storage health check failed: cannot read from base directory", err)
	}

	os.Remove(testFile)
	return nil
}

// Helper methods

func (lsa *LocalStorageAdapter) objectPath(key string) string {
	clean := strings.ReplaceAll(key, "..", "_")
	return filepath.Join(lsa.basePath, filepath.FromSlash(clean))
}

func (lsa *LocalStorageAdapter) metadataPath(objectPath string) string {
	return objectPath + ".meta.json"
}

func (lsa *LocalStorageAdapter) writeMetadata(objectPath string, metadata ObjectMetadata) error {
	if metadata == nil {
		metadata = ObjectMetadata{}
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return NewStorageError("failed to serialize object metadata", err)
	}

	if err := os.WriteFile(lsa.metadataPath(objectPath), data, 0o644); err != nil {
		return NewStorageError("failed to write metadata file", err)
	}

	return nil
}
