package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageAdapter implements StorageAdapter on Google Cloud Storage
type GCSStorageAdapter struct {
	client     *storage.Client
	bucketName string
}

// NewGCSStorageAdapter creates a new GCSStorageAdapter instance
func NewGCSStorageAdapter(ctx context.Context, config *GCSConfig) (*GCSStorageAdapter, error) {
	if config == nil {
		return nil, NewConfigurationError("GCS storage configuration is required", nil)
	}
	if config.Bucket == "" {
		return nil, NewConfigurationError("GCS bucket name is required", nil)
	}

	var client *storage.Client
	var err error

	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		// Use default credentials (e.g., from environment or metadata server)
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageAdapter{
		client:     client,
		bucketName: config.Bucket,
	}, nil
}

// Put uploads data to GCS with object metadata
func (gcsa *GCSStorageAdapter) Put(ctx context.Context, key string, data []byte, metadata ObjectMetadata) (string, error) {
	obj := gcsa.client.Bucket(gcsa.bucketName).Object(key)

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = metadata

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", NewStorageError("failed to write object to GCS", err)
	}
	if err := w.Close(); err != nil {
		return "", NewStorageError("failed to upload object to GCS", err)
	}

	return fmt.Sprintf("gs://%s/%s", gcsa.bucketName, key), nil
}

// Get downloads an object from GCS
func (gcsa *GCSStorageAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := gcsa.client.Bucket(gcsa.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to open object %s from GCS", key), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewStorageError("failed to read object body", err)
	}

	return data, nil
}

// GetObjectMetadata returns the object metadata without downloading the body
func (gcsa *GCSStorageAdapter) GetObjectMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	attrs, err := gcsa.client.Bucket(gcsa.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageError("failed to read object attributes", err)
	}

	metadata := make(ObjectMetadata, len(attrs.Metadata))
	for k, v := range attrs.Metadata {
		metadata[k] = v
	}

	return metadata, nil
}

// List returns objects under prefix
func (gcsa *GCSStorageAdapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := gcsa.client.Bucket(gcsa.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list objects from GCS", err)
		}

		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}

	return objects, nil
}

// Delete removes an object from GCS
func (gcsa *GCSStorageAdapter) Delete(ctx context.Context, key string) error {
	err := gcsa.client.Bucket(gcsa.bucketName).Object(key).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return NewStorageError("failed to delete object from GCS", err)
	}
	return nil
}

// Exists reports whether key is present in the bucket
func (gcsa *GCSStorageAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := gcsa.client.Bucket(gcsa.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, NewStorageError("failed to check object existence", err)
	}
	return true, nil
}

// HealthCheck verifies the bucket is accessible
func (gcsa *GCSStorageAdapter) HealthCheck(ctx context.Context) error {
	_, err := gcsa.client.Bucket(gcsa.bucketName).Attrs(ctx)
	if err != nil {
		return NewStorageError("GCS health check failed: bucket not accessible", err)
	}
	return nil
}

// Close releases the underlying client
func (gcsa *GCSStorageAdapter) Close() error {
	return gcsa.client.Close()
}
