package backup

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStorageAdapter implements StorageAdapter on Azure Blob Storage
type AzureStorageAdapter struct {
	containerURL  azblob.ContainerURL
	containerName string
}

// NewAzureStorageAdapter creates a new AzureStorageAdapter instance
func NewAzureStorageAdapter(config *AzureConfig) (*AzureStorageAdapter, error) {
	if config == nil {
		return nil, NewConfigurationError("Azure storage configuration is required", nil)
	}
	if config.AccountName == "" || config.AccountKey == "" {
		return nil, NewConfigurationError("Azure account name and key are required", nil)
	}
	if config.ContainerName == "" {
		return nil, NewConfigurationError("Azure container name is required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStorageAdapter{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
	}, nil
}

// Put uploads data to Azure Blob Storage with blob metadata
func (aza *AzureStorageAdapter) Put(ctx context.Context, key string, data []byte, metadata ObjectMetadata) (string, error) {
	blobURL := aza.containerURL.NewBlockBlobURL(key)

	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024, // 4MB blocks
		Parallelism: 16,
		Metadata:    azblob.Metadata(metadata),
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", NewStorageError("failed to upload blob to Azure", err)
	}

	return fmt.Sprintf("azure://%s/%s", aza.containerName, key), nil
}

// Get downloads a blob from Azure Blob Storage
func (aza *AzureStorageAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	blobURL := aza.containerURL.NewBlockBlobURL(key)

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download blob %s from Azure", key), err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return nil, NewStorageError("failed to read blob body", err)
	}

	return buf.Bytes(), nil
}

// GetObjectMetadata returns the blob metadata without downloading the body
func (aza *AzureStorageAdapter) GetObjectMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	blobURL := aza.containerURL.NewBlockBlobURL(key)

	props, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageError("failed to read blob properties", err)
	}

	metadata := make(ObjectMetadata)
	for k, v := range props.NewMetadata() {
		metadata[k] = v
	}

	return metadata, nil
}

// List returns blobs under prefix
func (aza *AzureStorageAdapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := aza.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list blobs from Azure", err)
		}
		marker = resp.NextMarker

		for _, blob := range resp.Segment.BlobItems {
			var size int64
			if blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			objects = append(objects, ObjectInfo{
				Key:          blob.Name,
				Size:         size,
				LastModified: blob.Properties.LastModified,
			})
		}
	}

	return objects, nil
}

// Delete removes a blob from Azure Blob Storage
func (aza *AzureStorageAdapter) Delete(ctx context.Context, key string) error {
	blobURL := aza.containerURL.NewBlockBlobURL(key)

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil {
		if isAzureNotFound(err) {
			return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return NewStorageError("failed to delete blob from Azure", err)
	}

	return nil
}

// Exists reports whether key is present in the container
func (aza *AzureStorageAdapter) Exists(ctx context.Context, key string) (bool, error) {
	blobURL := aza.containerURL.NewBlockBlobURL(key)

	_, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, NewStorageError("failed to check blob existence", err)
	}
	return true, nil
}

// HealthCheck verifies the container is accessible
func (aza *AzureStorageAdapter) HealthCheck(ctx context.Context) error {
	_, err := aza.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return NewStorageError("Azure health check failed: container not accessible", err)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	if stgErr, ok := err.(azblob.StorageError); ok {
		return stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}
