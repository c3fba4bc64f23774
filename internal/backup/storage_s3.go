package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3StorageAdapter implements StorageAdapter on Amazon S3
type S3StorageAdapter struct {
	client *s3.S3
	bucket string
}

// NewS3StorageAdapter creates a new S3StorageAdapter instance
func NewS3StorageAdapter(config *S3Config) (*S3StorageAdapter, error) {
	if config == nil {
		return nil, NewConfigurationError("S3 storage configuration is required", nil)
	}
	if config.Bucket == "" {
		return nil, NewConfigurationError("S3 bucket name is required", nil)
	}
	if config.Region == "" {
		return nil, NewConfigurationError("S3 region is required", nil)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3StorageAdapter{
		client: s3.New(sess),
		bucket: config.Bucket,
	}, nil
}

// Put uploads data to S3 with object metadata
func (s3a *S3StorageAdapter) Put(ctx context.Context, key string, data []byte, metadata ObjectMetadata) (string, error) {
	awsMetadata := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		awsMetadata[k] = aws.String(v)
	}

	_, err := s3a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    awsMetadata,
	})
	if err != nil {
		return "", NewStorageError("failed to upload object to S3", err)
	}

	return fmt.Sprintf("s3://%s/%s", s3a.bucket, key), nil
}

// Get downloads an object from S3
func (s3a *S3StorageAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s3a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download object %s from S3", key), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, NewStorageError("failed to read object body", err)
	}

	return data, nil
}

// GetObjectMetadata returns the object metadata without downloading the body
func (s3a *S3StorageAdapter) GetObjectMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	result, err := s3a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, NewStorageError("failed to head object", err)
	}

	metadata := make(ObjectMetadata, len(result.Metadata))
	for k, v := range result.Metadata {
		// S3 canonicalizes user metadata keys; normalize back to lowercase
		metadata[strings.ToLower(k)] = aws.StringValue(v)
	}

	return metadata, nil
}

// List returns objects under prefix
func (s3a *S3StorageAdapter) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := s3a.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3a.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.StringValue(obj.Key),
				Size:         aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list objects from S3", err)
	}

	return objects, nil
}

// Delete removes an object from S3
func (s3a *S3StorageAdapter) Delete(ctx context.Context, key string) error {
	exists, err := s3a.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return NewNotFoundError(fmt.Sprintf("object %s not found", key), nil)
	}

	_, err = s3a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return NewStorageError("failed to delete object from S3", err)
	}

	return nil
}

// Exists reports whether key is present in the bucket
func (s3a *S3StorageAdapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s3a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, NewStorageError("failed to check object existence", err)
	}
	return true, nil
}

// HealthCheck verifies the bucket is accessible and listable
func (s3a *S3StorageAdapter) HealthCheck(ctx context.Context) error {
	_, err := s3a.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3a.bucket),
	})
	if err != nil {
		return NewStorageError("S3 health check failed: bucket not accessible", err)
	}

	_, err = s3a.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s3a.bucket),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return NewStorageError("S3 health check failed: cannot list objects", err)
	}

	return nil
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
