package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// StoreType represents the type of blob storage backend.
type StoreType string

const (
	StoreTypeFS    StoreType = "fs"
	StoreTypeS3    StoreType = "s3"
	StoreTypeGCS   StoreType = "gcs"
	StoreTypeMinio StoreType = "minio"
)

// NewStoreFromEnv creates a blob store based on environment variables.
//
// Environment variables:
//   - ARTIFACT_STORAGE_TYPE: "fs" (default), "s3", "gcs" or "minio"
//   - DATA_DIR: Base directory for filesystem store (default: "data")
//
// For S3:
//   - AWS_REGION or ARTIFACT_S3_REGION
//   - ARTIFACT_S3_BUCKET (required)
//   - ARTIFACT_S3_ENDPOINT (optional, for LocalStack)
//   - ARTIFACT_S3_PREFIX (optional)
//
// For GCS:
//   - ARTIFACT_GCS_BUCKET (required)
//   - ARTIFACT_GCS_PREFIX (optional)
//
// For MinIO:
//   - ARTIFACT_MINIO_ENDPOINT, ARTIFACT_MINIO_BUCKET (required)
//   - ARTIFACT_MINIO_ACCESS_KEY, ARTIFACT_MINIO_SECRET_KEY
//   - ARTIFACT_MINIO_USE_SSL (optional, default false)
//   - ARTIFACT_MINIO_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (BlobStore, error) {
	storeType := StoreType(os.Getenv("ARTIFACT_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	case StoreTypeMinio:
		return newMinioStoreFromEnv()
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", storeType)
	}
}

func newFileStoreFromEnv() (BlobStore, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "artifacts"))
}

func newS3StoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("ARTIFACT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("ARTIFACT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
		Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
	})
}

func newMinioStoreFromEnv() (BlobStore, error) {
	endpoint := os.Getenv("ARTIFACT_MINIO_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("ARTIFACT_MINIO_ENDPOINT is required for MinIO storage")
	}
	bucket := os.Getenv("ARTIFACT_MINIO_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_MINIO_BUCKET is required for MinIO storage")
	}

	useSSL := false
	if v := os.Getenv("ARTIFACT_MINIO_USE_SSL"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ARTIFACT_MINIO_USE_SSL %q: %w", v, err)
		}
		useSSL = parsed
	}

	return NewMinioStore(MinioStoreConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("ARTIFACT_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("ARTIFACT_MINIO_SECRET_KEY"),
		Bucket:    bucket,
		UseSSL:    useSSL,
		Prefix:    os.Getenv("ARTIFACT_MINIO_PREFIX"),
	})
}
