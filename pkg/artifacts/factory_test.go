package artifacts

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStoreFromEnv_Default(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ARTIFACT_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", tmpDir)

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv failed: %v", err)
	}

	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("Expected *FileStore, got %T", store)
	}

	expectedBase := filepath.Join(tmpDir, "artifacts")
	if fs.baseDir != expectedBase {
		t.Errorf("Expected baseDir %s, got %s", expectedBase, fs.baseDir)
	}
}

func TestNewStoreFromEnv_S3MissingBucket(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "s3")
	t.Setenv("ARTIFACT_S3_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ARTIFACT_S3_BUCKET") {
		t.Fatalf("Expected missing bucket error, got %v", err)
	}
}

func TestNewStoreFromEnv_S3(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "s3")
	t.Setenv("ARTIFACT_S3_BUCKET", "backups")
	t.Setenv("ARTIFACT_S3_ENDPOINT", "http://localhost:4566")
	t.Setenv("ARTIFACT_S3_PREFIX", "funcadmin/")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv failed: %v", err)
	}
	s3Store, ok := store.(*S3Store)
	if !ok {
		t.Fatalf("Expected *S3Store, got %T", store)
	}
	if s3Store.bucket != "backups" || s3Store.prefix != "funcadmin/" {
		t.Errorf("unexpected S3 config: bucket=%s prefix=%s", s3Store.bucket, s3Store.prefix)
	}
	key, err := s3Store.objectKey("0/backup/op.json")
	if err != nil {
		t.Fatalf("objectKey failed: %v", err)
	}
	if key != "funcadmin/0/backup/op.json" {
		t.Errorf("Expected prefixed key, got %s", key)
	}
}

func TestNewStoreFromEnv_Minio(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "minio")
	t.Setenv("ARTIFACT_MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("ARTIFACT_MINIO_BUCKET", "backups")
	t.Setenv("ARTIFACT_MINIO_USE_SSL", "true")

	store, err := NewStoreFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewStoreFromEnv failed: %v", err)
	}
	if _, ok := store.(*MinioStore); !ok {
		t.Fatalf("Expected *MinioStore, got %T", store)
	}
}

func TestNewStoreFromEnv_MinioErrors(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "minio")
	t.Setenv("ARTIFACT_MINIO_ENDPOINT", "")
	if _, err := NewStoreFromEnv(context.Background()); err == nil {
		t.Fatal("Expected error for missing endpoint")
	}

	t.Setenv("ARTIFACT_MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("ARTIFACT_MINIO_BUCKET", "backups")
	t.Setenv("ARTIFACT_MINIO_USE_SSL", "maybe")
	if _, err := NewStoreFromEnv(context.Background()); err == nil {
		t.Fatal("Expected error for invalid ARTIFACT_MINIO_USE_SSL")
	}
}

func TestNewStoreFromEnv_Unsupported(t *testing.T) {
	t.Setenv("ARTIFACT_STORAGE_TYPE", "tape")

	_, err := NewStoreFromEnv(context.Background())
	if err == nil {
		t.Fatal("Expected error for unsupported storage type")
	}
}
