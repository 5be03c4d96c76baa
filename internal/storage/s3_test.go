package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewS3Storage(t *testing.T) {
	scratchDir := filepath.Join(os.TempDir(), "genflow_s3_test_"+randomSuffix())
	defer os.RemoveAll(scratchDir)

	cfg := S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:4566", // LocalStack-like endpoint
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}

	storage, err := NewS3Storage(scratchDir, cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if storage.bucket != cfg.Bucket {
		t.Errorf("bucket = %v, want %v", storage.bucket, cfg.Bucket)
	}
	if storage.region != cfg.Region {
		t.Errorf("region = %v, want %v", storage.region, cfg.Region)
	}
}

func TestS3Storage_InheritsLocalStorage(t *testing.T) {
	scratchDir := filepath.Join(os.TempDir(), "genflow_s3_test_"+randomSuffix())
	defer os.RemoveAll(scratchDir)

	cfg := S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:4566",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}

	storage, err := NewS3Storage(scratchDir, cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	ctx := context.Background()

	// Test inherited SaveScratch
	path, err := storage.SaveScratch(ctx, "test", bytes.NewReader([]byte("test data")))
	if err != nil {
		t.Fatalf("SaveScratch() error = %v", err)
	}
	defer os.Remove(path)

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read scratch file: %v", err)
	}
	if string(content) != "test data" {
		t.Errorf("got %q, want %q", string(content), "test data")
	}

	// Test inherited Cleanup
	err = storage.Cleanup(ctx, []string{path})
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
}

func TestS3Storage_UploadAsset_MockServer(t *testing.T) {
	// Create a mock S3 server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}

		if !strings.Contains(r.URL.Path, "/test-key") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "test content" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	scratchDir := filepath.Join(os.TempDir(), "genflow_s3_mock_test_"+randomSuffix())
	defer os.RemoveAll(scratchDir)

	cfg := S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}

	storage, err := NewS3Storage(scratchDir, cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	ctx := context.Background()
	url, err := storage.UploadAsset(ctx, "test-key", bytes.NewReader([]byte("test content")))
	if err != nil {
		t.Fatalf("UploadAsset() error = %v", err)
	}

	expectedURL := "https://test-bucket.s3.us-east-1.amazonaws.com/test-key"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}
}

func TestS3Storage_UploadAsset_KeyPrefix(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	scratchDir := filepath.Join(os.TempDir(), "genflow_s3_prefix_test_"+randomSuffix())
	defer os.RemoveAll(scratchDir)

	cfg := S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		KeyPrefix:       "/assets/",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}

	storage, err := NewS3Storage(scratchDir, cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	url, err := storage.UploadAsset(context.Background(), "gen-1/result.mp4", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("UploadAsset() error = %v", err)
	}

	if !strings.Contains(gotPath, "assets/gen-1/result.mp4") {
		t.Errorf("object path = %v, want assets/gen-1/result.mp4 under it", gotPath)
	}
	expectedURL := "https://test-bucket.s3.us-east-1.amazonaws.com/assets/gen-1/result.mp4"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}
}

func TestAssetContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"gen-1/result.png", "image/png"},
		{"gen-1/result.JPG", "image/jpeg"},
		{"gen-1/result.jpeg", "image/jpeg"},
		{"gen-1/result.webp", "image/webp"},
		{"gen-1/result.mp4", "video/mp4"},
		{"gen-1/result.webm", "video/webm"},
		{"gen-1/result.bin", "application/octet-stream"},
		{"no-extension", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := assetContentType(tt.key); got != tt.want {
			t.Errorf("assetContentType(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
