package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrUploadNotConfigured is returned when durable upload is attempted
// without a configured backend.
var ErrUploadNotConfigured = errors.New("durable asset storage is not configured")

// LocalStorage implements the Storage interface using local disk.
// It stores scratch files in a configurable directory and does not
// support durable uploads unless wrapped with S3Storage.
type LocalStorage struct {
	scratchDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// The scratchDir parameter specifies where scratch files are stored.
// If scratchDir is empty, os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(scratchDir string) (*LocalStorage, error) {
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "genflow")
	}

	if err := os.MkdirAll(scratchDir, 0750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &LocalStorage{scratchDir: scratchDir}, nil
}

// ScratchDir returns the scratch directory path.
func (s *LocalStorage) ScratchDir() string {
	return s.scratchDir
}

// SaveScratch saves data to a scratch file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStorage) SaveScratch(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.scratchDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write scratch file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close scratch file: %w", err)
	}

	return fileName, nil
}

// Cleanup removes the specified scratch files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) Cleanup(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove scratch file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadAsset is not supported by LocalStorage and returns ErrUploadNotConfigured.
func (s *LocalStorage) UploadAsset(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrUploadNotConfigured
}
