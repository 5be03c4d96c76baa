// Package storage provides scratch and persistent storage for generated assets.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for scratch and persistent asset storage.
// Implementations must handle scratch files while a job is in flight and
// optionally support uploads for durable asset delivery.
type Storage interface {
	// SaveScratch saves data to a scratch file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveScratch(ctx context.Context, name string, data io.Reader) (path string, err error)

	// Cleanup removes the specified scratch files.
	// It continues cleanup even if some files fail to delete.
	Cleanup(ctx context.Context, paths []string) error

	// UploadAsset uploads data to durable storage and returns the public URL.
	// Returns ErrUploadNotConfigured when no durable backend is configured.
	UploadAsset(ctx context.Context, key string, data io.Reader) (url string, err error)
}
