// Package storage provides local artifact storage and optional S3
// publication. Downloads land under deterministic names so that concurrent
// segments never write to the same file.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for segment artifact storage.
type Storage interface {
	// SaveAs writes data to name inside the storage directory and returns
	// the full path. The file appears atomically: readers never observe a
	// partial write under name.
	SaveAs(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a stored file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
