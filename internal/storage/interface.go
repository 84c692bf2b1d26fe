package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a blob does not exist
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidName is returned for names that are not plain file names
	ErrInvalidName = errors.New("invalid blob name")
)

// StoreResult describes a completed write
type StoreResult struct {
	Bytes    int64
	Checksum string
}

// BlobStorage defines the interface for the flat image blob folder
type BlobStorage interface {
	// Store saves content under the given name
	Store(ctx context.Context, name string, content io.Reader, contentType string) error

	// StoreWithResult saves content and reports the bytes written and their checksum
	StoreWithResult(ctx context.Context, name string, content io.Reader, contentType string) (StoreResult, error)

	// Retrieve gets content stored under the given name
	Retrieve(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the named blob
	Delete(ctx context.Context, name string) error

	// Exists checks if the named blob exists
	Exists(ctx context.Context, name string) (bool, error)

	// GetSize returns the size of the named blob
	GetSize(ctx context.Context, name string) (int64, error)

	// List returns blob names matching the prefix
	List(ctx context.Context, prefix string) ([]string, error)
}
