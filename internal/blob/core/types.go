// Package core defines the object storage contract shared by the file sink and
// the concrete blob backends.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local output directory (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// Overwrite replaces an existing object instead of failing.
	Overwrite bool
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the minimal object store the file sink writes batch outputs to.
type Store interface {
	// Put stores an object at key. It fails with ErrExists when the key is
	// taken unless opts.Overwrite is set.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the object; a missing key yields an error matching ErrNotFound.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// List returns objects whose key has the prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	// Delete removes an object and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

var (
	// ErrExists is returned by Put when the key is already present.
	ErrExists = errors.New("blob already exists")
	// ErrNotFound is returned by Get for missing keys.
	ErrNotFound = errors.New("blob not found")
)
