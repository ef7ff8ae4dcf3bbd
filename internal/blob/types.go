// Package blob re-exports core blob abstractions for stable imports and
// selects a backend from configuration.
package blob

import (
	"clonefreq/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local output directory driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists is returned by Put for taken keys without Overwrite.
	ErrExists = core.ErrExists
	// ErrNotFound is returned by Get for missing keys.
	ErrNotFound = core.ErrNotFound
)
