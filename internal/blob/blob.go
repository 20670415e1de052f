// Package blob is the entry point for parked-snapshot storage. It re-exports
// the core abstractions and constructs the infra-backed implementations, so
// the rest of the module depends on blob.Store alone.
package blob

import (
	"context"
	"fmt"
	"os"

	"graphcore/internal/blob/core"
	"graphcore/internal/infra/blob/fs"
	memorystore "graphcore/internal/infra/blob/memory"
	infraS3 "graphcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a snapshot store backend.
	Driver = core.Driver
	// PutOptions configures a snapshot write.
	PutOptions = core.PutOptions
	// Info describes a stored snapshot.
	Info = core.Info
	// Store persists snapshots by key.
	Store = core.Store
	// S3Config configures the S3 backend.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = core.ErrNotFound

// Open selects a Store using environment variables.
//
//	GRAPHCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	GRAPHCORE_BLOB_FS_ROOT: root directory when driver=fs (default ./parked)
//	(S3 variables are documented on infra/blob/s3.OpenFromEnv)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("GRAPHCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("GRAPHCORE_BLOB_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem returns a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// OpenS3FromEnv returns an S3-backed Store configured from GRAPHCORE_BLOB_S3_*.
func OpenS3FromEnv(ctx context.Context) (Store, error) {
	return infraS3.OpenFromEnv(ctx)
}

// NewMockS3ForTests returns an S3-backed Store talking to an in-process fake.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
