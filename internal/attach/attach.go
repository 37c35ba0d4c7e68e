// Package attach re-exports the attachment storage abstractions and selects a
// backend driver. Only this package may import the infra drivers; everything
// else depends on the attach.Store interface.
package attach

import (
	"context"
	"fmt"
	"os"

	"boardcore/internal/attach/core"
	fsstore "boardcore/internal/infra/attach/fs"
	memorystore "boardcore/internal/infra/attach/memory"
	s3store "boardcore/internal/infra/attach/s3"
)

type (
	// Driver identifies an attachment backend driver.
	Driver = core.Driver
	// PutOptions configures an attachment write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored attachment metadata.
	Info = core.Info
	// Store is the interface attachment backends implement.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// NewFilesystem returns a filesystem attachment store rooted at dir.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewMemory returns an in-memory attachment store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// Open selects a Store implementation from environment variables.
//
//	BOARDCORE_ATTACH_DRIVER: fs|s3|memory (default fs)
//	BOARDCORE_ATTACH_FS_ROOT: directory root when driver=fs (default ./attachments)
//	(S3 specific variables documented in the s3 driver)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("BOARDCORE_ATTACH_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fsstore.New(os.Getenv("BOARDCORE_ATTACH_FS_ROOT"))
	case DriverS3:
		return s3store.OpenFromEnv(ctx)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown attachment driver %s", driver)
	}
}
