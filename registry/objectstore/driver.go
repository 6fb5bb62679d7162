// Package objectstore defines the narrow interface the registry engine
// requires from a durable object store. Blob and upload bytes are the only
// things kept here; all other state lives in the metadata store.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Stat describes an object at rest.
type Stat struct {
	// Size is the object length in bytes.
	Size int64

	// ModTime is the object's last modification time.
	ModTime time.Time
}

// Driver is the interface the engine programs against. Implementations
// must be safe for concurrent use; the process holds exactly one instance.
type Driver interface {
	// Name returns the human-readable "name" of the driver, useful in error
	// messages and logging.
	Name() string

	// Put stores the content read from r under key, replacing any previous
	// object, and returns the number of bytes written.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	// Get returns a reader positioned at the start of the object. Callers
	// must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns object metadata without transferring content.
	Head(ctx context.Context, key string) (Stat, error)

	// Delete removes the object. Deleting a missing key returns
	// KeyNotFoundError.
	Delete(ctx context.Context, key string) error

	// PresignGet returns a URL from which the object can be fetched
	// directly, valid for the given duration. Drivers that cannot delegate
	// reads return ErrUnsupportedMethod; callers then proxy through Get.
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ErrUnsupportedMethod is returned when a driver does not implement an
// optional capability, such as presigned URLs.
type ErrUnsupportedMethod struct {
	DriverName string
}

func (err ErrUnsupportedMethod) Error() string {
	return fmt.Sprintf("%s: unsupported method", err.DriverName)
}

// KeyNotFoundError is returned when operating on a key that doesn't exist.
type KeyNotFoundError struct {
	Key        string
	DriverName string
}

func (err KeyNotFoundError) Error() string {
	return fmt.Sprintf("%s: key not found: %s", err.DriverName, err.Key)
}
