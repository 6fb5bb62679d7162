// Package inmemory provides a volatile objectstore.Driver backed by a map.
// It is intended for use in tests and local experimentation; contents are
// lost when the process exits.
package inmemory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/aerugo/aerugo/registry/objectstore"
	"github.com/aerugo/aerugo/registry/objectstore/factory"
)

const driverName = "inmemory"

func init() {
	factory.Register(driverName, &inMemoryDriverFactory{})
}

// inMemoryDriverFactory implements the factory.DriverFactory interface.
type inMemoryDriverFactory struct{}

func (f *inMemoryDriverFactory) Create(_ map[string]interface{}) (objectstore.Driver, error) {
	return New(), nil
}

type object struct {
	data    []byte
	modTime time.Time
}

// Driver is the map-backed object store.
type Driver struct {
	mu      sync.RWMutex
	objects map[string]object
}

var _ objectstore.Driver = &Driver{}

// New constructs an empty Driver.
func New() *Driver {
	return &Driver{objects: make(map[string]object)}
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return driverName
}

// Put stores the content of r under key.
func (d *Driver) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	d.objects[key] = object{data: data, modTime: time.Now()}
	d.mu.Unlock()

	return int64(len(data)), nil
}

// Get returns a reader over the object's bytes.
func (d *Driver) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	d.mu.RLock()
	obj, ok := d.objects[key]
	d.mu.RUnlock()

	if !ok {
		return nil, objectstore.KeyNotFoundError{Key: key, DriverName: driverName}
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Head returns the object's metadata.
func (d *Driver) Head(ctx context.Context, key string) (objectstore.Stat, error) {
	d.mu.RLock()
	obj, ok := d.objects[key]
	d.mu.RUnlock()

	if !ok {
		return objectstore.Stat{}, objectstore.KeyNotFoundError{Key: key, DriverName: driverName}
	}

	return objectstore.Stat{Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

// Delete removes the object.
func (d *Driver) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[key]; !ok {
		return objectstore.KeyNotFoundError{Key: key, DriverName: driverName}
	}

	delete(d.objects, key)
	return nil
}

// PresignGet is unsupported: there is no way to address process memory from
// outside the process.
func (d *Driver) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "", objectstore.ErrUnsupportedMethod{DriverName: driverName}
}
