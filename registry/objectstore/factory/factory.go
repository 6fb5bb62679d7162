// Package factory maintains the registration of object store drivers so
// that backends can be selected by configuration alone.
package factory

import (
	"fmt"

	"github.com/aerugo/aerugo/registry/objectstore"
)

// driverFactories stores an internal mapping between driver names and their
// respective factories.
var driverFactories = make(map[string]DriverFactory)

// DriverFactory is a factory interface for creating objectstore.Driver
// instances. Drivers should call Register with a factory to make the driver
// available by name.
type DriverFactory interface {
	// Create returns a new objectstore.Driver with the given parameters.
	// Parameters will vary by driver and may be ignored.
	Create(parameters map[string]interface{}) (objectstore.Driver, error)
}

// Register makes an object store driver available by the provided name. If
// Register is called twice with the same name or if the factory is nil, it
// panics.
func Register(name string, factory DriverFactory) {
	if factory == nil {
		panic("objectstore factory: must not provide nil DriverFactory")
	}
	if _, registered := driverFactories[name]; registered {
		panic(fmt.Sprintf("objectstore factory: named factory already registered: %s", name))
	}

	driverFactories[name] = factory
}

// Create a new objectstore.Driver with the given name and parameters. To
// use a driver, the DriverFactory must first be registered with the given
// name. If no drivers are found, an InvalidStorageDriverError is returned.
func Create(name string, parameters map[string]interface{}) (objectstore.Driver, error) {
	driverFactory, ok := driverFactories[name]
	if !ok {
		return nil, InvalidStorageDriverError{name}
	}
	return driverFactory.Create(parameters)
}

// InvalidStorageDriverError records an attempt to construct an unregistered
// object store driver.
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("objectstore driver not registered: %s", err.Name)
}
