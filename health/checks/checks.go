// Package checks provides the health checks for the registry's two
// external dependencies.
package checks

import (
	"context"

	"github.com/aerugo/aerugo/health"
	"github.com/aerugo/aerugo/registry/datastore"
	"github.com/aerugo/aerugo/registry/objectstore"
)

// Database returns a checker that pings the metadata store.
func Database(db *datastore.DB) health.CheckFunc {
	return func(ctx context.Context) error {
		return db.Ping(ctx)
	}
}

// ObjectStore returns a checker that probes the object store with a
// metadata read. A missing probe key is healthy; only transport or
// authorization failures count against the store.
func ObjectStore(driver objectstore.Driver) health.CheckFunc {
	return func(ctx context.Context) error {
		_, err := driver.Head(ctx, "healthcheck/probe")
		if err != nil {
			if _, ok := err.(objectstore.KeyNotFoundError); ok {
				return nil
			}
			return err
		}
		return nil
	}
}
