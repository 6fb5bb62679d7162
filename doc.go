// Package aerugo defines the service interfaces and error types of the
// aerugo registry engine: content-addressed blob storage, manifest
// processing and tag resolution for namespaced repositories, speaking the
// registry V2 wire protocol. Implementations live in registry/storage,
// backed by a metadata store (registry/datastore) and an object store
// (registry/objectstore); registry/handlers exposes the HTTP surface.
package aerugo
