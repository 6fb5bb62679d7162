package datastore

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Repository is a namespaced image repository. Rows are owned by the
// external management service; the engine reads them to resolve names and
// visibility.
type Repository struct {
	ID           int64
	Organization string
	Name         string
	Public       bool
	CreatedAt    time.Time
}

// Path returns the repository's wire-protocol name, "org/name".
func (r *Repository) Path() string {
	return r.Organization + "/" + r.Name
}

// Blob is a content-addressed byte sequence recorded for one repository.
// The bytes themselves live in the object store under a key derived from
// the digest.
type Blob struct {
	ID           int64
	RepositoryID int64
	Digest       digest.Digest
	MediaType    string
	Size         int64
	CreatedAt    time.Time
}

// Manifest is a stored manifest revision. Payload is the exact byte
// sequence received from the client; the digest is computed over it and
// never over a re-serialization.
type Manifest struct {
	ID           int64
	RepositoryID int64
	Digest       digest.Digest
	MediaType    string
	Payload      []byte
	CreatedAt    time.Time
}

// Tag points a mutable name at a manifest digest within a repository.
type Tag struct {
	RepositoryID int64
	Name         string
	Digest       digest.Digest
	UpdatedAt    time.Time
}

// Upload tracks one in-progress blob upload session. Chunks are stored in
// the object store keyed by their start offset; Uploaded is the running
// byte offset and ChunkCount the number of chunks received.
type Upload struct {
	ID           string
	RepositoryID int64
	Uploaded     int64
	ChunkCount   int
	CreatedAt    time.Time
}
