package aerugo

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// TagService resolves and maintains a repository's tags: mutable pointers
// from a human-readable name to a manifest digest.
type TagService interface {
	// Get returns the digest the tag currently points at, or ErrTagUnknown.
	Get(ctx context.Context, name string) (digest.Digest, error)

	// Set points the tag at the given manifest digest, replacing any
	// previous association. Last writer wins.
	Set(ctx context.Context, name string, dgst digest.Digest) error

	// Untag removes the tag association, leaving the manifest in place.
	Untag(ctx context.Context, name string) error

	// All returns up to n tag names in lexicographic order, starting
	// strictly after last. n <= 0 means no limit.
	All(ctx context.Context, n int, last string) ([]string, error)
}

// Repository bundles the per-repository services. Instances are cheap,
// request-scoped views; all state lives in the external stores.
type Repository interface {
	// Named returns the repository path, e.g. "myorg/app".
	Named() string

	// Blobs provides read access to the repository's blobs.
	Blobs() BlobService

	// Uploads manages the repository's in-flight blob uploads.
	Uploads() UploadService

	// Manifests provides access to the repository's manifests.
	Manifests() ManifestService

	// Tags provides access to the repository's tags.
	Tags() TagService
}
