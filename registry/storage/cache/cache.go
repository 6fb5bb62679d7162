// Package cache defines the caching layers the storage services consult
// before the metadata store. Caches are strictly an optimization: every
// implementation may miss or fail, and callers must fall through to the
// authoritative store.
package cache

import (
	"context"
	"errors"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// ErrNotFound is returned on a cache miss.
var ErrNotFound = errors.New("cache: not found")

// BlobDescriptorCache caches blob descriptors within one repository scope.
type BlobDescriptorCache interface {
	// Stat returns the cached descriptor or ErrNotFound.
	Stat(ctx context.Context, dgst digest.Digest) (v1.Descriptor, error)

	// SetDescriptor caches the descriptor under dgst.
	SetDescriptor(ctx context.Context, dgst digest.Digest, desc v1.Descriptor) error

	// Invalidate drops the cached descriptor, if any.
	Invalidate(ctx context.Context, dgst digest.Digest) error
}

// BlobDescriptorCacheProvider hands out repository-scoped descriptor
// caches. Scoping matters: a blob known in one repository must not leak
// visibility into another.
type BlobDescriptorCacheProvider interface {
	RepositoryScoped(repo string) BlobDescriptorCache
}

// ManifestPayloadCache caches raw manifest payloads by revision. Payloads
// are cached byte-exact so a hit serves the same bytes the digest was
// computed over.
type ManifestPayloadCache interface {
	// Get returns the cached media type and payload or ErrNotFound.
	Get(ctx context.Context, repo string, dgst digest.Digest) (mediaType string, payload []byte, err error)

	// Set caches the payload for a revision.
	Set(ctx context.Context, repo string, dgst digest.Digest, mediaType string, payload []byte) error

	// Invalidate drops the cached payload, if any.
	Invalidate(ctx context.Context, repo string, dgst digest.Digest) error
}
