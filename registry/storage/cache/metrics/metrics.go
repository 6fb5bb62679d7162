// Package metrics wraps a descriptor cache with hit and miss counters so
// cache effectiveness shows up on the debug endpoint.
package metrics

import (
	"context"

	"github.com/docker/go-metrics"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo/registry/storage/cache"
)

var (
	ns = metrics.NewNamespace("registry", "storage", nil)

	cacheRequests = ns.NewCounter("cache_requests", "The number of cache request received")
	cacheHits     = ns.NewCounter("cache_hits", "The number of cache request received that matched the cache")
	cacheErrors   = ns.NewCounter("cache_errors", "The number of cache request that failed")
)

func init() {
	metrics.Register(ns)
}

// NewBlobDescriptorCacheProvider instruments the given provider.
func NewBlobDescriptorCacheProvider(inner cache.BlobDescriptorCacheProvider) cache.BlobDescriptorCacheProvider {
	return &instrumentedProvider{inner: inner}
}

type instrumentedProvider struct {
	inner cache.BlobDescriptorCacheProvider
}

func (p *instrumentedProvider) RepositoryScoped(repo string) cache.BlobDescriptorCache {
	return &instrumentedCache{inner: p.inner.RepositoryScoped(repo)}
}

type instrumentedCache struct {
	inner cache.BlobDescriptorCache
}

func (c *instrumentedCache) Stat(ctx context.Context, dgst digest.Digest) (v1.Descriptor, error) {
	cacheRequests.Inc(1)

	desc, err := c.inner.Stat(ctx, dgst)
	switch {
	case err == nil:
		cacheHits.Inc(1)
	case err != cache.ErrNotFound:
		cacheErrors.Inc(1)
	}

	return desc, err
}

func (c *instrumentedCache) SetDescriptor(ctx context.Context, dgst digest.Digest, desc v1.Descriptor) error {
	return c.inner.SetDescriptor(ctx, dgst, desc)
}

func (c *instrumentedCache) Invalidate(ctx context.Context, dgst digest.Digest) error {
	return c.inner.Invalidate(ctx, dgst)
}
