// Package redis implements the cache interfaces on a Redis instance shared
// by the registry nodes. Entries carry a TTL so eviction needs no
// coordination with writers.
package redis

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/redis/go-redis/v9"

	"github.com/aerugo/aerugo/registry/storage/cache"
)

// DefaultTTL bounds how long a cached entry can outlive a delete issued on
// another node.
const DefaultTTL = 10 * time.Minute

// BlobDescriptorCacheProvider caches blob descriptors in Redis hashes, one
// hash per (repository, digest).
type BlobDescriptorCacheProvider struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewBlobDescriptorCacheProvider builds a provider over the given client.
// ttl <= 0 selects DefaultTTL.
func NewBlobDescriptorCacheProvider(client redis.UniversalClient, ttl time.Duration) *BlobDescriptorCacheProvider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BlobDescriptorCacheProvider{client: client, ttl: ttl}
}

func (p *BlobDescriptorCacheProvider) RepositoryScoped(repo string) cache.BlobDescriptorCache {
	return &repositoryScopedCache{provider: p, repo: repo}
}

type repositoryScopedCache struct {
	provider *BlobDescriptorCacheProvider
	repo     string
}

func (rc *repositoryScopedCache) key(dgst digest.Digest) string {
	return "registry::repository::" + rc.repo + "::blobs::" + dgst.String()
}

func (rc *repositoryScopedCache) Stat(ctx context.Context, dgst digest.Digest) (v1.Descriptor, error) {
	fields, err := rc.provider.client.HGetAll(ctx, rc.key(dgst)).Result()
	if err != nil {
		return v1.Descriptor{}, err
	}
	if len(fields) == 0 {
		return v1.Descriptor{}, cache.ErrNotFound
	}

	desc := v1.Descriptor{
		MediaType: fields["mediatype"],
		Digest:    digest.Digest(fields["digest"]),
	}
	if err := desc.Digest.Validate(); err != nil {
		return v1.Descriptor{}, cache.ErrNotFound
	}
	size, err := rc.provider.client.HGet(ctx, rc.key(dgst), "size").Int64()
	if err != nil {
		return v1.Descriptor{}, cache.ErrNotFound
	}
	desc.Size = size

	return desc, nil
}

func (rc *repositoryScopedCache) SetDescriptor(ctx context.Context, dgst digest.Digest, desc v1.Descriptor) error {
	key := rc.key(dgst)
	pipe := rc.provider.client.TxPipeline()
	pipe.HSet(ctx, key,
		"digest", desc.Digest.String(),
		"mediatype", desc.MediaType,
		"size", desc.Size,
	)
	pipe.Expire(ctx, key, rc.provider.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (rc *repositoryScopedCache) Invalidate(ctx context.Context, dgst digest.Digest) error {
	return rc.provider.client.Del(ctx, rc.key(dgst)).Err()
}

// ManifestPayloadCache caches manifest payloads in Redis hashes keyed by
// (repository, revision). Payloads are immutable for a given digest, so a
// stale hit is impossible; the TTL only bounds memory.
type ManifestPayloadCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewManifestPayloadCache builds a payload cache over the given client.
// ttl <= 0 selects DefaultTTL.
func NewManifestPayloadCache(client redis.UniversalClient, ttl time.Duration) *ManifestPayloadCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ManifestPayloadCache{client: client, ttl: ttl}
}

func (c *ManifestPayloadCache) key(repo string, dgst digest.Digest) string {
	return "registry::repository::" + repo + "::manifests::" + dgst.String()
}

func (c *ManifestPayloadCache) Get(ctx context.Context, repo string, dgst digest.Digest) (string, []byte, error) {
	fields, err := c.client.HGetAll(ctx, c.key(repo, dgst)).Result()
	if err != nil {
		return "", nil, err
	}
	payload, ok := fields["payload"]
	if !ok {
		return "", nil, cache.ErrNotFound
	}
	return fields["mediatype"], []byte(payload), nil
}

func (c *ManifestPayloadCache) Set(ctx context.Context, repo string, dgst digest.Digest, mediaType string, payload []byte) error {
	key := c.key(repo, dgst)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key,
		"mediatype", mediaType,
		"payload", payload,
	)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *ManifestPayloadCache) Invalidate(ctx context.Context, repo string, dgst digest.Digest) error {
	return c.client.Del(ctx, c.key(repo, dgst)).Err()
}
