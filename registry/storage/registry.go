// Package storage implements the engine's domain services over two narrow
// collaborators: a metadata store holding blob, manifest, tag and upload
// session records, and an object store holding the bytes. Services are
// cheap request-scoped views; no state is kept in process.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/datastore"
	"github.com/aerugo/aerugo/registry/objectstore"
	"github.com/aerugo/aerugo/registry/storage/cache"
)

// RepositoryReader reads repository rows owned by the management service.
type RepositoryReader interface {
	FindByPath(ctx context.Context, path string) (*datastore.Repository, error)
	Paths(ctx context.Context, limit int, last string) ([]string, error)
}

// BlobMetadata persists blob records.
type BlobMetadata interface {
	FindByDigest(ctx context.Context, repositoryID int64, d digest.Digest) (*datastore.Blob, error)
	Create(ctx context.Context, b *datastore.Blob) error
	Delete(ctx context.Context, repositoryID int64, d digest.Digest) (bool, error)
}

// ManifestMetadata persists manifest revisions and their layer references.
type ManifestMetadata interface {
	FindByDigest(ctx context.Context, repositoryID int64, d digest.Digest) (*datastore.Manifest, error)
	Create(ctx context.Context, m *datastore.Manifest, layers []digest.Digest) error
	Delete(ctx context.Context, repositoryID int64, d digest.Digest) (bool, error)
}

// TagMetadata persists tag rows.
type TagMetadata interface {
	Find(ctx context.Context, repositoryID int64, name string) (*datastore.Tag, error)
	Upsert(ctx context.Context, repositoryID int64, name string, d digest.Digest) error
	Delete(ctx context.Context, repositoryID int64, name string) (bool, error)
	Names(ctx context.Context, repositoryID int64, limit int, last string) ([]string, error)
}

// UploadMetadata persists upload session rows.
type UploadMetadata interface {
	Create(ctx context.Context, u *datastore.Upload) error
	Find(ctx context.Context, id string) (*datastore.Upload, error)
	Advance(ctx context.Context, id string, expected, next int64) (int, error)
	Delete(ctx context.Context, id string) (bool, error)
	Stale(ctx context.Context, cutoff time.Time) ([]*datastore.Upload, error)
}

// Registry is the root of the storage services. One instance is shared by
// all requests.
type Registry struct {
	driver       objectstore.Driver
	repositories RepositoryReader
	blobs        BlobMetadata
	manifests    ManifestMetadata
	tags         TagMetadata
	uploads      UploadMetadata

	descriptorCache cache.BlobDescriptorCacheProvider
	manifestCache   cache.ManifestPayloadCache

	redirect    bool
	redirectTTL time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithRedirect enables presigned redirects for blob downloads with the
// given URL lifetime.
func WithRedirect(ttl time.Duration) Option {
	return func(r *Registry) {
		r.redirect = true
		r.redirectTTL = ttl
	}
}

// WithDescriptorCache attaches a blob descriptor cache.
func WithDescriptorCache(c cache.BlobDescriptorCacheProvider) Option {
	return func(r *Registry) {
		r.descriptorCache = c
	}
}

// WithManifestCache attaches a manifest payload cache.
func WithManifestCache(c cache.ManifestPayloadCache) Option {
	return func(r *Registry) {
		r.manifestCache = c
	}
}

// NewRegistry wires the storage services to their collaborators.
func NewRegistry(driver objectstore.Driver, repositories RepositoryReader, blobs BlobMetadata, manifests ManifestMetadata, tags TagMetadata, uploads UploadMetadata, options ...Option) *Registry {
	r := &Registry{
		driver:       driver,
		repositories: repositories,
		blobs:        blobs,
		manifests:    manifests,
		tags:         tags,
		uploads:      uploads,
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Repository returns the request-scoped service view for the named
// repository, or aerugo.ErrRepositoryUnknown if it does not exist.
func (reg *Registry) Repository(ctx context.Context, path string) (aerugo.Repository, error) {
	repo, err := reg.repositories.FindByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, aerugo.ErrRepositoryUnknown{Name: path}
	}

	return &repository{
		registry: reg,
		repo:     repo,
	}, nil
}

// Repositories fills repos with readable repository paths lexicographically
// greater than last, applying the visibility filter before pagination so
// page counts remain correct. It returns the number filled and io.EOF when
// the catalog is exhausted.
func (reg *Registry) Repositories(ctx context.Context, repos []string, last string, readable func(path string) bool) (int, error) {
	if len(repos) == 0 {
		return 0, nil
	}

	const fetch = 100

	filled := 0
	cursor := last
	for {
		page, err := reg.repositories.Paths(ctx, fetch, cursor)
		if err != nil {
			return filled, err
		}

		for _, path := range page {
			if readable != nil && !readable(path) {
				continue
			}
			repos[filled] = path
			filled++
			if filled == len(repos) {
				return filled, nil
			}
		}

		if len(page) < fetch {
			return filled, io.EOF
		}
		cursor = page[len(page)-1]
	}
}

// ReapStaleUploads cancels sessions older than ttl, releasing their rows
// and chunk bytes. It is invoked by an external janitor, not by the request
// path.
func (reg *Registry) ReapStaleUploads(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := reg.uploads.Stale(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, u := range stale {
		us := &uploadService{registry: reg, repositoryID: u.RepositoryID}
		if err := us.Cancel(ctx, u.ID); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Errorf("reaping upload %s", u.ID)
			continue
		}
		reaped++
	}

	return reaped, nil
}

// repository is the per-repository service bundle.
type repository struct {
	registry *Registry
	repo     *datastore.Repository
}

var _ aerugo.Repository = &repository{}

func (r *repository) Named() string {
	return r.repo.Path()
}

func (r *repository) Blobs() aerugo.BlobService {
	return &blobService{
		registry:     r.registry,
		repoPath:     r.repo.Path(),
		repositoryID: r.repo.ID,
	}
}

func (r *repository) Uploads() aerugo.UploadService {
	return &uploadService{
		registry:     r.registry,
		repositoryID: r.repo.ID,
	}
}

func (r *repository) Manifests() aerugo.ManifestService {
	return &manifestService{
		registry:     r.registry,
		repoPath:     r.repo.Path(),
		repositoryID: r.repo.ID,
	}
}

func (r *repository) Tags() aerugo.TagService {
	return &tagService{
		registry:     r.registry,
		repositoryID: r.repo.ID,
	}
}
