// Package testutil provides in-memory implementations of the metadata
// store interfaces, mirroring the semantics of the postgres-backed stores
// closely enough for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/aerugo/aerugo/registry/datastore"
)

// MetadataStore bundles the in-memory stores over one shared state, the
// way the postgres stores share one pool.
type MetadataStore struct {
	mu sync.Mutex

	repositories []*datastore.Repository
	blobs        map[blobKey]*datastore.Blob
	manifests    map[blobKey]*datastore.Manifest
	tags         map[tagKey]*datastore.Tag
	uploads      map[string]*datastore.Upload

	nextID int64
}

type blobKey struct {
	repositoryID int64
	digest       digest.Digest
}

type tagKey struct {
	repositoryID int64
	name         string
}

// NewMetadataStore returns an empty store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		blobs:     make(map[blobKey]*datastore.Blob),
		manifests: make(map[blobKey]*datastore.Manifest),
		tags:      make(map[tagKey]*datastore.Tag),
		uploads:   make(map[string]*datastore.Upload),
	}
}

// AddRepository seeds a repository row the way the external management
// service would, returning its id.
func (ms *MetadataStore) AddRepository(org, name string, public bool) int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.nextID++
	ms.repositories = append(ms.repositories, &datastore.Repository{
		ID:           ms.nextID,
		Organization: org,
		Name:         name,
		Public:       public,
		CreatedAt:    time.Now(),
	})
	return ms.nextID
}

// Repositories implements storage.RepositoryReader.
func (ms *MetadataStore) Repositories() *RepositoryStore { return &RepositoryStore{ms} }

// Blobs implements storage.BlobMetadata.
func (ms *MetadataStore) Blobs() *BlobStore { return &BlobStore{ms} }

// Manifests implements storage.ManifestMetadata.
func (ms *MetadataStore) Manifests() *ManifestStore { return &ManifestStore{ms} }

// Tags implements storage.TagMetadata.
func (ms *MetadataStore) Tags() *TagStore { return &TagStore{ms} }

// Uploads implements storage.UploadMetadata.
func (ms *MetadataStore) Uploads() *UploadStore { return &UploadStore{ms} }

type RepositoryStore struct{ ms *MetadataStore }

func (s *RepositoryStore) FindByPath(ctx context.Context, path string) (*datastore.Repository, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	for _, r := range s.ms.repositories {
		if r.Path() == path {
			clone := *r
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *RepositoryStore) Paths(ctx context.Context, limit int, last string) ([]string, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	var paths []string
	for _, r := range s.ms.repositories {
		if p := r.Path(); p > last {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

type BlobStore struct{ ms *MetadataStore }

func (s *BlobStore) FindByDigest(ctx context.Context, repositoryID int64, d digest.Digest) (*datastore.Blob, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	if b, ok := s.ms.blobs[blobKey{repositoryID, d}]; ok {
		clone := *b
		return &clone, nil
	}
	return nil, nil
}

func (s *BlobStore) Create(ctx context.Context, b *datastore.Blob) error {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	key := blobKey{b.RepositoryID, b.Digest}
	if existing, ok := s.ms.blobs[key]; ok {
		*b = *existing
		return nil
	}

	s.ms.nextID++
	b.ID = s.ms.nextID
	b.CreatedAt = time.Now()
	clone := *b
	s.ms.blobs[key] = &clone
	return nil
}

func (s *BlobStore) Delete(ctx context.Context, repositoryID int64, d digest.Digest) (bool, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	key := blobKey{repositoryID, d}
	if _, ok := s.ms.blobs[key]; !ok {
		return false, nil
	}
	delete(s.ms.blobs, key)
	return true, nil
}

type ManifestStore struct{ ms *MetadataStore }

func (s *ManifestStore) FindByDigest(ctx context.Context, repositoryID int64, d digest.Digest) (*datastore.Manifest, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	if m, ok := s.ms.manifests[blobKey{repositoryID, d}]; ok {
		clone := *m
		return &clone, nil
	}
	return nil, nil
}

func (s *ManifestStore) Create(ctx context.Context, m *datastore.Manifest, layers []digest.Digest) error {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	key := blobKey{m.RepositoryID, m.Digest}
	if existing, ok := s.ms.manifests[key]; ok {
		*m = *existing
		return nil
	}

	s.ms.nextID++
	m.ID = s.ms.nextID
	m.CreatedAt = time.Now()
	clone := *m
	clone.Payload = append([]byte(nil), m.Payload...)
	s.ms.manifests[key] = &clone
	return nil
}

func (s *ManifestStore) Delete(ctx context.Context, repositoryID int64, d digest.Digest) (bool, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	key := blobKey{repositoryID, d}
	if _, ok := s.ms.manifests[key]; !ok {
		return false, nil
	}
	delete(s.ms.manifests, key)
	return true, nil
}

type TagStore struct{ ms *MetadataStore }

func (s *TagStore) Find(ctx context.Context, repositoryID int64, name string) (*datastore.Tag, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	if t, ok := s.ms.tags[tagKey{repositoryID, name}]; ok {
		clone := *t
		return &clone, nil
	}
	return nil, nil
}

func (s *TagStore) Upsert(ctx context.Context, repositoryID int64, name string, d digest.Digest) error {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	s.ms.tags[tagKey{repositoryID, name}] = &datastore.Tag{
		RepositoryID: repositoryID,
		Name:         name,
		Digest:       d,
		UpdatedAt:    time.Now(),
	}
	return nil
}

func (s *TagStore) Delete(ctx context.Context, repositoryID int64, name string) (bool, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	key := tagKey{repositoryID, name}
	if _, ok := s.ms.tags[key]; !ok {
		return false, nil
	}
	delete(s.ms.tags, key)
	return true, nil
}

func (s *TagStore) Names(ctx context.Context, repositoryID int64, limit int, last string) ([]string, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	var names []string
	for key := range s.ms.tags {
		if key.repositoryID == repositoryID && key.name > last {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

type UploadStore struct{ ms *MetadataStore }

func (s *UploadStore) Create(ctx context.Context, u *datastore.Upload) error {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	u.CreatedAt = time.Now()
	clone := *u
	s.ms.uploads[u.ID] = &clone
	return nil
}

func (s *UploadStore) Find(ctx context.Context, id string) (*datastore.Upload, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	if u, ok := s.ms.uploads[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, nil
}

func (s *UploadStore) Advance(ctx context.Context, id string, expected, next int64) (int, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	u, ok := s.ms.uploads[id]
	if !ok || u.Uploaded != expected {
		return 0, datastore.ErrOffsetMismatch
	}
	u.Uploaded = next
	u.ChunkCount++
	return u.ChunkCount, nil
}

func (s *UploadStore) Delete(ctx context.Context, id string) (bool, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	if _, ok := s.ms.uploads[id]; !ok {
		return false, nil
	}
	delete(s.ms.uploads, id)
	return true, nil
}

func (s *UploadStore) Stale(ctx context.Context, cutoff time.Time) ([]*datastore.Upload, error) {
	s.ms.mu.Lock()
	defer s.ms.mu.Unlock()

	var stale []*datastore.Upload
	for _, u := range s.ms.uploads {
		if u.CreatedAt.Before(cutoff) {
			clone := *u
			stale = append(stale, &clone)
		}
	}
	return stale, nil
}

// AgeUpload backdates an upload session so reaper tests can mark it stale.
func (ms *MetadataStore) AgeUpload(id string, age time.Duration) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if u, ok := ms.uploads[id]; ok {
		u.CreatedAt = u.CreatedAt.Add(-age)
	}
}
