package storage

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/objectstore"
)

// blobService serves content-addressed reads for one repository. Bytes are
// shared across repositories through the content-addressed key layout, so
// the per-repository check happens against metadata rows only.
type blobService struct {
	registry     *Registry
	repoPath     string
	repositoryID int64
}

var _ aerugo.BlobService = &blobService{}

func (bs *blobService) Stat(ctx context.Context, dgst digest.Digest) (v1.Descriptor, error) {
	if cache := bs.registry.descriptorCache; cache != nil {
		desc, err := cache.RepositoryScoped(bs.repoPath).Stat(ctx, dgst)
		if err == nil {
			return desc, nil
		}
	}

	blob, err := bs.registry.blobs.FindByDigest(ctx, bs.repositoryID, dgst)
	if err != nil {
		return v1.Descriptor{}, err
	}
	if blob == nil {
		return v1.Descriptor{}, aerugo.ErrBlobUnknown
	}

	desc := v1.Descriptor{
		MediaType: blob.MediaType,
		Digest:    blob.Digest,
		Size:      blob.Size,
	}

	if cache := bs.registry.descriptorCache; cache != nil {
		if err := cache.RepositoryScoped(bs.repoPath).SetDescriptor(ctx, dgst, desc); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("caching descriptor for %s", dgst)
		}
	}

	return desc, nil
}

func (bs *blobService) Open(ctx context.Context, dgst digest.Digest) (io.ReadCloser, error) {
	desc, err := bs.Stat(ctx, dgst)
	if err != nil {
		return nil, err
	}

	rc, err := bs.registry.driver.Get(ctx, blobDataPath(desc.Digest))
	if err != nil {
		if _, ok := err.(objectstore.KeyNotFoundError); ok {
			return nil, aerugo.ErrBlobUnknown
		}
		return nil, err
	}

	return rc, nil
}

// RedirectURL returns a presigned download URL for the blob, or "" when
// redirects are disabled or the driver cannot presign. Callers fall back
// to proxying the bytes in that case.
func (bs *blobService) RedirectURL(ctx context.Context, dgst digest.Digest) (string, error) {
	if !bs.registry.redirect {
		return "", nil
	}

	desc, err := bs.Stat(ctx, dgst)
	if err != nil {
		return "", err
	}

	u, err := bs.registry.driver.PresignGet(ctx, blobDataPath(desc.Digest), bs.registry.redirectTTL)
	if err != nil {
		if _, ok := err.(objectstore.ErrUnsupportedMethod); ok {
			return "", nil
		}
		return "", err
	}

	return u, nil
}

// Delete unlinks the blob from this repository. The underlying bytes stay
// in the object store since other repositories may still reference them;
// reclaiming orphaned data is a garbage collection concern.
func (bs *blobService) Delete(ctx context.Context, dgst digest.Digest) error {
	deleted, err := bs.registry.blobs.Delete(ctx, bs.repositoryID, dgst)
	if err != nil {
		return err
	}
	if !deleted {
		return aerugo.ErrBlobUnknown
	}

	if cache := bs.registry.descriptorCache; cache != nil {
		if err := cache.RepositoryScoped(bs.repoPath).Invalidate(ctx, dgst); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("invalidating descriptor for %s", dgst)
		}
	}

	return nil
}
