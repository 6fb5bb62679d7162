package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/manifest/manifestlist"
	"github.com/aerugo/aerugo/manifest/schema2"
	"github.com/aerugo/aerugo/registry/datastore"
)

// manifestService stores and resolves manifests for one repository.
// Manifest identity is the digest of the exact pushed bytes, so payloads
// go in and out of the metadata store verbatim.
type manifestService struct {
	registry     *Registry
	repoPath     string
	repositoryID int64
}

var _ aerugo.ManifestService = &manifestService{}

func (ms *manifestService) Exists(ctx context.Context, dgst digest.Digest) (bool, error) {
	m, err := ms.registry.manifests.FindByDigest(ctx, ms.repositoryID, dgst)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

func (ms *manifestService) Get(ctx context.Context, dgst digest.Digest, options ...aerugo.ManifestServiceOption) (aerugo.Manifest, error) {
	manifest, err := ms.fetch(ctx, dgst)
	if err != nil {
		return nil, err
	}

	list, ok := manifest.(*manifestlist.DeserializedManifestList)
	if !ok {
		return manifest, nil
	}

	var (
		accepted  bool
		negotiate bool
		platform  *v1.Platform
	)
	for _, option := range options {
		switch opt := option.(type) {
		case aerugo.WithAcceptOption:
			negotiate = true
			listType, _, _ := list.Payload()
			for _, mt := range opt.MediaTypes {
				if mt == listType {
					accepted = true
				}
			}
		case aerugo.WithPlatformOption:
			p := opt.Platform
			platform = &p
		default:
			if err := option.Apply(ms); err != nil {
				return nil, err
			}
		}
	}

	// Internal callers that pass no accept set get the stored document
	// unchanged; negotiation only happens on behalf of a client.
	if !negotiate || accepted {
		return manifest, nil
	}

	target := selectPlatform(list, platform)
	if target == "" {
		return nil, aerugo.ErrManifestUnknownRevision{Name: ms.repoPath, Revision: dgst}
	}

	sub, err := ms.fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	dcontext.GetLogger(ctx).Debugf("resolved manifest list %s to %s", dgst, target)

	return sub, nil
}

func (ms *manifestService) Put(ctx context.Context, manifest aerugo.Manifest) (digest.Digest, error) {
	mediaType, payload, err := manifest.Payload()
	if err != nil {
		return "", err
	}
	dgst := digest.FromBytes(payload)

	var refs []digest.Digest
	switch m := manifest.(type) {
	case *schema2.DeserializedManifest:
		if err := ms.verifyImageManifest(ctx, m); err != nil {
			return "", err
		}
		for _, desc := range m.References() {
			refs = append(refs, desc.Digest)
		}
	case *manifestlist.DeserializedManifestList:
		if err := ms.verifyManifestList(ctx, m); err != nil {
			return "", err
		}
	default:
		return "", aerugo.ErrManifestUnsupportedMediaType{MediaType: mediaType}
	}

	row := &datastore.Manifest{
		RepositoryID: ms.repositoryID,
		Digest:       dgst,
		MediaType:    mediaType,
		Payload:      payload,
	}
	if err := ms.registry.manifests.Create(ctx, row, refs); err != nil {
		return "", err
	}

	if cache := ms.registry.manifestCache; cache != nil {
		if err := cache.Set(ctx, ms.repoPath, dgst, mediaType, payload); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("caching manifest %s", dgst)
		}
	}

	return dgst, nil
}

func (ms *manifestService) Delete(ctx context.Context, dgst digest.Digest) error {
	deleted, err := ms.registry.manifests.Delete(ctx, ms.repositoryID, dgst)
	if err != nil {
		return err
	}
	if !deleted {
		return aerugo.ErrManifestUnknownRevision{Name: ms.repoPath, Revision: dgst}
	}

	if cache := ms.registry.manifestCache; cache != nil {
		if err := cache.Invalidate(ctx, ms.repoPath, dgst); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("invalidating manifest %s", dgst)
		}
	}

	return nil
}

// fetch loads and decodes the stored payload for a revision, consulting
// the payload cache first.
func (ms *manifestService) fetch(ctx context.Context, dgst digest.Digest) (aerugo.Manifest, error) {
	if cache := ms.registry.manifestCache; cache != nil {
		if mediaType, payload, err := cache.Get(ctx, ms.repoPath, dgst); err == nil {
			manifest, _, err := aerugo.UnmarshalManifest(mediaType, payload)
			if err == nil {
				return manifest, nil
			}
		}
	}

	row, err := ms.registry.manifests.FindByDigest(ctx, ms.repositoryID, dgst)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, aerugo.ErrManifestUnknownRevision{Name: ms.repoPath, Revision: dgst}
	}

	manifest, _, err := aerugo.UnmarshalManifest(row.MediaType, row.Payload)
	if err != nil {
		return nil, err
	}

	if cache := ms.registry.manifestCache; cache != nil {
		if err := cache.Set(ctx, ms.repoPath, dgst, row.MediaType, row.Payload); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Warnf("caching manifest %s", dgst)
		}
	}

	return manifest, nil
}

// verifyImageManifest checks that every descriptor the manifest references
// is a known blob in this repository. All failures are gathered so the
// client sees the full picture in one response.
func (ms *manifestService) verifyImageManifest(ctx context.Context, m *schema2.DeserializedManifest) error {
	var errs aerugo.ErrManifestVerification

	for _, desc := range m.References() {
		if err := desc.Digest.Validate(); err != nil {
			errs = append(errs, aerugo.ErrBlobInvalidDigest{Digest: desc.Digest, Reason: err})
			continue
		}

		blob, err := ms.registry.blobs.FindByDigest(ctx, ms.repositoryID, desc.Digest)
		if err != nil {
			return err
		}
		if blob == nil {
			errs = append(errs, aerugo.ErrManifestBlobUnknown{Digest: desc.Digest})
		}
	}

	if len(errs) != 0 {
		return errs
	}
	return nil
}

// verifyManifestList checks that the list is non-empty, every entry points
// at a manifest already pushed to this repository, and no platform tuple
// appears twice.
func (ms *manifestService) verifyManifestList(ctx context.Context, list *manifestlist.DeserializedManifestList) error {
	var errs aerugo.ErrManifestVerification

	if len(list.Manifests) == 0 {
		return aerugo.ErrManifestVerification{errors.New("manifest list has no entries")}
	}

	seen := make(map[string]struct{}, len(list.Manifests))
	for _, entry := range list.Manifests {
		if entry.Platform.OS != "" || entry.Platform.Architecture != "" {
			key := platformKey(entry.Platform)
			if _, dup := seen[key]; dup {
				errs = append(errs, fmt.Errorf("duplicate platform %s in manifest list", key))
				continue
			}
			seen[key] = struct{}{}
		}

		if err := entry.Digest.Validate(); err != nil {
			errs = append(errs, aerugo.ErrBlobInvalidDigest{Digest: entry.Digest, Reason: err})
			continue
		}

		m, err := ms.registry.manifests.FindByDigest(ctx, ms.repositoryID, entry.Digest)
		if err != nil {
			return err
		}
		if m == nil {
			errs = append(errs, aerugo.ErrManifestReferenceUnknown{Digest: entry.Digest})
		}
	}

	if len(errs) != 0 {
		return errs
	}
	return nil
}

// selectPlatform picks the entry matching the requested platform. Without
// an explicit request it prefers linux/amd64 and then the first entry, the
// order clients most commonly expect. An empty digest means nothing
// matched.
func selectPlatform(list *manifestlist.DeserializedManifestList, requested *v1.Platform) digest.Digest {
	if len(list.Manifests) == 0 {
		return ""
	}

	if requested != nil {
		for _, entry := range list.Manifests {
			if entry.Platform.OS == requested.OS && entry.Platform.Architecture == requested.Architecture {
				if requested.Variant != "" && entry.Platform.Variant != requested.Variant {
					continue
				}
				return entry.Digest
			}
		}
		// An explicit platform request either matches or fails; falling
		// back to some other platform would hand the client the wrong
		// image.
		return ""
	}

	for _, entry := range list.Manifests {
		if entry.Platform.OS == "linux" && entry.Platform.Architecture == "amd64" {
			return entry.Digest
		}
	}

	return list.Manifests[0].Digest
}

func platformKey(p manifestlist.PlatformSpec) string {
	return p.OS + "/" + p.Architecture + "/" + p.Variant
}
