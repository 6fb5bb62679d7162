package aerugo

import (
	"context"
	"fmt"
	"mime"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Manifest represents a registry object specifying a set of references and
// an optional target. A manifest's identity is the digest of the exact
// bytes it was pushed with, so implementations retain the original payload
// and never re-serialize it.
type Manifest interface {
	// References returns a list of objects which make up this manifest. A
	// reference is anything which can be represented by a v1.Descriptor.
	// For an image manifest these are the config and the ordered layers;
	// for a manifest list, the platform manifests.
	References() []v1.Descriptor

	// Payload provides the serialized format of the manifest, in addition
	// to the media type.
	Payload() (mediaType string, payload []byte, err error)
}

// ManifestService stores and resolves manifests within a repository.
type ManifestService interface {
	// Exists reports whether a manifest with the given digest is present.
	Exists(ctx context.Context, dgst digest.Digest) (bool, error)

	// Get returns the manifest stored under the given digest, byte-exact as
	// pushed. Options control Accept negotiation and platform selection
	// when the stored manifest is a manifest list.
	Get(ctx context.Context, dgst digest.Digest, options ...ManifestServiceOption) (Manifest, error)

	// Put validates and stores the manifest, returning the digest of its
	// payload. Pushing byte-identical content twice returns the same
	// digest without duplicating the record.
	Put(ctx context.Context, manifest Manifest) (digest.Digest, error)

	// Delete removes the manifest with the given digest. Only admin
	// callers reach this path.
	Delete(ctx context.Context, dgst digest.Digest) error
}

// ManifestServiceOption configures a ManifestService method call.
type ManifestServiceOption interface {
	Apply(ManifestService) error
}

// WithAccept declares the media types the caller can consume. A stored
// manifest list is returned unchanged only when its media type is listed;
// otherwise the service selects a platform manifest from the list.
func WithAccept(mediaTypes []string) ManifestServiceOption {
	return WithAcceptOption{MediaTypes: mediaTypes}
}

// WithAcceptOption is the representation of the WithAccept option.
type WithAcceptOption struct {
	MediaTypes []string
}

// Apply is a no-op; the option is interpreted by the service.
func (o WithAcceptOption) Apply(ManifestService) error { return nil }

// WithPlatform requests a specific platform manifest when resolving a
// manifest list for a caller that does not accept lists.
func WithPlatform(p v1.Platform) ManifestServiceOption {
	return WithPlatformOption{Platform: p}
}

// WithPlatformOption is the representation of the WithPlatform option.
type WithPlatformOption struct {
	Platform v1.Platform
}

// Apply is a no-op; the option is interpreted by the service.
func (o WithPlatformOption) Apply(ManifestService) error { return nil }

// UnmarshalFunc implements manifest unmarshalling a given MediaType.
type UnmarshalFunc func([]byte) (Manifest, v1.Descriptor, error)

var mappings = make(map[string]UnmarshalFunc)

// UnmarshalManifest looks up the media type in the registered manifest
// codecs and decodes the payload with the matching one. The descriptor
// digest is computed over the exact payload bytes.
func UnmarshalManifest(ctHeader string, p []byte) (Manifest, v1.Descriptor, error) {
	// Need to look up by the actual media type, not the raw contents of
	// the header. Strip semicolons and anything following them.
	var mediaType string
	if ctHeader != "" {
		var err error
		mediaType, _, err = mime.ParseMediaType(ctHeader)
		if err != nil {
			return nil, v1.Descriptor{}, err
		}
	}

	unmarshalFunc, ok := mappings[mediaType]
	if !ok {
		return nil, v1.Descriptor{}, ErrManifestUnsupportedMediaType{MediaType: mediaType}
	}

	return unmarshalFunc(p)
}

// RegisterManifestSchema registers an UnmarshalFunc for a given schema type.
// This should be called from specific manifest packages in an init function.
func RegisterManifestSchema(mediaType string, u UnmarshalFunc) error {
	if _, ok := mappings[mediaType]; ok {
		return fmt.Errorf("manifest media type registration would overwrite existing: %s", mediaType)
	}
	mappings[mediaType] = u
	return nil
}

// ManifestMediaTypes returns the supported media types for manifests.
func ManifestMediaTypes() (mediaTypes []string) {
	for t := range mappings {
		if t != "" {
			mediaTypes = append(mediaTypes, t)
		}
	}
	return
}
