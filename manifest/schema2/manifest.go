package schema2

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/manifest"
)

const (
	// MediaTypeManifest specifies the mediaType for the current version.
	MediaTypeManifest = "application/vnd.docker.distribution.manifest.v2+json"

	// MediaTypeImageConfig specifies the mediaType for the image configuration.
	MediaTypeImageConfig = "application/vnd.docker.container.image.v1+json"

	// MediaTypeLayer is the mediaType used for layers referenced by the
	// manifest.
	MediaTypeLayer = "application/vnd.docker.image.rootfs.diff.tar.gzip"

	// MediaTypeForeignLayer is the mediaType used for layers that must be
	// downloaded from foreign URLs.
	MediaTypeForeignLayer = "application/vnd.docker.image.rootfs.foreign.diff.tar.gzip"

	// MediaTypeUncompressedLayer is the mediaType used for layers which
	// are not compressed.
	MediaTypeUncompressedLayer = "application/vnd.docker.image.rootfs.diff.tar"
)

// SchemaVersion provides a pre-initialized version structure for this
// package's version of the manifest.
var SchemaVersion = manifest.Versioned{
	SchemaVersion: 2,
	MediaType:     MediaTypeManifest,
}

func init() {
	// The Docker and OCI image manifests share a shape; one decode path
	// serves both, keyed by the media type the client declared.
	for _, mt := range []string{MediaTypeManifest, v1.MediaTypeImageManifest} {
		if err := aerugo.RegisterManifestSchema(mt, unmarshalFunc(mt)); err != nil {
			panic(fmt.Sprintf("Unable to register manifest: %s", err))
		}
	}
}

func unmarshalFunc(mediaType string) aerugo.UnmarshalFunc {
	return func(b []byte) (aerugo.Manifest, v1.Descriptor, error) {
		m := &DeserializedManifest{expected: mediaType}
		if err := m.UnmarshalJSON(b); err != nil {
			return nil, v1.Descriptor{}, err
		}

		return m, v1.Descriptor{
			Digest:    digest.FromBytes(b),
			Size:      int64(len(b)),
			MediaType: mediaType,
		}, nil
	}
}

// Manifest defines an image manifest: a config blob plus the ordered list
// of layer blobs making up the image filesystem.
type Manifest struct {
	manifest.Versioned

	// Config references the image configuration as a blob.
	Config v1.Descriptor `json:"config"`

	// Layers lists descriptors for the layers referenced by the
	// configuration, ordered from base to top.
	Layers []v1.Descriptor `json:"layers"`
}

// References returns the descriptors of this manifest's references: the
// config first, then the layers in order.
func (m Manifest) References() []v1.Descriptor {
	references := make([]v1.Descriptor, 0, 1+len(m.Layers))
	references = append(references, m.Config)
	references = append(references, m.Layers...)
	return references
}

// Target returns the config descriptor of this manifest.
func (m Manifest) Target() v1.Descriptor {
	return m.Config
}

// DeserializedManifest wraps Manifest with a copy of the original JSON. The
// original bytes are the manifest's identity and must be served verbatim.
type DeserializedManifest struct {
	Manifest

	// canonical is the byte representation the manifest was decoded from.
	canonical []byte

	// expected, when set, pins the mediaType field to one value during
	// decoding.
	expected string
}

// FromStruct takes a Manifest structure, marshals it to JSON, and returns a
// DeserializedManifest which contains the manifest and its JSON representation.
func FromStruct(m Manifest) (*DeserializedManifest, error) {
	var deserialized DeserializedManifest
	deserialized.Manifest = m

	var err error
	deserialized.canonical, err = json.MarshalIndent(&m, "", "   ")
	return &deserialized, err
}

// UnmarshalJSON populates a new Manifest struct from JSON data.
func (m *DeserializedManifest) UnmarshalJSON(b []byte) error {
	m.canonical = make([]byte, len(b))
	// store manifest in canonical
	copy(m.canonical, b)

	// Unmarshal canonical JSON into Manifest object
	var mfst Manifest
	if err := json.Unmarshal(m.canonical, &mfst); err != nil {
		return err
	}

	// OCI image manifests may omit mediaType; Docker ones carry it and it
	// must agree with the declared type.
	if mfst.MediaType == "" && m.expected == v1.MediaTypeImageManifest {
		mfst.MediaType = v1.MediaTypeImageManifest
	}
	if m.expected != "" && mfst.MediaType != m.expected {
		return fmt.Errorf("mediaType in manifest should be '%s' not '%s'", m.expected, mfst.MediaType)
	}

	m.Manifest = mfst

	return nil
}

// MarshalJSON returns the contents of canonical. If canonical is empty,
// marshals the inner contents.
func (m *DeserializedManifest) MarshalJSON() ([]byte, error) {
	if len(m.canonical) > 0 {
		return m.canonical, nil
	}

	return nil, errors.New("JSON representation not initialized in DeserializedManifest")
}

// Payload returns the raw content of the manifest. The contents can be used
// to calculate the content identifier.
func (m DeserializedManifest) Payload() (string, []byte, error) {
	return m.MediaType, m.canonical, nil
}
