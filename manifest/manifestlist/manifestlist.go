package manifestlist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/manifest"
)

// MediaTypeManifestList specifies the mediaType for manifest lists.
const MediaTypeManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

// SchemaVersion provides a pre-initialized version structure for this
// package's version of the manifest list.
var SchemaVersion = manifest.Versioned{
	SchemaVersion: 2,
	MediaType:     MediaTypeManifestList,
}

func init() {
	// Docker manifest lists and OCI image indexes share a shape; a single
	// decode path covers both.
	for _, mt := range []string{MediaTypeManifestList, v1.MediaTypeImageIndex} {
		if err := aerugo.RegisterManifestSchema(mt, unmarshalFunc(mt)); err != nil {
			panic(fmt.Sprintf("Unable to register manifest: %s", err))
		}
	}
}

func unmarshalFunc(mediaType string) aerugo.UnmarshalFunc {
	return func(b []byte) (aerugo.Manifest, v1.Descriptor, error) {
		if err := validateList(b); err != nil {
			return nil, v1.Descriptor{}, err
		}

		m := &DeserializedManifestList{expected: mediaType}
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

// PlatformSpec specifies a platform where a particular image manifest is
// applicable.
type PlatformSpec struct {
	// Architecture field specifies the CPU architecture, for example
	// `amd64` or `ppc64`.
	Architecture string `json:"architecture"`

	// OS specifies the operating system, for example `linux` or `windows`.
	OS string `json:"os"`

	// OSVersion is an optional field specifying the operating system
	// version, for example `10.0.10586`.
	OSVersion string `json:"os.version,omitempty"`

	// OSFeatures is an optional field specifying an array of strings,
	// each listing a required OS feature (for example on Windows `win32k`).
	OSFeatures []string `json:"os.features,omitempty"`

	// Variant is an optional field specifying a variant of the CPU, for
	// example `v8` to specify a specific ARM variant.
	Variant string `json:"variant,omitempty"`

	// Features is an optional field specifying an array of strings, each
	// listing a required CPU feature (for example `sse4` or `aes`).
	Features []string `json:"features,omitempty"`
}

// A ManifestDescriptor references a platform-specific manifest. The
// embedded descriptor preserves any extension fields the client sent, so a
// list survives a push/pull round trip untouched.
type ManifestDescriptor struct {
	v1.Descriptor

	// Platform specifies which platform the manifest pointed to by the
	// descriptor runs on.
	Platform PlatformSpec `json:"platform"`
}

// ManifestList references manifests for various platforms.
type ManifestList struct {
	manifest.Versioned

	// Manifests references a list of manifests
	Manifests []ManifestDescriptor `json:"manifests"`
}

// References returns the descriptors of the referenced image manifests,
// with the platform tuple carried over.
func (m ManifestList) References() []v1.Descriptor {
	dependencies := make([]v1.Descriptor, len(m.Manifests))
	for i := range m.Manifests {
		dependencies[i] = m.Manifests[i].Descriptor
		dependencies[i].Platform = &v1.Platform{
			Architecture: m.Manifests[i].Platform.Architecture,
			OS:           m.Manifests[i].Platform.OS,
			OSVersion:    m.Manifests[i].Platform.OSVersion,
			OSFeatures:   m.Manifests[i].Platform.OSFeatures,
			Variant:      m.Manifests[i].Platform.Variant,
		}
	}

	return dependencies
}

// DeserializedManifestList wraps ManifestList with a copy of the original
// JSON.
type DeserializedManifestList struct {
	ManifestList

	// canonical is the byte representation the list was decoded from.
	canonical []byte

	// expected, when set, pins the mediaType field to one value during
	// decoding.
	expected string
}

// FromDescriptors takes a slice of descriptors and returns a
// DeserializedManifestList which contains the resulting manifest list and
// its JSON representation.
func FromDescriptors(descriptors []ManifestDescriptor) (*DeserializedManifestList, error) {
	return FromDescriptorsWithMediaType(descriptors, MediaTypeManifestList)
}

// FromDescriptorsWithMediaType builds a list under an explicit media type,
// which allows constructing OCI image indexes as well.
func FromDescriptorsWithMediaType(descriptors []ManifestDescriptor, mediaType string) (*DeserializedManifestList, error) {
	m := ManifestList{
		Versioned: manifest.Versioned{
			SchemaVersion: 2,
			MediaType:     mediaType,
		},
	}

	m.Manifests = make([]ManifestDescriptor, len(descriptors))
	copy(m.Manifests, descriptors)

	deserialized := DeserializedManifestList{
		ManifestList: m,
	}

	var err error
	deserialized.canonical, err = json.MarshalIndent(&m, "", "   ")
	return &deserialized, err
}

// UnmarshalJSON populates a new ManifestList struct from JSON data.
func (m *DeserializedManifestList) UnmarshalJSON(b []byte) error {
	m.canonical = make([]byte, len(b))
	// store manifest list in canonical
	copy(m.canonical, b)

	// Unmarshal canonical JSON into ManifestList object
	var manifestList ManifestList
	if err := json.Unmarshal(m.canonical, &manifestList); err != nil {
		return err
	}

	// OCI image indexes may omit mediaType; Docker lists carry it and it
	// must agree with the declared type.
	if manifestList.MediaType == "" && m.expected == v1.MediaTypeImageIndex {
		manifestList.MediaType = v1.MediaTypeImageIndex
	}
	if m.expected != "" && manifestList.MediaType != m.expected {
		return fmt.Errorf("mediaType in manifest list should be '%s' not '%s'", m.expected, manifestList.MediaType)
	}

	m.ManifestList = manifestList

	return nil
}

// MarshalJSON returns the contents of canonical. If canonical is empty,
// marshals the inner contents.
func (m *DeserializedManifestList) MarshalJSON() ([]byte, error) {
	if len(m.canonical) > 0 {
		return m.canonical, nil
	}

	return nil, errors.New("JSON representation not initialized in DeserializedManifestList")
}

// Payload returns the raw content of the manifest list. The contents can be
// used to calculate the content identifier.
func (m DeserializedManifestList) Payload() (string, []byte, error) {
	mediaType := m.MediaType
	if mediaType == "" {
		mediaType = v1.MediaTypeImageIndex
	}

	return mediaType, m.canonical, nil
}

// validateList rejects documents that carry image-manifest fields, which
// would otherwise decode as an empty list.
func validateList(b []byte) error {
	var doc struct {
		Config interface{} `json:"config,omitempty"`
		Layers interface{} `json:"layers,omitempty"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc.Config != nil || doc.Layers != nil {
		return errors.New("manifestlist: expected list but found manifest")
	}
	return nil
}
