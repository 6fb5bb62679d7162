package schema2

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/manifest"
)

const expectedManifestSerialization = `{
   "schemaVersion": 2,
   "mediaType": "application/vnd.docker.distribution.manifest.v2+json",
   "config": {
      "mediaType": "application/vnd.docker.container.image.v1+json",
      "digest": "sha256:1a9ec845ee94c202b2d5da74a24f0ed2058318bfa9879fa541efaecba272331b",
      "size": 985
   },
   "layers": [
      {
         "mediaType": "application/vnd.docker.image.rootfs.diff.tar.gzip",
         "digest": "sha256:62d8908bee94c202b2d35224a221aaa2058318bfa9879fa541efaecba272331b",
         "size": 153263
      }
   ]
}`

func makeTestManifest(mediaType string) Manifest {
	return Manifest{
		Versioned: manifest.Versioned{
			SchemaVersion: 2,
			MediaType:     mediaType,
		},
		Config: v1.Descriptor{
			MediaType: MediaTypeImageConfig,
			Digest:    "sha256:1a9ec845ee94c202b2d5da74a24f0ed2058318bfa9879fa541efaecba272331b",
			Size:      985,
		},
		Layers: []v1.Descriptor{
			{
				MediaType: MediaTypeLayer,
				Digest:    "sha256:62d8908bee94c202b2d35224a221aaa2058318bfa9879fa541efaecba272331b",
				Size:      153263,
			},
		},
	}
}

func TestManifest(t *testing.T) {
	mfst := makeTestManifest(MediaTypeManifest)

	deserialized, err := FromStruct(mfst)
	if err != nil {
		t.Fatalf("error creating DeserializedManifest: %v", err)
	}

	mediaType, canonical, _ := deserialized.Payload()
	if mediaType != MediaTypeManifest {
		t.Fatalf("unexpected media type: %s", mediaType)
	}

	// Check that the canonical field is the same as json.MarshalIndent
	// with these parameters.
	expected, err := json.MarshalIndent(&mfst, "", "   ")
	if err != nil {
		t.Fatalf("error marshaling manifest: %v", err)
	}
	if !bytes.Equal(expected, canonical) {
		t.Fatalf("manifest bytes not equal:\n%s\n%s", string(expected), string(canonical))
	}

	// Check that the canonical field has the expected value.
	if !bytes.Equal([]byte(expectedManifestSerialization), canonical) {
		t.Fatalf("manifest bytes not equal:\n%s\n%s", expectedManifestSerialization, string(canonical))
	}

	var unmarshalled DeserializedManifest
	if err := json.Unmarshal(deserialized.canonical, &unmarshalled); err != nil {
		t.Fatalf("error unmarshaling manifest: %v", err)
	}
	if !reflectEqualManifests(&unmarshalled, deserialized) {
		t.Fatalf("manifests are different after unmarshaling: %v != %v", unmarshalled, *deserialized)
	}

	references := deserialized.References()
	if len(references) != 2 {
		t.Fatalf("unexpected number of references: %d", len(references))
	}
	if references[0].Digest != mfst.Config.Digest {
		t.Fatal("config is not the first reference")
	}
	if references[1].Digest != mfst.Layers[0].Digest {
		t.Fatal("layer is not the second reference")
	}

	target := deserialized.Target()
	if target.Digest != mfst.Config.Digest {
		t.Fatalf("unexpected target: %v", target)
	}
}

func reflectEqualManifests(a, b *DeserializedManifest) bool {
	_, ap, _ := a.Payload()
	_, bp, _ := b.Payload()
	return bytes.Equal(ap, bp)
}

func TestUnmarshalPreservesPayloadBytes(t *testing.T) {
	// Clients may send arbitrary whitespace and field ordering; the stored
	// payload must be exactly what was sent.
	payload := []byte(`{"schemaVersion":2,"layers":[],"mediaType":"application/vnd.docker.distribution.manifest.v2+json","config":{"mediaType":"application/vnd.docker.container.image.v1+json","digest":"sha256:1a9ec845ee94c202b2d5da74a24f0ed2058318bfa9879fa541efaecba272331b","size":985}}`)

	m, desc, err := aerugo.UnmarshalManifest(MediaTypeManifest, payload)
	if err != nil {
		t.Fatalf("error unmarshaling manifest: %v", err)
	}

	_, canonical, _ := m.Payload()
	if !bytes.Equal(canonical, payload) {
		t.Fatal("payload bytes were not preserved")
	}
	if desc.Digest != digest.FromBytes(payload) {
		t.Fatalf("descriptor digest not computed over payload: %s", desc.Digest)
	}
	if desc.Size != int64(len(payload)) {
		t.Fatalf("unexpected descriptor size: %d", desc.Size)
	}
}

func TestMediaTypeMismatch(t *testing.T) {
	mfst := makeTestManifest(MediaTypeManifest)
	deserialized, err := FromStruct(mfst)
	if err != nil {
		t.Fatalf("error creating DeserializedManifest: %v", err)
	}
	_, canonical, _ := deserialized.Payload()

	// A Docker manifest submitted under the OCI media type must be
	// rejected.
	if _, _, err := aerugo.UnmarshalManifest(v1.MediaTypeImageManifest, canonical); err == nil {
		t.Fatal("expected error unmarshaling manifest with mismatched media type")
	}
}

func TestOCIManifestOmittedMediaType(t *testing.T) {
	mfst := makeTestManifest("")
	mfst.Config.MediaType = v1.MediaTypeImageConfig

	deserialized, err := FromStruct(mfst)
	if err != nil {
		t.Fatalf("error creating DeserializedManifest: %v", err)
	}
	_, canonical, _ := deserialized.Payload()

	m, _, err := aerugo.UnmarshalManifest(v1.MediaTypeImageManifest, canonical)
	if err != nil {
		t.Fatalf("error unmarshaling manifest: %v", err)
	}

	// The omitted field is defaulted from the declared type, but the
	// payload stays untouched.
	oci := m.(*DeserializedManifest)
	if oci.MediaType != v1.MediaTypeImageManifest {
		t.Fatalf("unexpected media type: %s", oci.MediaType)
	}
	_, payload, _ := m.Payload()
	if !bytes.Equal(payload, canonical) {
		t.Fatal("payload bytes were not preserved")
	}
}
