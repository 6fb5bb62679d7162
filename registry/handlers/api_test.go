package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/configuration"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/manifest"
	"github.com/aerugo/aerugo/manifest/manifestlist"
	"github.com/aerugo/aerugo/manifest/schema2"
	"github.com/aerugo/aerugo/registry/api/errcode"
	v2 "github.com/aerugo/aerugo/registry/api/v2"
	"github.com/aerugo/aerugo/registry/auth"
	_ "github.com/aerugo/aerugo/registry/auth/silly"
	"github.com/aerugo/aerugo/registry/objectstore/inmemory"
	"github.com/aerugo/aerugo/registry/storage"
	"github.com/aerugo/aerugo/testutil"
)

type testEnv struct {
	app      *App
	server   *httptest.Server
	builder  *v2.URLBuilder
	metadata *testutil.MetadataStore
}

// newTestEnv wires an app against in-memory stores so handler behavior can
// be exercised without postgres or a blob backend.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	config := &configuration.Configuration{}
	config.Catalog.MaxEntries = 1000

	ms := testutil.NewMetadataStore()
	ms.AddRepository("acme", "app", false)

	app := &App{
		Context: dcontext.Background(),
		Config:  config,
		router:  v2.RouterWithPrefix(""),
		registry: storage.NewRegistry(inmemory.New(),
			ms.Repositories(), ms.Blobs(), ms.Manifests(), ms.Tags(), ms.Uploads()),
	}
	app.registerRoutes()

	server := httptest.NewServer(app)
	t.Cleanup(server.Close)

	builder, err := v2.NewURLBuilderFromString(server.URL, false)
	if err != nil {
		t.Fatalf("error creating url builder: %v", err)
	}

	return &testEnv{
		app:      app,
		server:   server,
		builder:  builder,
		metadata: ms,
	}
}

func checkResponse(t *testing.T, msg string, resp *http.Response, expectedStatus int) {
	t.Helper()
	if resp.StatusCode != expectedStatus {
		t.Fatalf("unexpected status %s: got %v, expected %v", msg, resp.Status, expectedStatus)
	}
}

func checkHeaders(t *testing.T, resp *http.Response, headers http.Header) {
	t.Helper()
	for k, vs := range headers {
		for _, v := range vs {
			if resp.Header.Get(k) != v {
				t.Fatalf("%s header: got %q, expected %q", k, resp.Header.Get(k), v)
			}
		}
	}
}

// checkBodyHasErrorCodes reads the error envelope out of the body and
// checks that exactly the given codes are present.
func checkBodyHasErrorCodes(t *testing.T, msg string, resp *http.Response, errorCodes ...errcode.ErrorCode) {
	t.Helper()

	p, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body %s: %v", msg, err)
	}

	var errs errcode.Errors
	if err := json.Unmarshal(p, &errs); err != nil {
		t.Fatalf("unmarshaling errors %s: %v (body %q)", msg, err, string(p))
	}
	if len(errs) == 0 {
		t.Fatalf("expected errors in response %s", msg)
	}

	counts := map[errcode.ErrorCode]int{}
	for _, e := range errs {
		counts[e.(errcode.ErrorCoder).ErrorCode()]++
	}
	for _, code := range errorCodes {
		if counts[code] == 0 {
			t.Fatalf("expected error code %v in response %s, got %v", code, msg, errs)
		}
	}
}

func httpDo(t *testing.T, method, u string, body io.Reader, headers http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		t.Fatalf("creating %s request: %v", method, err)
	}
	for k, vs := range headers {
		req.Header[k] = vs
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing %s %s: %v", method, u, err)
	}
	return resp
}

func TestBaseAPI(t *testing.T) {
	env := newTestEnv(t)

	baseURL, err := env.builder.BuildBaseURL()
	if err != nil {
		t.Fatalf("building base url: %v", err)
	}

	resp, err := http.Get(baseURL)
	if err != nil {
		t.Fatalf("issuing request: %v", err)
	}
	defer resp.Body.Close()

	checkResponse(t, "issuing api base check", resp, http.StatusOK)
	checkHeaders(t, resp, http.Header{
		"Content-Type":                    []string{"application/json"},
		"Docker-Distribution-API-Version": []string{"registry/2.0"},
	})

	p, _ := io.ReadAll(resp.Body)
	if string(p) != "{}" {
		t.Fatalf("unexpected body: %q", string(p))
	}
}

func TestUnknownRepositoryReturns404(t *testing.T) {
	env := newTestEnv(t)

	u, _ := env.builder.BuildTagsURL("acme/ghost")
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("issuing request: %v", err)
	}
	defer resp.Body.Close()

	checkResponse(t, "fetching tags of unknown repository", resp, http.StatusNotFound)
	checkBodyHasErrorCodes(t, "fetching tags of unknown repository", resp, errcode.ErrorCodeNameUnknown)
}

// startPushLayer starts an upload session and returns the chunk URL for it.
func startPushLayer(t *testing.T, env *testEnv, name string) string {
	t.Helper()

	uploadURL, err := env.builder.BuildBlobUploadURL(name)
	if err != nil {
		t.Fatalf("building upload url: %v", err)
	}

	resp, err := http.Post(uploadURL, "", nil)
	if err != nil {
		t.Fatalf("starting layer push: %v", err)
	}
	defer resp.Body.Close()

	checkResponse(t, "starting layer push", resp, http.StatusAccepted)
	if resp.Header.Get("Docker-Upload-UUID") == "" {
		t.Fatal("missing Docker-Upload-UUID header")
	}
	checkHeaders(t, resp, http.Header{
		"Range":          []string{"0-0"},
		"Content-Length": []string{"0"},
	})

	location := resp.Header.Get("Location")
	if location == "" {
		t.Fatal("missing Location header")
	}
	return location
}

// pushLayer runs the full monolithic upload flow for the given content and
// returns the blob location.
func pushLayer(t *testing.T, env *testEnv, name string, p []byte, dgst digest.Digest) string {
	t.Helper()

	location := startPushLayer(t, env, name)
	u := appendQuery(t, location, "digest", dgst.String())

	resp := httpDo(t, http.MethodPut, u, bytes.NewReader(p), nil)
	defer resp.Body.Close()

	checkResponse(t, "putting monolithic layer", resp, http.StatusCreated)
	checkHeaders(t, resp, http.Header{
		"Docker-Content-Digest": []string{dgst.String()},
	})
	if resp.Header.Get("Location") == "" {
		t.Fatal("missing Location header")
	}
	return resp.Header.Get("Location")
}

func appendQuery(t *testing.T, u, key, value string) string {
	t.Helper()
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + key + "=" + value
}

func TestBlobAPI(t *testing.T) {
	env := newTestEnv(t)
	const repo = "acme/app"

	p := make([]byte, 300)
	if _, err := rand.Read(p); err != nil {
		t.Fatalf("generating layer: %v", err)
	}
	dgst := digest.FromBytes(p)

	// -----------------------------------
	// Test fetch for non-existent content
	blobURL, err := env.builder.BuildBlobURL(repo, dgst)
	if err != nil {
		t.Fatalf("building blob url: %v", err)
	}

	resp, err := http.Get(blobURL)
	if err != nil {
		t.Fatalf("fetching non-existent layer: %v", err)
	}
	resp.Body.Close()
	checkResponse(t, "fetching non-existent content", resp, http.StatusNotFound)

	// ------------------------------------------
	// Upload a layer in three chunks
	location := startPushLayer(t, env, repo)

	for _, bounds := range [][2]int{{0, 100}, {100, 200}, {200, 300}} {
		headers := http.Header{
			"Content-Type":  []string{"application/octet-stream"},
			"Content-Range": []string{fmt.Sprintf("%d-%d", bounds[0], bounds[1]-1)},
		}
		resp := httpDo(t, http.MethodPatch, location, bytes.NewReader(p[bounds[0]:bounds[1]]), headers)
		resp.Body.Close()

		checkResponse(t, "pushing chunk", resp, http.StatusAccepted)
		checkHeaders(t, resp, http.Header{
			"Range": []string{fmt.Sprintf("0-%d", bounds[1]-1)},
		})
	}

	// An out of order chunk is rejected with 416 and leaves the session
	// untouched.
	resp = httpDo(t, http.MethodPatch, location, bytes.NewReader(p), http.Header{
		"Content-Range": []string{"100-399"},
	})
	resp.Body.Close()
	checkResponse(t, "pushing out of order chunk", resp, http.StatusRequestedRangeNotSatisfiable)

	// Upload status reflects the three committed chunks.
	resp = httpDo(t, http.MethodGet, location, nil, nil)
	resp.Body.Close()
	checkResponse(t, "fetching upload status", resp, http.StatusNoContent)
	checkHeaders(t, resp, http.Header{
		"Range": []string{"0-299"},
	})

	// Complete the upload.
	resp = httpDo(t, http.MethodPut, appendQuery(t, location, "digest", dgst.String()), nil, nil)
	resp.Body.Close()
	checkResponse(t, "completing upload", resp, http.StatusCreated)
	checkHeaders(t, resp, http.Header{
		"Docker-Content-Digest": []string{dgst.String()},
	})

	// ------------------------
	// Fetch the layer back
	resp, err = http.Get(blobURL)
	if err != nil {
		t.Fatalf("fetching layer: %v", err)
	}
	defer resp.Body.Close()

	checkResponse(t, "fetching layer", resp, http.StatusOK)
	checkHeaders(t, resp, http.Header{
		"Docker-Content-Digest": []string{dgst.String()},
		"Content-Length":        []string{"300"},
		"Etag":                  []string{fmt.Sprintf(`"%s"`, dgst)},
	})

	fetched, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading layer body: %v", err)
	}
	if !bytes.Equal(fetched, p) {
		t.Fatal("fetched layer does not match pushed content")
	}

	// A HEAD request carries the same metadata without a body.
	resp = httpDo(t, http.MethodHead, blobURL, nil, nil)
	resp.Body.Close()
	checkResponse(t, "checking layer head", resp, http.StatusOK)
	checkHeaders(t, resp, http.Header{
		"Docker-Content-Digest": []string{dgst.String()},
		"Content-Length":        []string{"300"},
	})

	// A matching Etag short-circuits to 304.
	resp = httpDo(t, http.MethodGet, blobURL, nil, http.Header{
		"If-None-Match": []string{fmt.Sprintf(`"%s"`, dgst)},
	})
	resp.Body.Close()
	checkResponse(t, "fetching layer with etag", resp, http.StatusNotModified)

	// -----------------
	// Delete the layer
	resp = httpDo(t, http.MethodDelete, blobURL, nil, nil)
	resp.Body.Close()
	checkResponse(t, "deleting layer", resp, http.StatusAccepted)

	resp, err = http.Get(blobURL)
	if err != nil {
		t.Fatalf("fetching deleted layer: %v", err)
	}
	resp.Body.Close()
	checkResponse(t, "fetching deleted layer", resp, http.StatusNotFound)
}

func TestBlobUploadCancel(t *testing.T) {
	env := newTestEnv(t)

	location := startPushLayer(t, env, "acme/app")

	resp := httpDo(t, http.MethodDelete, location, nil, nil)
	resp.Body.Close()
	checkResponse(t, "canceling upload", resp, http.StatusNoContent)

	resp = httpDo(t, http.MethodGet, location, nil, nil)
	defer resp.Body.Close()
	checkResponse(t, "fetching canceled upload status", resp, http.StatusNotFound)
	checkBodyHasErrorCodes(t, "fetching canceled upload status", resp, errcode.ErrorCodeBlobUploadUnknown)
}

func TestBlobUploadDigestMismatch(t *testing.T) {
	env := newTestEnv(t)

	p := []byte("some layer content")
	bogus := digest.FromString("something else entirely")

	location := startPushLayer(t, env, "acme/app")

	resp := httpDo(t, http.MethodPut, appendQuery(t, location, "digest", bogus.String()), bytes.NewReader(p), nil)
	defer resp.Body.Close()
	checkResponse(t, "completing upload with bad digest", resp, http.StatusBadRequest)
	checkBodyHasErrorCodes(t, "completing upload with bad digest", resp, errcode.ErrorCodeDigestInvalid)
}

// buildImageManifest pushes config and layer blobs for the repository and
// returns a manifest referencing them.
func buildImageManifest(t *testing.T, env *testEnv, name string) *schema2.DeserializedManifest {
	t.Helper()

	config := make([]byte, 64)
	layer := make([]byte, 256)
	rand.Read(config)
	rand.Read(layer)

	configDigest := digest.FromBytes(config)
	layerDigest := digest.FromBytes(layer)
	pushLayer(t, env, name, config, configDigest)
	pushLayer(t, env, name, layer, layerDigest)

	m, err := schema2.FromStruct(schema2.Manifest{
		Versioned: manifest.Versioned{SchemaVersion: 2, MediaType: schema2.MediaTypeManifest},
		Config: v1.Descriptor{
			MediaType: schema2.MediaTypeImageConfig,
			Digest:    configDigest,
			Size:      int64(len(config)),
		},
		Layers: []v1.Descriptor{{
			MediaType: schema2.MediaTypeLayer,
			Digest:    layerDigest,
			Size:      int64(len(layer)),
		}},
	})
	if err != nil {
		t.Fatalf("building manifest: %v", err)
	}
	return m
}

// pushManifest puts the manifest payload under the given reference and
// returns its digest.
func pushManifest(t *testing.T, env *testEnv, name, reference, mediaType string, payload []byte) digest.Digest {
	t.Helper()

	u, err := env.builder.BuildManifestURL(name, reference)
	if err != nil {
		t.Fatalf("building manifest url: %v", err)
	}

	resp := httpDo(t, http.MethodPut, u, bytes.NewReader(payload), http.Header{
		"Content-Type": []string{mediaType},
	})
	defer resp.Body.Close()

	checkResponse(t, "putting manifest", resp, http.StatusCreated)
	dgst := digest.FromBytes(payload)
	checkHeaders(t, resp, http.Header{
		"Docker-Content-Digest": []string{dgst.String()},
	})
	return dgst
}

func TestManifestAPI(t *testing.T) {
	env := newTestEnv(t)
	const repo = "acme/app"

	m := buildImageManifest(t, env, repo)
	mediaType, payload, _ := m.Payload()

	// ---------------------------------------
	// A tag for a manifest never pushed is a 404.
	tagURL, err := env.builder.BuildManifestURL(repo, "latest")
	if err != nil {
		t.Fatalf("building manifest url: %v", err)
	}
	resp, err := http.Get(tagURL)
	if err != nil {
		t.Fatalf("fetching unknown tag: %v", err)
	}
	resp.Body.Close()
	checkResponse(t, "fetching unknown tag", resp, http.StatusNotFound)

	// Push under a tag.
	dgst := pushManifest(t, env, repo, "latest", mediaType, payload)

	// --------------------
	// Fetch by tag; the payload must come back byte for byte.
	resp = httpDo(t, http.MethodGet, tagURL, nil, http.Header{
		"Accept": []string{mediaType},
	})
	defer resp.Body.Close()
	checkResponse(t, "fetching manifest by tag", resp, http.StatusOK)
	checkHeaders(t, resp, http.Header{
		"Content-Type":          []string{mediaType},
		"Docker-Content-Digest": []string{dgst.String()},
		"Etag":                  []string{fmt.Sprintf(`"%s"`, dgst)},
	})

	fetched, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(fetched, payload) {
		t.Fatal("fetched manifest does not match pushed payload")
	}

	// Fetch by digest.
	digestURL, _ := env.builder.BuildManifestURL(repo, dgst.String())
	resp2 := httpDo(t, http.MethodGet, digestURL, nil, http.Header{
		"Accept": []string{mediaType},
	})
	resp2.Body.Close()
	checkResponse(t, "fetching manifest by digest", resp2, http.StatusOK)

	// Matching Etag short-circuits.
	resp2 = httpDo(t, http.MethodGet, digestURL, nil, http.Header{
		"Accept":        []string{mediaType},
		"If-None-Match": []string{fmt.Sprintf(`"%s"`, dgst)},
	})
	resp2.Body.Close()
	checkResponse(t, "fetching manifest with etag", resp2, http.StatusNotModified)

	// ------------------------------------------
	// A digest reference must match the payload.
	otherURL, _ := env.builder.BuildManifestURL(repo, digest.FromString("other").String())
	resp2 = httpDo(t, http.MethodPut, otherURL, bytes.NewReader(payload), http.Header{
		"Content-Type": []string{mediaType},
	})
	resp2.Body.Close()
	checkResponse(t, "putting manifest under wrong digest", resp2, http.StatusBadRequest)

	// -----------------------------
	// Delete by tag only untags; the manifest stays fetchable by digest.
	resp2 = httpDo(t, http.MethodDelete, tagURL, nil, nil)
	resp2.Body.Close()
	checkResponse(t, "untagging manifest", resp2, http.StatusAccepted)

	resp2, err = http.Get(tagURL)
	if err != nil {
		t.Fatalf("fetching deleted tag: %v", err)
	}
	resp2.Body.Close()
	checkResponse(t, "fetching deleted tag", resp2, http.StatusNotFound)

	resp2 = httpDo(t, http.MethodGet, digestURL, nil, http.Header{
		"Accept": []string{mediaType},
	})
	resp2.Body.Close()
	checkResponse(t, "fetching manifest after untag", resp2, http.StatusOK)

	// Delete by digest removes the revision.
	resp2 = httpDo(t, http.MethodDelete, digestURL, nil, nil)
	resp2.Body.Close()
	checkResponse(t, "deleting manifest", resp2, http.StatusAccepted)

	resp2 = httpDo(t, http.MethodGet, digestURL, nil, http.Header{
		"Accept": []string{mediaType},
	})
	defer resp2.Body.Close()
	checkResponse(t, "fetching deleted manifest", resp2, http.StatusNotFound)
	checkBodyHasErrorCodes(t, "fetching deleted manifest", resp2, errcode.ErrorCodeManifestUnknown)
}

func TestManifestAPIMissingBlobs(t *testing.T) {
	env := newTestEnv(t)
	const repo = "acme/app"

	m, err := schema2.FromStruct(schema2.Manifest{
		Versioned: manifest.Versioned{SchemaVersion: 2, MediaType: schema2.MediaTypeManifest},
		Config: v1.Descriptor{
			MediaType: schema2.MediaTypeImageConfig,
			Digest:    digest.FromString("never pushed"),
			Size:      10,
		},
	})
	if err != nil {
		t.Fatalf("building manifest: %v", err)
	}
	mediaType, payload, _ := m.Payload()

	u, _ := env.builder.BuildManifestURL(repo, "latest")
	resp := httpDo(t, http.MethodPut, u, bytes.NewReader(payload), http.Header{
		"Content-Type": []string{mediaType},
	})
	defer resp.Body.Close()

	checkResponse(t, "putting manifest with missing blobs", resp, http.StatusNotFound)
	checkBodyHasErrorCodes(t, "putting manifest with missing blobs", resp, errcode.ErrorCodeManifestBlobUnknown)
}

func TestManifestListAPI(t *testing.T) {
	env := newTestEnv(t)
	const repo = "acme/app"

	amd64Manifest := buildImageManifest(t, env, repo)
	arm64Manifest := buildImageManifest(t, env, repo)

	_, amd64Payload, _ := amd64Manifest.Payload()
	_, arm64Payload, _ := arm64Manifest.Payload()
	amd64Digest := pushManifest(t, env, repo, digest.FromBytes(amd64Payload).String(), schema2.MediaTypeManifest, amd64Payload)
	arm64Digest := pushManifest(t, env, repo, digest.FromBytes(arm64Payload).String(), schema2.MediaTypeManifest, arm64Payload)

	list, err := manifestlist.FromDescriptors([]manifestlist.ManifestDescriptor{
		{
			Descriptor: v1.Descriptor{MediaType: schema2.MediaTypeManifest, Digest: amd64Digest, Size: int64(len(amd64Payload))},
			Platform:   manifestlist.PlatformSpec{OS: "linux", Architecture: "amd64"},
		},
		{
			Descriptor: v1.Descriptor{MediaType: schema2.MediaTypeManifest, Digest: arm64Digest, Size: int64(len(arm64Payload))},
			Platform:   manifestlist.PlatformSpec{OS: "linux", Architecture: "arm64"},
		},
	})
	if err != nil {
		t.Fatalf("building list: %v", err)
	}
	_, listPayload, _ := list.Payload()
	listDigest := pushManifest(t, env, repo, "multi", manifestlist.MediaTypeManifestList, listPayload)

	tagURL, _ := env.builder.BuildManifestURL(repo, "multi")

	// A list-aware client gets the list back verbatim.
	resp := httpDo(t, http.MethodGet, tagURL, nil, http.Header{
		"Accept": []string{manifestlist.MediaTypeManifestList + ", " + schema2.MediaTypeManifest},
	})
	defer resp.Body.Close()
	checkResponse(t, "fetching manifest list", resp, http.StatusOK)
	checkHeaders(t, resp, http.Header{
		"Content-Type":          []string{manifestlist.MediaTypeManifestList},
		"Docker-Content-Digest": []string{listDigest.String()},
	})
	fetched, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(fetched, listPayload) {
		t.Fatal("fetched list does not match pushed payload")
	}

	// A client that cannot handle lists is served the linux/amd64 entry,
	// with the digest header naming the returned document.
	resp2 := httpDo(t, http.MethodGet, tagURL, nil, http.Header{
		"Accept": []string{schema2.MediaTypeManifest},
	})
	defer resp2.Body.Close()
	checkResponse(t, "fetching negotiated manifest", resp2, http.StatusOK)
	checkHeaders(t, resp2, http.Header{
		"Content-Type":          []string{schema2.MediaTypeManifest},
		"Docker-Content-Digest": []string{amd64Digest.String()},
	})
	fetched, _ = io.ReadAll(resp2.Body)
	if !bytes.Equal(fetched, amd64Payload) {
		t.Fatal("negotiation did not return the amd64 manifest payload")
	}

	// An explicit platform query selects that entry from the list.
	resp3 := httpDo(t, http.MethodGet, tagURL+"?platform=linux/arm64", nil, http.Header{
		"Accept": []string{schema2.MediaTypeManifest},
	})
	defer resp3.Body.Close()
	checkResponse(t, "fetching platform manifest", resp3, http.StatusOK)
	checkHeaders(t, resp3, http.Header{
		"Docker-Content-Digest": []string{arm64Digest.String()},
	})
	fetched, _ = io.ReadAll(resp3.Body)
	if !bytes.Equal(fetched, arm64Payload) {
		t.Fatal("platform query did not return the arm64 manifest payload")
	}

	// A platform the list has no entry for is not served.
	resp4 := httpDo(t, http.MethodGet, tagURL+"?platform=windows/amd64", nil, http.Header{
		"Accept": []string{schema2.MediaTypeManifest},
	})
	defer resp4.Body.Close()
	checkResponse(t, "fetching unknown platform", resp4, http.StatusNotFound)
	checkBodyHasErrorCodes(t, "fetching unknown platform", resp4, errcode.ErrorCodeManifestUnknown)

	// A malformed platform value is rejected outright.
	resp5 := httpDo(t, http.MethodGet, tagURL+"?platform=linux", nil, http.Header{
		"Accept": []string{schema2.MediaTypeManifest},
	})
	defer resp5.Body.Close()
	checkResponse(t, "fetching malformed platform", resp5, http.StatusBadRequest)
	checkBodyHasErrorCodes(t, "fetching malformed platform", resp5, errcode.ErrorCodeManifestInvalid)
}

func TestTagsAPI(t *testing.T) {
	env := newTestEnv(t)
	const repo = "acme/app"

	m := buildImageManifest(t, env, repo)
	mediaType, payload, _ := m.Payload()
	for _, tag := range []string{"v1", "v2", "v3"} {
		pushManifest(t, env, repo, tag, mediaType, payload)
	}

	tagsURL, err := env.builder.BuildTagsURL(repo)
	if err != nil {
		t.Fatalf("building tags url: %v", err)
	}

	resp, err := http.Get(tagsURL)
	if err != nil {
		t.Fatalf("fetching tags: %v", err)
	}
	defer resp.Body.Close()
	checkResponse(t, "fetching tags", resp, http.StatusOK)

	var body tagsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding tags response: %v", err)
	}
	if body.Name != repo {
		t.Fatalf("unexpected name: %s", body.Name)
	}
	if len(body.Tags) != 3 || body.Tags[0] != "v1" || body.Tags[2] != "v3" {
		t.Fatalf("unexpected tags: %v", body.Tags)
	}

	// Paginated fetch carries a Link header pointing at the next page.
	resp2, err := http.Get(tagsURL + "?n=2")
	if err != nil {
		t.Fatalf("fetching tags page: %v", err)
	}
	defer resp2.Body.Close()
	checkResponse(t, "fetching tags page", resp2, http.StatusOK)

	link := resp2.Header.Get("Link")
	if link == "" {
		t.Fatal("missing Link header on full page")
	}
	if !strings.HasPrefix(link, "<") || !strings.HasSuffix(link, `>; rel="next"`) {
		t.Fatalf("malformed Link header: %s", link)
	}
	if !strings.Contains(link, "last=v2") {
		t.Fatalf("Link header does not continue after v2: %s", link)
	}
}

func TestCatalogAPI(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"db", "web"} {
		env.metadata.AddRepository("acme", name, true)
	}

	catalogURL, err := env.builder.BuildCatalogURL()
	if err != nil {
		t.Fatalf("building catalog url: %v", err)
	}

	resp, err := http.Get(catalogURL)
	if err != nil {
		t.Fatalf("fetching catalog: %v", err)
	}
	defer resp.Body.Close()
	checkResponse(t, "fetching catalog", resp, http.StatusOK)

	var body catalogAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding catalog response: %v", err)
	}
	if len(body.Repositories) != 3 {
		t.Fatalf("unexpected repositories: %v", body.Repositories)
	}
	if body.Repositories[0] != "acme/app" || body.Repositories[2] != "acme/web" {
		t.Fatalf("repositories out of order: %v", body.Repositories)
	}

	// Paginated fetch: a full page with more entries carries a Link.
	resp2, err := http.Get(catalogURL + "?n=2")
	if err != nil {
		t.Fatalf("fetching catalog page: %v", err)
	}
	defer resp2.Body.Close()
	checkResponse(t, "fetching catalog page", resp2, http.StatusOK)

	var page catalogAPIResponse
	if err := json.NewDecoder(resp2.Body).Decode(&page); err != nil {
		t.Fatalf("decoding catalog page: %v", err)
	}
	if len(page.Repositories) != 2 {
		t.Fatalf("unexpected page: %v", page.Repositories)
	}
	if resp2.Header.Get("Link") == "" {
		t.Fatal("missing Link header on full catalog page")
	}

	// An invalid n is rejected.
	resp3, err := http.Get(catalogURL + "?n=-1")
	if err != nil {
		t.Fatalf("fetching catalog with bad n: %v", err)
	}
	defer resp3.Body.Close()
	checkResponse(t, "fetching catalog with bad n", resp3, http.StatusBadRequest)
	checkBodyHasErrorCodes(t, "fetching catalog with bad n", resp3, errcode.ErrorCodePaginationNumberInvalid)
}

func TestAccessControl(t *testing.T) {
	env := newTestEnv(t)

	controller, err := auth.GetAccessController("silly", map[string]interface{}{
		"realm":   "test-realm",
		"service": "test-service",
	})
	if err != nil {
		t.Fatalf("configuring access controller: %v", err)
	}
	env.app.accessController = controller

	blobURL, _ := env.builder.BuildBlobURL("acme/app", digest.FromString("x"))

	// Without credentials the registry challenges.
	resp, err := http.Get(blobURL)
	if err != nil {
		t.Fatalf("fetching blob: %v", err)
	}
	resp.Body.Close()
	checkResponse(t, "fetching blob unauthenticated", resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate challenge")
	}

	// With credentials the request proceeds to the handler.
	resp = httpDo(t, http.MethodGet, blobURL, nil, http.Header{
		"Authorization": []string{"Bearer token"},
	})
	resp.Body.Close()
	checkResponse(t, "fetching blob authenticated", resp, http.StatusNotFound)
}

// deniedAccessController authenticates every caller but rejects every
// requested scope.
type deniedAccessController struct{}

func (deniedAccessController) Authorized(ctx context.Context, access ...auth.Access) (context.Context, error) {
	return nil, aerugo.ErrAccessDenied
}

func TestAccessControlDenied(t *testing.T) {
	env := newTestEnv(t)
	env.app.accessController = deniedAccessController{}

	blobURL, _ := env.builder.BuildBlobURL("acme/app", digest.FromString("x"))

	resp := httpDo(t, http.MethodGet, blobURL, nil, http.Header{
		"Authorization": []string{"Basic Zm9vOmJhcg=="},
	})
	defer resp.Body.Close()
	checkResponse(t, "fetching blob as denied user", resp, http.StatusForbidden)
	checkBodyHasErrorCodes(t, "fetching blob as denied user", resp, errcode.ErrorCodeDenied)
}
