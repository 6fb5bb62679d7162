package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/api/errcode"
)

// maxManifestBodySize protects the registry against manifests that are
// orders of magnitude larger than anything a client legitimately produces.
const maxManifestBodySize = 4 * 1024 * 1024

// manifestDispatcher takes the request context and builds the appropriate
// handler for handling manifest requests.
func manifestDispatcher(ctx *Context, r *http.Request) http.Handler {
	manifestHandler := &manifestHandler{Context: ctx}

	reference := getReference(ctx)
	dgst, err := digest.Parse(reference)
	if err != nil {
		// We just have a tag
		manifestHandler.Tag = reference
	} else {
		manifestHandler.Digest = dgst
	}

	return handlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodHead:   http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodPut:    http.HandlerFunc(manifestHandler.PutManifest),
		http.MethodDelete: http.HandlerFunc(manifestHandler.DeleteManifest),
	}
}

// manifestHandler handles http operations on manifests.
type manifestHandler struct {
	*Context

	// One of tag or digest gets set, depending on what is present in
	// the request URL.
	Tag    string
	Digest digest.Digest
}

// GetManifest fetches the image manifest from the storage backend, if it
// exists.
func (mh *manifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(mh).Debug("GetImageManifest")
	manifests := mh.Repository.Manifests()

	if mh.Tag != "" {
		dgst, err := mh.Repository.Tags().Get(mh, mh.Tag)
		if err != nil {
			mh.manifestError(err)
			return
		}
		mh.Digest = dgst
	}

	options := []aerugo.ManifestServiceOption{aerugo.WithAccept(acceptedMediaTypes(r))}
	if pq := r.URL.Query().Get("platform"); pq != "" {
		platform, err := parsePlatform(pq)
		if err != nil {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
			return
		}
		options = append(options, aerugo.WithPlatform(platform))
	}

	manifest, err := manifests.Get(mh, mh.Digest, options...)
	if err != nil {
		mh.manifestError(err)
		return
	}

	mediaType, payload, err := manifest.Payload()
	if err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}

	// The returned document may be a platform manifest selected out of a
	// list, in which case its digest differs from the request digest.
	respDigest := digest.FromBytes(payload)

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("Docker-Content-Digest", respDigest.String())
	w.Header().Set("Etag", fmt.Sprintf(`"%s"`, respDigest))

	if etagMatch(r, respDigest.String()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Method == http.MethodHead {
		return
	}

	if _, err := w.Write(payload); err != nil {
		dcontext.GetLogger(mh).Errorf("error writing manifest: %v", err)
	}
}

// PutManifest validates and stores a manifest in the registry.
func (mh *manifestHandler) PutManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(mh).Debug("PutImageManifest")
	manifests := mh.Repository.Manifests()

	var jsonBuf bytes.Buffer
	if err := copyFullPayload(mh.Context, w, r, &jsonBuf, maxManifestBodySize, "image manifest PUT"); err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		return
	}

	mediaType := r.Header.Get("Content-Type")
	manifest, desc, err := aerugo.UnmarshalManifest(mediaType, jsonBuf.Bytes())
	if err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err))
		return
	}

	if mh.Digest != "" {
		// Payload bytes are authoritative; a digest reference must match
		// them exactly.
		if desc.Digest != mh.Digest {
			dcontext.GetLogger(mh).Errorf("payload digest does not match: %q != %q", desc.Digest, mh.Digest)
			mh.Errors = append(mh.Errors, errcode.ErrorCodeDigestInvalid)
			return
		}
	}

	dgst, err := manifests.Put(mh, manifest)
	if err != nil {
		mh.manifestPutError(err)
		return
	}

	if mh.Tag != "" {
		if err := mh.Repository.Tags().Set(mh, mh.Tag, dgst); err != nil {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
			return
		}
	}

	// Construct a canonical url for the uploaded manifest.
	ref := mh.Tag
	if ref == "" {
		ref = dgst.String()
	}
	location, err := mh.urlBuilder.BuildManifestURL(mh.Repository.Named(), ref)
	if err != nil {
		// NOTE: Continue on error as the manifest was successfully written;
		// the Location header is advisory.
		dcontext.GetLogger(mh).Errorf("error building manifest url from digest: %v", err)
	}

	w.Header().Set("Location", location)
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.WriteHeader(http.StatusCreated)

	dcontext.GetLogger(mh).Debug("Succeeded in putting manifest!")
}

// DeleteManifest removes the manifest with the given digest, or the tag
// association when the request names a tag.
func (mh *manifestHandler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(mh).Debug("DeleteImageManifest")

	if mh.Tag != "" {
		if err := mh.Repository.Tags().Untag(mh, mh.Tag); err != nil {
			mh.manifestError(err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := mh.Repository.Manifests().Delete(mh, mh.Digest); err != nil {
		mh.manifestError(err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (mh *manifestHandler) manifestError(err error) {
	switch err := err.(type) {
	case aerugo.ErrTagUnknown, aerugo.ErrManifestUnknown, aerugo.ErrManifestUnknownRevision:
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnknown.WithDetail(err))
	case aerugo.ErrManifestUnsupportedMediaType:
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err))
	default:
		if err == aerugo.ErrUnsupported {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeUnsupported)
		} else {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
	}
}

func (mh *manifestHandler) manifestPutError(err error) {
	switch err := err.(type) {
	case aerugo.ErrManifestVerification:
		for _, verificationError := range err {
			switch verificationError := verificationError.(type) {
			case aerugo.ErrManifestBlobUnknown:
				mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestBlobUnknown.WithDetail(verificationError.Digest))
			case aerugo.ErrManifestReferenceUnknown:
				mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestBlobUnknown.WithDetail(verificationError.Digest))
			case aerugo.ErrBlobInvalidDigest:
				mh.Errors = append(mh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(verificationError))
			default:
				mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(verificationError))
			}
		}
	case aerugo.ErrManifestUnsupportedMediaType:
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err))
	default:
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
	}
}

// parsePlatform parses a platform query value of the form os/arch or
// os/arch/variant.
func parsePlatform(value string) (v1.Platform, error) {
	parts := strings.Split(value, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return v1.Platform{}, fmt.Errorf("invalid platform %q, expected os/arch or os/arch/variant", value)
	}

	platform := v1.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		platform.Variant = parts[2]
	}
	return platform, nil
}

// acceptedMediaTypes flattens the Accept header into the media types it
// lists, dropping quality parameters.
func acceptedMediaTypes(r *http.Request) []string {
	var types []string
	for _, hdr := range r.Header["Accept"] {
		for _, v := range strings.Split(hdr, ",") {
			t, _, _ := strings.Cut(v, ";")
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	return types
}
