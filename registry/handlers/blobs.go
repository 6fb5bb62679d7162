package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/api/errcode"
)

// blobDispatcher uses the request context to build a blobHandler.
func blobDispatcher(ctx *Context, r *http.Request) http.Handler {
	dgst, err := getDigest(ctx)
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err))
		})
	}

	blobHandler := &blobHandler{
		Context: ctx,
		Digest:  dgst,
	}

	return handlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(blobHandler.GetBlob),
		http.MethodHead:   http.HandlerFunc(blobHandler.GetBlob),
		http.MethodDelete: http.HandlerFunc(blobHandler.DeleteBlob),
	}
}

// blobHandler serves http blob requests.
type blobHandler struct {
	*Context

	Digest digest.Digest
}

// GetBlob fetches the binary data from backing storage returns it in the
// response, either directly or by redirecting the client to the backing
// store.
func (bh *blobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(bh).Debug("GetBlob")
	blobs := bh.Repository.Blobs()

	desc, err := blobs.Stat(bh, bh.Digest)
	if err != nil {
		if err == aerugo.ErrBlobUnknown {
			bh.Errors = append(bh.Errors, errcode.ErrorCodeBlobUnknown.WithDetail(bh.Digest))
		} else {
			bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	bh.serveBlob(w, r, desc)
}

func (bh *blobHandler) serveBlob(w http.ResponseWriter, r *http.Request, desc v1.Descriptor) {
	w.Header().Set("Docker-Content-Digest", desc.Digest.String())
	w.Header().Set("Content-Type", desc.MediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(desc.Size, 10))
	w.Header().Set("Etag", `"`+desc.Digest.String()+`"`)

	if etagMatch(r, desc.Digest.String()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	blobs := bh.Repository.Blobs()

	redirectURL, err := blobs.RedirectURL(bh, desc.Digest)
	if err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
	if redirectURL != "" {
		// The client fetches the bytes from backing storage directly;
		// content headers stay on this response for proxies that log it.
		http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
		return
	}

	rc, err := blobs.Open(bh, desc.Digest)
	if err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
	defer rc.Close()

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		dcontext.GetLogger(bh).Errorf("error streaming blob %s: %v", desc.Digest, err)
	}
}

// DeleteBlob removes the blob record from the repository.
func (bh *blobHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(bh).Debug("DeleteBlob")

	blobs := bh.Repository.Blobs()
	if err := blobs.Delete(bh, bh.Digest); err != nil {
		switch err {
		case aerugo.ErrUnsupported:
			bh.Errors = append(bh.Errors, errcode.ErrorCodeUnsupported)
		case aerugo.ErrBlobUnknown:
			bh.Errors = append(bh.Errors, errcode.ErrorCodeBlobUnknown)
		default:
			bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}

func etagMatch(r *http.Request, etag string) bool {
	for _, headerVal := range r.Header["If-None-Match"] {
		if headerVal == etag || headerVal == `"`+etag+`"` {
			return true
		}
	}
	return false
}
