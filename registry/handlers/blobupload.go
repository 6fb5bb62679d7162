package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/opencontainers/go-digest"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/api/errcode"
)

// blobUploadDispatcher constructs and returns the blob upload handler for
// the given request context.
func blobUploadDispatcher(ctx *Context, r *http.Request) http.Handler {
	buh := &blobUploadHandler{
		Context: ctx,
		UUID:    getUploadUUID(ctx),
	}

	return handlers.MethodHandler{
		http.MethodPost:   http.HandlerFunc(buh.StartBlobUpload),
		http.MethodGet:    http.HandlerFunc(buh.GetUploadStatus),
		http.MethodHead:   http.HandlerFunc(buh.GetUploadStatus),
		http.MethodPatch:  http.HandlerFunc(buh.PatchBlobData),
		http.MethodPut:    http.HandlerFunc(buh.PutBlobUploadComplete),
		http.MethodDelete: http.HandlerFunc(buh.CancelBlobUpload),
	}
}

// blobUploadHandler handles the http blob upload process.
type blobUploadHandler struct {
	*Context

	// UUID identifies the upload instance for the current request. Using
	// UUID to key blob writes.
	UUID string
}

// StartBlobUpload begins the blob upload process and allocates a server-
// side upload session. A monolithic upload, with the digest supplied on the
// query string and the content in the body, completes in this one request.
func (buh *blobUploadHandler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	uploads := buh.Repository.Uploads()
	session, err := uploads.Start(buh)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
	buh.UUID = session.ID

	dgstStr := r.URL.Query().Get("digest")
	if dgstStr == "" {
		if err := buh.blobUploadResponse(w, r, session.Offset); err != nil {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
			return
		}

		w.Header().Set("Docker-Upload-UUID", session.ID)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err))
		return
	}

	if _, err := uploads.Append(buh, session.ID, 0, r.Body); err != nil {
		buh.uploadError(err)
		return
	}

	desc, err := uploads.Commit(buh, session.ID, dgst)
	if err != nil {
		buh.uploadError(err)
		return
	}

	buh.writeBlobCreatedResponse(w, desc.Digest)
}

// GetUploadStatus returns the status of a given upload, used by the docker
// client to resume an interrupted push.
func (buh *blobUploadHandler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	if buh.UUID == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		return
	}

	session, err := buh.Repository.Uploads().Status(buh, buh.UUID)
	if err != nil {
		buh.uploadError(err)
		return
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.Header().Set("Range", rangeHeader(session.Offset))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
}

// PatchBlobData writes data to an upload. The request body carries one
// chunk; an optional Content-Range header pins it to an exact offset.
func (buh *blobUploadHandler) PatchBlobData(w http.ResponseWriter, r *http.Request) {
	if buh.UUID == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail(fmt.Errorf("bad Content-Type %q", ct)))
		return
	}

	start := int64(-1)
	if cr := r.Header.Get("Content-Range"); cr != "" {
		var err error
		start, _, err = parseContentRange(cr)
		if err != nil {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid.WithDetail(err.Error()))
			return
		}
	}

	offset, err := buh.Repository.Uploads().Append(buh, buh.UUID, start, r.Body)
	if err != nil {
		buh.uploadError(err)
		return
	}

	if err := buh.blobUploadResponse(w, r, offset); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.WriteHeader(http.StatusAccepted)
}

// PutBlobUploadComplete takes the final request of a blob upload. The
// request may include all the blob data or no blob data. Any data provided
// is received and verified. If successful, the blob is linked into the
// repository and the upload session released.
func (buh *blobUploadHandler) PutBlobUploadComplete(w http.ResponseWriter, r *http.Request) {
	if buh.UUID == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		return
	}

	dgstStr := r.URL.Query().Get("digest")
	if dgstStr == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("digest missing"))
		return
	}

	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("digest parsing failed"))
		return
	}

	uploads := buh.Repository.Uploads()

	// The final request may carry a last chunk.
	if r.ContentLength != 0 {
		if _, err := uploads.Append(buh, buh.UUID, -1, r.Body); err != nil {
			buh.uploadError(err)
			return
		}
	}

	desc, err := uploads.Commit(buh, buh.UUID, dgst)
	if err != nil {
		buh.uploadError(err)
		return
	}

	buh.writeBlobCreatedResponse(w, desc.Digest)
}

// CancelBlobUpload cancels an in-progress upload of a blob.
func (buh *blobUploadHandler) CancelBlobUpload(w http.ResponseWriter, r *http.Request) {
	if buh.UUID == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		return
	}

	if err := buh.Repository.Uploads().Cancel(buh, buh.UUID); err != nil {
		buh.uploadError(err)
		return
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.WriteHeader(http.StatusNoContent)
}

// blobUploadResponse provides a standard request for uploading blobs and
// chunk responses. This sets the correct headers but the response status is
// left to the caller.
func (buh *blobUploadHandler) blobUploadResponse(w http.ResponseWriter, r *http.Request, offset int64) error {
	uploadURL, err := buh.urlBuilder.BuildBlobUploadChunkURL(buh.Repository.Named(), buh.UUID)
	if err != nil {
		return err
	}

	w.Header().Set("Location", uploadURL)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Range", rangeHeader(offset))

	return nil
}

// writeBlobCreatedResponse writes the final url and digest of a completed
// blob upload.
func (buh *blobUploadHandler) writeBlobCreatedResponse(w http.ResponseWriter, dgst digest.Digest) {
	blobURL, err := buh.urlBuilder.BuildBlobURL(buh.Repository.Named(), dgst)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}

	w.Header().Set("Location", blobURL)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.WriteHeader(http.StatusCreated)
}

// uploadError maps upload service failures onto protocol error codes.
func (buh *blobUploadHandler) uploadError(err error) {
	switch err := err.(type) {
	case aerugo.ErrBlobInvalidRange:
		dcontext.GetLogger(buh).Infof("rejecting out of order chunk: %v", err)
		buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid.WithDetail(err.Error()))
	case aerugo.ErrBlobInvalidDigest:
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err))
	default:
		switch err {
		case aerugo.ErrBlobUploadUnknown:
			buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
		case aerugo.ErrUnsupported:
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnsupported)
		default:
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
	}
}

// parseContentRange parses a Content-Range of the form "start-end" as used
// by chunked uploads. Both bounds are inclusive.
func parseContentRange(cr string) (start int64, end int64, err error) {
	startStr, endStr, ok := strings.Cut(cr, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range format, %s", cr)
	}
	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content range format, %s", cr)
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content range format, %s", cr)
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid content range format, %s", cr)
	}

	return start, end, nil
}

// rangeHeader renders the inclusive byte range of received content for the
// Range response header.
func rangeHeader(offset int64) string {
	if offset <= 0 {
		return "0-0"
	}
	return fmt.Sprintf("0-%d", offset-1)
}
