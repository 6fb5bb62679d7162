package aerugo

import (
	"context"
	"io"
	"time"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// BlobStatter makes blob descriptors available by digest. The service may
// be backed by a metadata store, a cache, or a combination of the two.
type BlobStatter interface {
	// Stat provides metadata about a blob identified by the digest. If the
	// blob is unknown to the describer, ErrBlobUnknown will be returned.
	Stat(ctx context.Context, dgst digest.Digest) (v1.Descriptor, error)
}

// BlobService describes read and delete operations on a repository's
// blobs. Writes happen exclusively through the UploadService.
type BlobService interface {
	BlobStatter

	// Open provides a reader for the blob's content. Callers must close the
	// returned reader.
	Open(ctx context.Context, dgst digest.Digest) (io.ReadCloser, error)

	// RedirectURL returns a pre-authorized URL from which the blob content
	// can be fetched directly from backing storage, or "" if direct serving
	// is disabled or unsupported, in which case callers fall back to Open.
	RedirectURL(ctx context.Context, dgst digest.Digest) (string, error)

	// Delete removes the blob record and, when no other reference remains,
	// its bytes. Only admin callers reach this path.
	Delete(ctx context.Context, dgst digest.Digest) error
}

// UploadSession describes the progress of one in-flight blob upload.
type UploadSession struct {
	// ID is the opaque identifier handed to the client in the upload
	// Location URL.
	ID string

	// Offset is the number of bytes received so far. The next chunk must
	// start exactly here.
	Offset int64

	// StartedAt is the session creation time, used for TTL reclaim.
	StartedAt time.Time
}

// UploadService manages resumable, chunked blob uploads for a repository.
// Session state lives in the metadata store, so sessions survive process
// restarts and any node can continue an upload.
type UploadService interface {
	// Start opens a new upload session with offset zero.
	Start(ctx context.Context) (UploadSession, error)

	// Status returns the session's current progress.
	Status(ctx context.Context, id string) (UploadSession, error)

	// Append streams one chunk into the session. start must equal the
	// session's current offset or ErrBlobInvalidRange is returned and the
	// session is left unchanged. The new offset is returned.
	Append(ctx context.Context, id string, start int64, r io.Reader) (int64, error)

	// Commit verifies everything received against dgst and, on success,
	// promotes the bytes to their content-addressed location and records
	// the blob. The session is consumed. A digest mismatch returns
	// ErrBlobInvalidDigest and never records a blob.
	Commit(ctx context.Context, id string, dgst digest.Digest) (v1.Descriptor, error)

	// Cancel releases the session and any bytes received. It is idempotent:
	// cancelling an unknown session is not an error.
	Cancel(ctx context.Context, id string) error
}
