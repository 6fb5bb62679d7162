package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/datastore"
	"github.com/aerugo/aerugo/registry/objectstore"
)

// blobMediaType is recorded for blobs whose media type is not known at
// upload time. The real type surfaces later through manifest references.
const blobMediaType = "application/octet-stream"

// uploadService implements resumable chunked uploads. All session state
// lives in the metadata store and chunk bytes in the object store, so any
// node can continue a session started elsewhere.
type uploadService struct {
	registry     *Registry
	repositoryID int64
}

var _ aerugo.UploadService = &uploadService{}

func (us *uploadService) Start(ctx context.Context) (aerugo.UploadSession, error) {
	u := &datastore.Upload{
		ID:           uuid.NewString(),
		RepositoryID: us.repositoryID,
	}

	if err := us.registry.uploads.Create(ctx, u); err != nil {
		return aerugo.UploadSession{}, err
	}

	dcontext.GetLogger(ctx).Debugf("upload session %s started", u.ID)

	return session(u), nil
}

func (us *uploadService) Status(ctx context.Context, id string) (aerugo.UploadSession, error) {
	u, err := us.find(ctx, id)
	if err != nil {
		return aerugo.UploadSession{}, err
	}

	return session(u), nil
}

// Append writes the chunk under a key derived from its start offset and
// then advances the session offset with a compare-and-swap on the expected
// value. When two appends race for the same range, both may write their
// chunk object but only one swap succeeds; the loser reports
// ErrBlobInvalidRange and the session is unchanged. The loser's bytes are
// left in place because the chunk key is shared and may already hold the
// winner's data. Commit verifies the assembled content against the client
// digest, so a stray overwrite can never produce a wrongly recorded blob.
func (us *uploadService) Append(ctx context.Context, id string, start int64, r io.Reader) (int64, error) {
	u, err := us.find(ctx, id)
	if err != nil {
		return 0, err
	}

	if start < 0 {
		// Streamed append without a declared range continues at the
		// current offset.
		start = u.Uploaded
	}
	if start != u.Uploaded {
		return 0, aerugo.ErrBlobInvalidRange{Offset: u.Uploaded, Start: start}
	}

	n, err := us.registry.driver.Put(ctx, uploadChunkPath(id, start), r)
	if err != nil {
		return 0, err
	}

	if _, err := us.registry.uploads.Advance(ctx, id, start, start+n); err != nil {
		if errors.Is(err, datastore.ErrOffsetMismatch) {
			current, ferr := us.find(ctx, id)
			if ferr != nil {
				return 0, ferr
			}
			return 0, aerugo.ErrBlobInvalidRange{Offset: current.Uploaded, Start: start}
		}
		return 0, err
	}

	return start + n, nil
}

// Commit streams the received chunks in offset order through a digest
// verifier and into the blob's content-addressed location. Only after the
// digest checks out is the blob recorded; a mismatch removes the assembled
// object and reports ErrBlobInvalidDigest. Re-pushing a blob that already
// exists succeeds without disturbing the stored bytes.
func (us *uploadService) Commit(ctx context.Context, id string, dgst digest.Digest) (v1.Descriptor, error) {
	u, err := us.find(ctx, id)
	if err != nil {
		return v1.Descriptor{}, err
	}

	if err := dgst.Validate(); err != nil {
		return v1.Descriptor{}, aerugo.ErrBlobInvalidDigest{Digest: dgst, Reason: err}
	}

	verifier := dgst.Verifier()
	pr, pw := io.Pipe()

	go func() {
		pw.CloseWithError(us.assemble(ctx, u, io.MultiWriter(pw, verifier)))
	}()

	size, err := us.registry.driver.Put(ctx, blobDataPath(dgst), pr)
	if err != nil {
		pr.CloseWithError(err)
		return v1.Descriptor{}, err
	}

	if !verifier.Verified() {
		if derr := us.registry.driver.Delete(ctx, blobDataPath(dgst)); derr != nil {
			dcontext.GetLogger(ctx).WithError(derr).Errorf("removing unverified object for %s", dgst)
		}
		return v1.Descriptor{}, aerugo.ErrBlobInvalidDigest{
			Digest: dgst,
			Reason: fmt.Errorf("content does not match digest"),
		}
	}

	blob := &datastore.Blob{
		RepositoryID: us.repositoryID,
		Digest:       dgst,
		MediaType:    blobMediaType,
		Size:         size,
	}
	if err := us.registry.blobs.Create(ctx, blob); err != nil {
		return v1.Descriptor{}, err
	}

	us.release(ctx, u)

	dcontext.GetLoggerWithField(ctx, "digest", dgst).Debugf("upload session %s committed, %d bytes", id, size)

	return v1.Descriptor{
		MediaType: blobMediaType,
		Digest:    dgst,
		Size:      size,
	}, nil
}

// Cancel releases the session row and chunk bytes. Unknown sessions are
// not an error so retried cancels stay quiet.
func (us *uploadService) Cancel(ctx context.Context, id string) error {
	u, err := us.registry.uploads.Find(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}

	us.release(ctx, u)
	return nil
}

func (us *uploadService) find(ctx context.Context, id string) (*datastore.Upload, error) {
	u, err := us.registry.uploads.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || u.RepositoryID != us.repositoryID {
		return nil, aerugo.ErrBlobUploadUnknown
	}
	return u, nil
}

// assemble copies the session's chunks into w in offset order. Chunk keys
// are their start offsets, so each copy's length gives the next key.
func (us *uploadService) assemble(ctx context.Context, u *datastore.Upload, w io.Writer) error {
	for off := int64(0); off < u.Uploaded; {
		rc, err := us.registry.driver.Get(ctx, uploadChunkPath(u.ID, off))
		if err != nil {
			if _, ok := err.(objectstore.KeyNotFoundError); ok {
				return fmt.Errorf("upload %s: missing chunk at offset %d", u.ID, off)
			}
			return err
		}

		n, err := io.Copy(w, rc)
		rc.Close()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("upload %s: empty chunk at offset %d", u.ID, off)
		}
		off += n
	}
	return nil
}

// release drops the session row and its chunk objects. Failures are logged
// and swallowed; leftover chunks are reclaimed by the stale-upload reaper.
func (us *uploadService) release(ctx context.Context, u *datastore.Upload) {
	if _, err := us.registry.uploads.Delete(ctx, u.ID); err != nil {
		dcontext.GetLogger(ctx).WithError(err).Errorf("deleting upload session %s", u.ID)
	}

	for off := int64(0); off < u.Uploaded; {
		key := uploadChunkPath(u.ID, off)
		stat, err := us.registry.driver.Head(ctx, key)
		if err != nil {
			break
		}
		if err := us.registry.driver.Delete(ctx, key); err != nil {
			dcontext.GetLogger(ctx).WithError(err).Errorf("deleting upload chunk %s", key)
		}
		if stat.Size == 0 {
			break
		}
		off += stat.Size
	}
}

func session(u *datastore.Upload) aerugo.UploadSession {
	return aerugo.UploadSession{
		ID:        u.ID,
		Offset:    u.Uploaded,
		StartedAt: u.CreatedAt,
	}
}
