package storage

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Object store key layout. Everything the engine keeps in the object store
// lives under one of two prefixes:
//
//	blobs/<algorithm>/<first two hex chars>/<hex>/data
//	uploads/<session id>/<chunk start offset>
//
// Blob keys are derived purely from the digest, so identical content pushed
// to different repositories lands on the same object and is stored once.
// Upload chunk keys are ephemeral and removed on commit or cancel.

// blobDataPath returns the content-addressed key for a blob's bytes.
func blobDataPath(dgst digest.Digest) string {
	hex := dgst.Hex()
	return fmt.Sprintf("blobs/%s/%s/%s/data", dgst.Algorithm(), hex[:2], hex)
}

// uploadChunkPath returns the key for the chunk beginning at the given
// session offset.
func uploadChunkPath(id string, start int64) string {
	return fmt.Sprintf("uploads/%s/%d", id, start)
}
