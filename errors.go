package aerugo

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// ErrAccessDenied is returned when an operation is denied by the permission
// oracle for the acting requester.
var ErrAccessDenied = errors.New("access denied")

// ErrUnsupported is returned when an operation is not allowed or not
// implemented by the configured backend.
var ErrUnsupported = errors.New("operation unsupported")

// ErrBlobUnknown is returned when a blob is not found in a repository.
var ErrBlobUnknown = errors.New("unknown blob")

// ErrBlobUploadUnknown is returned when an upload session id does not
// resolve to a live session, either because it never existed or because it
// was completed, cancelled or reclaimed.
var ErrBlobUploadUnknown = errors.New("blob upload unknown")

// ErrRepositoryUnknown is returned if the named repository is not known by
// the registry.
type ErrRepositoryUnknown struct {
	Name string
}

func (err ErrRepositoryUnknown) Error() string {
	return fmt.Sprintf("unknown repository name=%s", err.Name)
}

// ErrRepositoryNameInvalid should be used to denote an invalid repository
// name. Reason may set, indicating the cause of invalidity.
type ErrRepositoryNameInvalid struct {
	Name   string
	Reason error
}

func (err ErrRepositoryNameInvalid) Error() string {
	return fmt.Sprintf("repository name %q invalid: %v", err.Name, err.Reason)
}

// ErrBlobInvalidDigest is returned when a digest check fails against the
// received content, or the digest itself cannot be parsed.
type ErrBlobInvalidDigest struct {
	Digest digest.Digest
	Reason error
}

func (err ErrBlobInvalidDigest) Error() string {
	return fmt.Sprintf("invalid digest for referenced layer: %v, %v", err.Digest, err.Reason)
}

// ErrBlobInvalidRange is returned by chunk appends whose declared start
// does not line up with the session's current offset, including the case of
// two appends racing for the same range.
type ErrBlobInvalidRange struct {
	Offset int64 // current session offset
	Start  int64 // start declared by the client
}

func (err ErrBlobInvalidRange) Error() string {
	return fmt.Sprintf("invalid content range: expected offset %d, got %d", err.Offset, err.Start)
}

// ErrManifestUnknown is returned when a manifest reference (tag) is not
// found in a repository.
type ErrManifestUnknown struct {
	Name string
	Tag  string
}

func (err ErrManifestUnknown) Error() string {
	return fmt.Sprintf("unknown manifest name=%s tag=%s", err.Name, err.Tag)
}

// ErrManifestUnknownRevision is returned when a manifest digest is not
// found in a repository.
type ErrManifestUnknownRevision struct {
	Name     string
	Revision digest.Digest
}

func (err ErrManifestUnknownRevision) Error() string {
	return fmt.Sprintf("unknown manifest name=%s revision=%s", err.Name, err.Revision)
}

// ErrManifestVerification provides a type to collect errors encountered
// during manifest verification.
type ErrManifestVerification []error

func (errs ErrManifestVerification) Error() string {
	var parts []string
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("errors verifying manifest: %v", parts)
}

// ErrManifestBlobUnknown is returned when a manifest references a blob that
// the repository does not hold.
type ErrManifestBlobUnknown struct {
	Digest digest.Digest
}

func (err ErrManifestBlobUnknown) Error() string {
	return fmt.Sprintf("unknown blob %v referenced in manifest", err.Digest)
}

// ErrManifestReferenceUnknown is returned when a manifest list entry
// references a manifest that has not been pushed to the repository.
type ErrManifestReferenceUnknown struct {
	Digest digest.Digest
}

func (err ErrManifestReferenceUnknown) Error() string {
	return fmt.Sprintf("unknown manifest %v referenced in list", err.Digest)
}

// ErrManifestUnsupportedMediaType is returned when a manifest is pushed or
// decoded with a media type the engine has no codec for.
type ErrManifestUnsupportedMediaType struct {
	MediaType string
}

func (err ErrManifestUnsupportedMediaType) Error() string {
	return fmt.Sprintf("unsupported manifest media type %q", err.MediaType)
}

// ErrTagUnknown is returned if the given tag is not known by the tag service.
type ErrTagUnknown struct {
	Tag string
}

func (err ErrTagUnknown) Error() string {
	return fmt.Sprintf("unknown tag=%s", err.Tag)
}
