package v2

import (
	"github.com/distribution/reference"
	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
)

// The following are definitions of the name under which all V2 routes are
// registered. These symbols can be used to look up a route based on the name.
const (
	RouteNameBase            = "base"
	RouteNameManifest        = "manifest"
	RouteNameTags            = "tags"
	RouteNameBlob            = "blob"
	RouteNameBlobUpload      = "blob-upload"
	RouteNameBlobUploadChunk = "blob-upload-chunk"
	RouteNameCatalog         = "catalog"
)

// Router builds a gorilla router with named routes for the various API
// methods. This can be used directly by both server implementations and
// clients.
func Router() *mux.Router {
	return RouterWithPrefix("")
}

// RouterWithPrefix builds a gorilla router with a configured prefix
// on all routes.
func RouterWithPrefix(prefix string) *mux.Router {
	rootRouter := mux.NewRouter()
	router := rootRouter
	if prefix != "" {
		router = router.PathPrefix(prefix).Subrouter()
	}

	router.StrictSlash(true)

	// GET /v2/  Check  Check that the registry implements API version 2(.1)
	router.Path("/v2/").Name(RouteNameBase)

	// GET      /v2/<name>/manifests/<reference>  Image Manifest  Fetch the image manifest identified by name and reference where reference can be a tag or digest.
	// HEAD     /v2/<name>/manifests/<reference>  Image Manifest  Check if the manifest exists.
	// PUT      /v2/<name>/manifests/<reference>  Image Manifest  Upload the image manifest identified by name and reference where reference can be a tag or digest.
	// DELETE   /v2/<name>/manifests/<reference>  Image Manifest  Delete the manifest identified by name and digest.
	router.Path("/v2/{name:" + reference.NameRegexp.String() + "}/manifests/{reference:" + reference.TagRegexp.String() + "|" + digest.DigestRegexp.String() + "}").Name(RouteNameManifest)

	// GET  /v2/<name>/tags/list  Tags  Fetch the tags under the repository identified by name.
	router.Path("/v2/{name:" + reference.NameRegexp.String() + "}/tags/list").Name(RouteNameTags)

	// GET      /v2/<name>/blobs/<digest>  Layer  Fetch the blob identified by digest.
	// HEAD     /v2/<name>/blobs/<digest>  Layer  Check if the blob exists.
	// DELETE   /v2/<name>/blobs/<digest>  Layer  Delete the blob identified by digest.
	router.Path("/v2/{name:" + reference.NameRegexp.String() + "}/blobs/{digest:" + digest.DigestRegexp.String() + "}").Name(RouteNameBlob)

	// POST  /v2/<name>/blobs/uploads/  Layer Upload  Initiate an upload of the layer identified by tarsum.
	router.Path("/v2/{name:" + reference.NameRegexp.String() + "}/blobs/uploads/").Name(RouteNameBlobUpload)

	// GET     /v2/<name>/blobs/uploads/<uuid>  Layer Upload  Get the status of the upload identified by id.
	// PATCH   /v2/<name>/blobs/uploads/<uuid>  Layer Upload  Upload a chunk of data for the specified upload.
	// PUT     /v2/<name>/blobs/uploads/<uuid>  Layer Upload  Complete the upload specified by id, optionally appending the body as the final chunk.
	// DELETE  /v2/<name>/blobs/uploads/<uuid>  Layer Upload  Cancel the upload specified by id.
	router.Path("/v2/{name:" + reference.NameRegexp.String() + "}/blobs/uploads/{uuid:[a-zA-Z0-9-_.=]+}").Name(RouteNameBlobUploadChunk)

	// GET  /v2/_catalog  Catalog  Fetch the list of repositories readable by the requester.
	router.Path("/v2/_catalog").Name(RouteNameCatalog)

	return rootRouter
}
