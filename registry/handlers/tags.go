package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/registry/api/errcode"
)

// tagsDispatcher constructs the tags handler api endpoint.
func tagsDispatcher(ctx *Context, r *http.Request) http.Handler {
	tagsHandler := &tagsHandler{Context: ctx}

	return handlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(tagsHandler.GetTags),
	}
}

// tagsHandler handles requests for lists of tags under a repository name.
type tagsHandler struct {
	*Context
}

type tagsAPIResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// GetTags returns a json list of tags for a specific image name, in
// lexicographic order and paginated by the n and last query parameters.
func (th *tagsHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	limit, last, err := pageParams(r)
	if err != nil {
		th.Errors = append(th.Errors, errcode.ErrorCodePaginationNumberInvalid.WithDetail(err.Error()))
		return
	}
	if max := th.App.Config.Catalog.MaxEntries; limit <= 0 || limit > max {
		limit = max
	}

	tags, err := th.Repository.Tags().All(th, limit, last)
	if err != nil {
		switch err := err.(type) {
		case aerugo.ErrRepositoryUnknown:
			th.Errors = append(th.Errors, errcode.ErrorCodeNameUnknown.WithDetail(map[string]string{"name": th.Repository.Named()}))
		default:
			th.Errors = append(th.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		}
		return
	}

	if tags == nil {
		tags = []string{}
	}

	// A full page means there may be more; hand the client a link to the
	// next one.
	if len(tags) == limit {
		w.Header().Set("Link", paginationLink(r.URL, limit, tags[len(tags)-1]))
	}

	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	if err := enc.Encode(tagsAPIResponse{
		Name: th.Repository.Named(),
		Tags: tags,
	}); err != nil {
		th.Errors = append(th.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
}
