package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/api/errcode"
	"github.com/aerugo/aerugo/registry/auth"
)

func catalogDispatcher(ctx *Context, r *http.Request) http.Handler {
	catalogHandler := &catalogHandler{Context: ctx}

	return handlers.MethodHandler{
		http.MethodGet: http.HandlerFunc(catalogHandler.GetCatalog),
	}
}

type catalogHandler struct {
	*Context
}

type catalogAPIResponse struct {
	Repositories []string `json:"repositories"`
}

// GetCatalog returns the list of repositories the caller may read,
// paginated by the n and last query parameters. Filtering happens before
// pagination so every page is full whenever more results exist.
func (ch *catalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	limit, last, err := pageParams(r)
	if err != nil {
		ch.Errors = append(ch.Errors, errcode.ErrorCodePaginationNumberInvalid.WithDetail(err.Error()))
		return
	}
	if max := ch.App.Config.Catalog.MaxEntries; limit <= 0 || limit > max {
		limit = max
	}

	repos := make([]string, limit)
	filled, err := ch.App.registry.Repositories(ch, repos, last, ch.readable)
	if err != nil && err != io.EOF {
		ch.Errors = append(ch.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
	moreEntries := err != io.EOF

	if filled == limit && moreEntries {
		w.Header().Set("Link", paginationLink(r.URL, limit, repos[filled-1]))
	}

	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	if err := enc.Encode(catalogAPIResponse{
		Repositories: repos[:filled],
	}); err != nil {
		ch.Errors = append(ch.Errors, errcode.ErrorCodeUnknown.WithDetail(err))
		return
	}
}

// readable asks the access controller whether the caller may pull the
// repository. With no controller configured, everything is listed.
func (ch *catalogHandler) readable(repo string) bool {
	if ch.App.accessController == nil {
		return true
	}

	_, err := ch.App.accessController.Authorized(ch.Context, auth.Access{
		Resource: auth.Resource{Type: "repository", Name: repo},
		Action:   auth.ActionPull,
	})
	if err != nil {
		dcontext.GetLogger(ch).Debugf("catalog omitting %s: %v", repo, err)
		return false
	}

	return true
}
