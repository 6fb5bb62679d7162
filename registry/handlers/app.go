// Package handlers implements the registry's http frontend: a router whose
// endpoints are built per request by dispatch functions, with authorization
// and repository resolution applied before any handler runs.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/configuration"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/api/errcode"
	v2 "github.com/aerugo/aerugo/registry/api/v2"
	"github.com/aerugo/aerugo/registry/auth"
	"github.com/aerugo/aerugo/registry/datastore"
	"github.com/aerugo/aerugo/registry/objectstore"
	"github.com/aerugo/aerugo/registry/objectstore/factory"
	"github.com/aerugo/aerugo/registry/storage"
	cachemetrics "github.com/aerugo/aerugo/registry/storage/cache/metrics"
	rediscache "github.com/aerugo/aerugo/registry/storage/cache/redis"
)

// App is a global registry application object. Shared resources can be
// placed on this object that will be accessible from all requests.
type App struct {
	context.Context

	Config *configuration.Configuration

	router           *mux.Router
	db               *datastore.DB
	driver           objectstore.Driver
	registry         *storage.Registry
	accessController auth.AccessController
}

// NewApp takes a configuration and returns a configured app, ready to serve
// requests. The app only implements ServeHTTP and can be wrapped in other
// handlers accordingly.
func NewApp(ctx context.Context, config *configuration.Configuration) (*App, error) {
	app := &App{
		Context: ctx,
		Config:  config,
		router:  v2.RouterWithPrefix(config.HTTP.Prefix),
	}

	app.registerRoutes()

	var err error
	app.db, err = datastore.Open(ctx, config.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to metadata store: %w", err)
	}

	app.driver, err = factory.Create(config.ObjectStore.Type(), config.ObjectStore.Parameters())
	if err != nil {
		return nil, fmt.Errorf("configuring object store: %w", err)
	}

	options := []storage.Option{}
	if !config.Redirect.Disable {
		options = append(options, storage.WithRedirect(config.Redirect.TTL))
	}
	if config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		options = append(options,
			storage.WithDescriptorCache(cachemetrics.NewBlobDescriptorCacheProvider(
				rediscache.NewBlobDescriptorCacheProvider(client, config.Redis.TTL))),
			storage.WithManifestCache(rediscache.NewManifestPayloadCache(client, config.Redis.TTL)),
		)
		dcontext.GetLogger(app).Infof("using redis cache at %s", config.Redis.Addr)
	}

	app.registry = storage.NewRegistry(
		app.driver,
		datastore.NewRepositoryStore(app.db),
		datastore.NewBlobStore(app.db),
		datastore.NewManifestStore(app.db),
		datastore.NewTagStore(app.db),
		datastore.NewUploadStore(app.db),
		options...,
	)

	if authType := config.Auth.Type(); authType != "" {
		app.accessController, err = auth.GetAccessController(authType, config.Auth.Parameters())
		if err != nil {
			return nil, fmt.Errorf("configuring authorization (%s): %w", authType, err)
		}
		dcontext.GetLogger(app).Debugf("configured %q access controller", authType)
	}

	return app, nil
}

// DB exposes the metadata store connection for health checks.
func (app *App) DB() *datastore.DB {
	return app.db
}

// Driver exposes the object store driver for health checks.
func (app *App) Driver() objectstore.Driver {
	return app.driver
}

// Registry exposes the storage services for out-of-band jobs such as the
// upload reaper.
func (app *App) Registry() *storage.Registry {
	return app.registry
}

// registerRoutes attaches the handler dispatchers to the router.
func (app *App) registerRoutes() {
	app.register(v2.RouteNameBase, func(ctx *Context, r *http.Request) http.Handler {
		return http.HandlerFunc(apiBase)
	})
	app.register(v2.RouteNameManifest, manifestDispatcher)
	app.register(v2.RouteNameTags, tagsDispatcher)
	app.register(v2.RouteNameBlob, blobDispatcher)
	app.register(v2.RouteNameBlobUpload, blobUploadDispatcher)
	app.register(v2.RouteNameBlobUploadChunk, blobUploadDispatcher)
	app.register(v2.RouteNameCatalog, catalogDispatcher)
}

// register a handler with the application, by route name. The handler will
// be passed through the application filters and context will be constructed
// at request time.
func (app *App) register(routeName string, dispatch dispatchFunc) {
	app.router.GetRoute(routeName).Handler(app.dispatcher(dispatch))
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close() // ensure that request body is always closed.

	// Set a header with the Docker Distribution API Version for all
	// responses.
	w.Header().Add("Docker-Distribution-API-Version", "registry/2.0")
	app.router.ServeHTTP(w, r)
}

// dispatchFunc takes a context and request and returns a constructed
// handler for the route. The dispatcher will use this to dynamically create
// request specific handlers for each endpoint without creating a new router
// for each request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

// dispatcher returns a handler that constructs a request specific context
// and handler, using the dispatch factory function.
func (app *App) dispatcher(dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		context := app.context(w, r)

		defer func() {
			dcontext.GetResponseLogger(context).Infof("response completed")
		}()

		if err := app.authorized(w, r, context); err != nil {
			dcontext.GetLogger(context).Warnf("error authorizing context: %v", err)
			return
		}

		if app.nameRequired(r) {
			name := getName(context)

			repository, err := app.registry.Repository(context, name)
			if err != nil {
				dcontext.GetLogger(context).Errorf("error resolving repository: %v", err)

				switch err := err.(type) {
				case aerugo.ErrRepositoryUnknown:
					context.Errors = append(context.Errors, errcode.ErrorCodeNameUnknown.WithDetail(map[string]string{"name": name}))
				case aerugo.ErrRepositoryNameInvalid:
					context.Errors = append(context.Errors, errcode.ErrorCodeNameInvalid.WithDetail(err))
				default:
					context.Errors = append(context.Errors, errcode.ErrorCodeUnavailable.WithDetail(err.Error()))
				}

				if err := errcode.ServeJSON(w, context.Errors); err != nil {
					dcontext.GetLogger(context).Errorf("error serving error json: %v (from %v)", err, context.Errors)
				}
				return
			}

			context.Repository = repository
		}

		dispatch(context, r).ServeHTTP(w, r)

		// Automated error response handling here. Handlers may return their
		// own errors if they need different behavior (such as range errors
		// for upload resume).
		if context.Errors.Len() > 0 {
			if err := errcode.ServeJSON(w, context.Errors); err != nil {
				dcontext.GetLogger(context).Errorf("error serving error json: %v (from %v)", err, context.Errors)
			}
		}
	})
}

// context constructs the context object for the application. This only be
// called once per request.
func (app *App) context(w http.ResponseWriter, r *http.Request) *Context {
	ctx := r.Context()
	ctx = dcontext.WithRequest(ctx, r)
	ctx, _ = dcontext.WithResponseWriter(ctx, w)
	ctx = dcontext.WithVars(ctx, r)
	ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx,
		"vars.name",
		"vars.reference",
		"vars.digest",
		"vars.uuid"))

	return &Context{
		App:        app,
		Context:    ctx,
		urlBuilder: v2.NewURLBuilderFromRequest(r, false),
	}
}

// authorized checks if the request can proceed with access to the requested
// repository. If it succeeds, the context may access the requested
// repository. An error will be returned if access is not available.
func (app *App) authorized(w http.ResponseWriter, r *http.Request, context *Context) error {
	dcontext.GetLogger(context).Debug("authorizing request")
	repo := getName(context)

	if app.accessController == nil {
		return nil // access controller is not enabled.
	}

	var accessRecords []auth.Access

	if repo != "" {
		accessRecords = appendAccessRecords(accessRecords, r.Method, repo)
	} else {
		// Only allow the name not to be set on the base and catalog routes.
		if app.nameRequired(r) {
			// For this to be properly secured, repo must always be set for a
			// resource that may make a modification. The only condition under
			// which name is not set and we still allow access is when the
			// base route is accessed.
			if err := errcode.ServeJSON(w, errcode.ErrorCodeUnauthorized); err != nil {
				dcontext.GetLogger(context).Errorf("error serving error json: %v", err)
			}
			return fmt.Errorf("forbidden: no repository name")
		}
		// The base and catalog routes carry no access records: the
		// controller authenticates the caller and the catalog handler
		// filters per repository afterwards.
	}

	ctx, err := app.accessController.Authorized(context.Context, accessRecords...)
	if err != nil {
		switch err := err.(type) {
		case auth.Challenge:
			// Add the appropriate WWW-Auth header
			err.SetHeaders(r, w)

			if err := errcode.ServeJSON(w, errcode.ErrorCodeUnauthorized.WithDetail(accessRecords)); err != nil {
				dcontext.GetLogger(context).Errorf("error serving error json: %v", err)
			}
		default:
			if errors.Is(err, aerugo.ErrAccessDenied) {
				// The caller authenticated but lacks permission for the
				// requested actions.
				if serr := errcode.ServeJSON(w, errcode.ErrorCodeDenied.WithDetail(accessRecords)); serr != nil {
					dcontext.GetLogger(context).Errorf("error serving error json: %v", serr)
				}
				return err
			}

			// This condition is a potential security problem either in the
			// configuration or whatever is backing the access controller.
			// Just return a bad request with no information to avoid
			// exposure. The request should not proceed.
			dcontext.GetLogger(context).Errorf("error checking authorization: %v", err)
			w.WriteHeader(http.StatusBadRequest)
		}

		return err
	}

	dcontext.GetLogger(ctx).Info("authorized request")

	context.Context = ctx
	return nil
}

// nameRequired returns true if the route requires a name.
func (app *App) nameRequired(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	if route == nil {
		return true
	}
	routeName := route.GetName()
	return routeName != v2.RouteNameBase && routeName != v2.RouteNameCatalog
}

// apiBase implements a simple yes-man for doing overall checks against the
// api. This can support auth roundtrips to support docker login.
func apiBase(w http.ResponseWriter, r *http.Request) {
	const emptyJSON = "{}"
	// Provide a simple /v2/ 200 OK response with empty json response.
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", fmt.Sprint(len(emptyJSON)))

	fmt.Fprint(w, emptyJSON)
}

// appendAccessRecords checks the method and adds the appropriate Access
// records to the records list.
func appendAccessRecords(records []auth.Access, method string, repo string) []auth.Access {
	resource := auth.Resource{
		Type: "repository",
		Name: repo,
	}

	switch method {
	case http.MethodGet, http.MethodHead:
		records = append(records,
			auth.Access{
				Resource: resource,
				Action:   auth.ActionPull,
			})
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		records = append(records,
			auth.Access{
				Resource: resource,
				Action:   auth.ActionPull,
			},
			auth.Access{
				Resource: resource,
				Action:   auth.ActionPush,
			})
	case http.MethodDelete:
		records = append(records,
			auth.Access{
				Resource: resource,
				Action:   auth.ActionDelete,
			})
	}
	return records
}
