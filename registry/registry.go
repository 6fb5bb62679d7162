// Package registry provides the runnable registry instance and its cobra
// commands.
package registry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/docker/go-metrics"
	gorhandlers "github.com/gorilla/handlers"
	log "github.com/sirupsen/logrus"

	"github.com/aerugo/aerugo/configuration"
	"github.com/aerugo/aerugo/health"
	"github.com/aerugo/aerugo/health/checks"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/handlers"
	"github.com/aerugo/aerugo/version"
)

// defaultCheckInterval is the period of the dependency health probes.
const defaultCheckInterval = 10 * time.Second

// A Registry represents a complete instance of the registry.
type Registry struct {
	config *configuration.Configuration
	app    *handlers.App
	server *http.Server
	health *health.Registry
}

// NewRegistry creates a new registry from a context and configuration
// struct.
func NewRegistry(ctx context.Context, config *configuration.Configuration) (*Registry, error) {
	ctx = dcontext.WithVersion(ctx, version.Version())

	ctx, err := configureLogging(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %v", err)
	}

	app, err := handlers.NewApp(ctx, config)
	if err != nil {
		return nil, err
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.RegisterPeriodicThresholdFunc("database", defaultCheckInterval, 3, checks.Database(app.DB()))
	healthRegistry.RegisterPeriodicFunc("objectstore", defaultCheckInterval, checks.ObjectStore(app.Driver()))

	var handler http.Handler = app
	handler = health.ReadinessMiddleware(healthRegistry, handler)
	handler = panicHandler(handler)
	handler = gorhandlers.CombinedLoggingHandler(os.Stdout, handler)

	server := &http.Server{
		Addr:    config.HTTP.Addr,
		Handler: handler,
	}

	return &Registry{
		config: config,
		app:    app,
		server: server,
		health: healthRegistry,
	}, nil
}

// Serve runs the registry's HTTP server(s), blocking until one fails.
func (registry *Registry) Serve() error {
	ln, err := net.Listen("tcp", registry.config.HTTP.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	errChan := make(chan error)

	if debugAddr := registry.config.HTTP.Debug.Addr; debugAddr != "" {
		go func() {
			errChan <- registry.serveDebug(debugAddr)
		}()
	}

	go func() {
		dcontext.GetLogger(registry.app).Infof("listening on %v", ln.Addr())
		errChan <- registry.server.Serve(ln)
	}()

	return <-errChan
}

// serveDebug runs the side server carrying the health status, telemetry
// and profiling endpoints. It is never exposed publicly.
func (registry *Registry) serveDebug(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/debug/health", health.StatusHandler(registry.health))
	// The pprof handlers self-register on the default mux.
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	if registry.config.HTTP.Debug.Prometheus.Enabled {
		path := registry.config.HTTP.Debug.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, metrics.Handler())
	}

	dcontext.GetLogger(registry.app).Infof("debug server listening %v", addr)
	return http.ListenAndServe(addr, mux)
}

// ReapUploads removes upload sessions older than the configured purge age,
// along with their stored chunks.
func (registry *Registry) ReapUploads(ctx context.Context) error {
	reaped, err := registry.app.Registry().ReapStaleUploads(ctx, registry.config.Uploads.PurgeAge)
	if err != nil {
		return err
	}

	dcontext.GetLogger(registry.app).Infof("reaped %d stale upload sessions", reaped)
	return nil
}

// configureLogging prepares the context with a logger using the
// configuration.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	log.SetLevel(logLevel(config.Log.Level))

	switch config.Log.Formatter {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", config.Log.Formatter)
	}

	// log the application version with messages
	ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, "version"))

	if len(config.Log.Fields) > 0 {
		// build up the static fields, if present.
		var fields []any
		for k := range config.Log.Fields {
			fields = append(fields, k)
		}

		ctx = dcontext.WithValues(ctx, config.Log.Fields)
		ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, fields...))
	}

	return ctx, nil
}

func logLevel(level configuration.Loglevel) log.Level {
	l, err := log.ParseLevel(string(level))
	if err != nil {
		l = log.InfoLevel
		log.Warnf("error parsing level %q: %v, using %q", level, err, l)
	}

	return l
}

// panicHandler recovers a panicking request handler, logging the panic
// through the configured hooks instead of killing the process.
func panicHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Panic(fmt.Sprintf("%v", err))
			}
		}()
		handler.ServeHTTP(w, r)
	})
}
