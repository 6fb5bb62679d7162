// Package configuration loads the registry's yaml configuration file,
// optionally overridden by environment variables.
package configuration

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Configuration is a versioned registry configuration, intended to be
// provided by a yaml file and optionally modified by environment variables.
type Configuration struct {
	// Version defines the format of the rest of the configuration.
	Version Version `yaml:"version"`

	// Log supports setting various parameters related to the logging
	// subsystem.
	Log struct {
		// Level is the granularity at which registry operations are logged.
		Level Loglevel `yaml:"level,omitempty"`

		// Formatter overrides the default formatter with another. Options
		// include "text" and "json".
		Formatter string `yaml:"formatter,omitempty"`

		// Fields allows users to specify static string fields to include in
		// the logger context.
		Fields map[string]interface{} `yaml:"fields,omitempty"`
	} `yaml:"log"`

	// HTTP contains parameters for the registry's http interface.
	HTTP struct {
		// Addr specifies the bind address for the registry instance.
		Addr string `yaml:"addr,omitempty"`

		// Prefix specifies a URL path prefix for the http interface.
		Prefix string `yaml:"prefix,omitempty"`

		// Debug configures the http debug interface, if specified. This can
		// include services such as pprof and expvar.
		Debug struct {
			// Addr specifies the bind address for the debug server.
			Addr string `yaml:"addr,omitempty"`

			// Prometheus configures the Prometheus telemetry endpoint.
			Prometheus struct {
				Enabled bool   `yaml:"enabled,omitempty"`
				Path    string `yaml:"path,omitempty"`
			} `yaml:"prometheus,omitempty"`
		} `yaml:"debug,omitempty"`
	} `yaml:"http,omitempty"`

	// Database configures the metadata store connection.
	Database struct {
		// DSN is the postgres connection string.
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	// ObjectStore configures the blob byte store. Exactly one driver may be
	// specified.
	ObjectStore ObjectStore `yaml:"objectstore"`

	// Redis configures the optional descriptor and manifest caches.
	Redis struct {
		// Addr specifies the redis instance, as host:port. Empty disables
		// caching.
		Addr     string `yaml:"addr,omitempty"`
		Password string `yaml:"password,omitempty"`
		DB       int    `yaml:"db,omitempty"`

		// TTL bounds entry lifetime. Zero selects the cache default.
		TTL time.Duration `yaml:"ttl,omitempty"`
	} `yaml:"redis,omitempty"`

	// Auth selects the access controller gating requests.
	Auth Auth `yaml:"auth,omitempty"`

	// Uploads configures blob upload session housekeeping.
	Uploads struct {
		// PurgeAge is how long a session may sit idle before the reaper
		// reclaims it.
		PurgeAge time.Duration `yaml:"purgeage,omitempty"`
	} `yaml:"uploads,omitempty"`

	// Redirect configures direct blob downloads from backing storage.
	Redirect struct {
		// Disable forces all blob bytes through the registry.
		Disable bool `yaml:"disable,omitempty"`

		// TTL is the presigned URL lifetime.
		TTL time.Duration `yaml:"ttl,omitempty"`
	} `yaml:"redirect,omitempty"`

	// Catalog configures repository listing.
	Catalog struct {
		// MaxEntries caps the page size for catalog and tag listing.
		MaxEntries int `yaml:"maxentries,omitempty"`
	} `yaml:"catalog,omitempty"`
}

// CurrentVersion is the most recent Version that can be parsed.
var CurrentVersion = MajorMinorVersion(0, 1)

// Loglevel is the level at which operations are logged. This can be error,
// warn, info, or debug.
type Loglevel string

// UnmarshalYAML implements the yaml.Umarshaler interface, lowercasing the
// string and validating that it represents a valid loglevel.
func (loglevel *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var loglevelString string
	if err := unmarshal(&loglevelString); err != nil {
		return err
	}

	loglevelString = strings.ToLower(loglevelString)
	switch loglevelString {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %s, must be one of [error, warn, info, debug]", loglevelString)
	}

	*loglevel = Loglevel(loglevelString)
	return nil
}

// Parameters defines a key-value parameters mapping.
type Parameters map[string]interface{}

// ObjectStore defines the configuration for the blob byte store, a single
// driver name mapping to its parameters.
type ObjectStore map[string]Parameters

// Type returns the driver type, such as s3 or inmemory.
func (store ObjectStore) Type() string {
	for k := range store {
		return k
	}
	return ""
}

// Parameters returns the Parameters map for the configured driver.
func (store ObjectStore) Parameters() Parameters {
	return store[store.Type()]
}

// UnmarshalYAML implements the yaml.Unmarshaler interface, validating that
// exactly one driver is specified.
func (store *ObjectStore) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var m map[string]Parameters
	if err := unmarshal(&m); err != nil {
		return err
	}

	if len(m) > 1 {
		types := make([]string, 0, len(m))
		for k := range m {
			types = append(types, k)
		}
		return fmt.Errorf("must provide exactly one object store type, choose from: %v", types)
	}

	*store = m
	return nil
}

// Auth defines the configuration for the registry access controller, a
// single controller name mapping to its parameters.
type Auth map[string]Parameters

// Type returns the auth type, such as silly or remote.
func (auth Auth) Type() string {
	for k := range auth {
		return k
	}
	return ""
}

// Parameters returns the Parameters map for the configured controller.
func (auth Auth) Parameters() Parameters {
	return auth[auth.Type()]
}

// UnmarshalYAML implements the yaml.Unmarshaler interface, validating that
// at most one controller is specified.
func (auth *Auth) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var m map[string]Parameters
	if err := unmarshal(&m); err != nil {
		return err
	}

	if len(m) > 1 {
		types := make([]string, 0, len(m))
		for k := range m {
			types = append(types, k)
		}
		return fmt.Errorf("must provide at most one auth type, choose from: %v", types)
	}

	*auth = m
	return nil
}

// Parse parses an input configuration yaml document into a Configuration.
//
// Environment variables may be used to override configuration parameters,
// following the scheme below:
// Configuration.Abc may be replaced by the value of REGISTRY_ABC,
// Configuration.Abc.Xyz may be replaced by the value of REGISTRY_ABC_XYZ,
// and so forth.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	config := new(Configuration)
	if err := newParser("registry").parse(in, config); err != nil {
		return nil, err
	}

	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	return config, nil
}

func (config *Configuration) applyDefaults() error {
	if config.Version != CurrentVersion {
		return fmt.Errorf("unsupported configuration version %q", config.Version)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("no database dsn configured")
	}
	if config.ObjectStore.Type() == "" {
		return fmt.Errorf("no object store configured")
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Formatter == "" {
		config.Log.Formatter = "text"
	}
	if config.HTTP.Addr == "" {
		config.HTTP.Addr = ":5000"
	}
	if config.Uploads.PurgeAge == 0 {
		config.Uploads.PurgeAge = 24 * time.Hour
	}
	if config.Redirect.TTL == 0 {
		config.Redirect.TTL = 20 * time.Minute
	}
	if config.Catalog.MaxEntries <= 0 {
		config.Catalog.MaxEntries = 1000
	}

	return nil
}
