// Package configuration loads the YAML configuration ore reads for its
// registry connections, cache directory, concurrency limits and auth
// tokens, with environment-variable overrides layered on top the same way
// the registry's own configuration package does it (§4.11).
package configuration

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"
)

// Configuration is a versioned ore configuration, provided by a YAML file
// and optionally overridden by environment variables.
//
// Note that yaml field names should never include _ characters, since this
// is the separator used in environment variable names.
type Configuration struct {
	// Version is the version which defines the format of the rest of the
	// configuration.
	Version Version `yaml:"version"`

	// Log controls the structured logger used by every component.
	Log Log `yaml:"log"`

	// Registry configures the default registry and any per-scope overrides.
	Registry Registry `yaml:"registry"`

	// Cache configures the on-disk content-addressable store (§4.4) and the
	// persisted packument revalidation cache.
	Cache Cache `yaml:"cache"`

	// Proxy, if set, is used for all outbound registry/git HTTP requests.
	Proxy string `yaml:"proxy,omitempty"`

	// Concurrency bounds the number of simultaneous tarball extractions and
	// lifecycle-script runs. It does not limit HTTP requests; the registry
	// client has no per-origin request cap.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Placement selects "hoisted" (default) or "isolated" graph placement
	// (§4.6).
	Placement Placement `yaml:"placement,omitempty"`

	// Progress toggles whether the event bus (§4.13) is populated at all;
	// when false, components skip publishing to avoid the allocation.
	Progress bool `yaml:"progress"`

	// Telemetry toggles anonymous usage telemetry. The core only exposes
	// the toggle; sending telemetry is an external collaborator's job.
	Telemetry bool `yaml:"telemetry"`

	// Timeouts configures the wall-clock deadlines from §5.
	Timeouts Timeouts `yaml:"timeouts,omitempty"`
}

// Version is a major/minor version pair of the form Major.Minor. Major
// version upgrades indicate structure or type changes; minor version
// upgrades should be strictly additive.
type Version string

// MajorMinorVersion constructs a Version from its Major and Minor
// components.
func MajorMinorVersion(major, minor uint) Version {
	return Version(fmt.Sprintf("%d.%d", major, minor))
}

// CurrentVersion is the most recent Version this package can parse.
var CurrentVersion = MajorMinorVersion(1, 0)

// Log supports setting various parameters related to the logging
// subsystem.
type Log struct {
	// Level is the granularity at which ore operations are logged.
	Level Loglevel `yaml:"level,omitempty"`

	// Formatter overrides the default text formatter ("text" or "json").
	Formatter string `yaml:"formatter,omitempty"`

	// Fields allows setting default structured fields attached to every
	// log line (e.g. environment=prod).
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Loglevel is a conventional name for a logging level, as defined in
// logrus.
type Loglevel string

// Registry describes how to reach package registries.
type Registry struct {
	// URL is the default registry base URL.
	URL string `yaml:"url"`

	// ScopeURLs maps an npm scope (without the leading @) to a registry
	// base URL, overriding URL for packages in that scope.
	ScopeURLs map[string]string `yaml:"scopeUrls,omitempty"`

	// Auth maps a registry origin (scheme://host[:port]) to the
	// credential that should be attached to requests against it. Never
	// sent cross-origin (§4.3).
	Auth map[string]Credential `yaml:"auth,omitempty"`
}

// Credential is one of bearer, basic, or a legacy opaque token, selected by
// which field is non-empty.
type Credential struct {
	BearerToken string `yaml:"bearerToken,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	LegacyToken string `yaml:"legacyToken,omitempty"`
}

// Cache configures on-disk persistence for the store and the packument
// revalidation layer.
type Cache struct {
	// Dir is the root of the content-addressable store (§4.4's <root>).
	Dir string `yaml:"dir"`

	// Revalidation configures the persisted ETag cache.
	Revalidation RevalidationCache `yaml:"revalidation,omitempty"`
}

// RevalidationCache configures the bbolt-backed local cache and an optional
// shared redis-backed cache.
type RevalidationCache struct {
	// Path is the bbolt database file. It has no default: the CLI opens the
	// revalidation cache only when Path or Shared is set.
	Path string `yaml:"path,omitempty"`

	// Shared, if set, points at a redis instance used as a second-tier,
	// cross-host revalidation cache. Disabled (nil) by default.
	Shared *RedisOptions `yaml:"shared,omitempty"`
}

// RedisOptions are the subset of connection parameters the shared
// revalidation cache needs.
type RedisOptions struct {
	Addrs    []string      `yaml:"addrs"`
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// Placement selects the resolver's graph-to-disk strategy (§4.6).
type Placement string

const (
	PlacementHoisted  Placement = "hoisted"
	PlacementIsolated Placement = "isolated"
)

// Timeouts holds the wall-clock deadlines from §5.
type Timeouts struct {
	// HTTPRequest bounds a single registry HTTP request. Default 60s.
	HTTPRequest time.Duration `yaml:"httpRequest,omitempty"`

	// Resolve bounds an entire resolve run. Default 10m.
	Resolve time.Duration `yaml:"resolve,omitempty"`

	// Apply bounds an entire apply run. Default 10m.
	Apply time.Duration `yaml:"apply,omitempty"`
}

// Defaults returns a Configuration with every optional field filled in,
// matching the defaults named throughout the spec (concurrency = 2×NumCPU,
// 60s HTTP deadline, 10m resolve/apply deadlines, hoisted placement).
func Defaults(numCPU int) Configuration {
	return Configuration{
		Version:     CurrentVersion,
		Log:         Log{Level: "info"},
		Cache:       Cache{Dir: defaultCacheDir()},
		Concurrency: numCPU * 2,
		Placement:   PlacementHoisted,
		Progress:    true,
		Timeouts: Timeouts{
			HTTPRequest: 60 * time.Second,
			Resolve:     10 * time.Minute,
			Apply:       10 * time.Minute,
		},
	}
}

// applyDefaults fills in zero-valued fields of c from the given defaults,
// leaving explicit settings alone.
func (c *Configuration) applyDefaults(d Configuration) {
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = d.Cache.Dir
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Placement == "" {
		c.Placement = d.Placement
	}
	if c.Timeouts.HTTPRequest <= 0 {
		c.Timeouts.HTTPRequest = d.Timeouts.HTTPRequest
	}
	if c.Timeouts.Resolve <= 0 {
		c.Timeouts.Resolve = d.Timeouts.Resolve
	}
	if c.Timeouts.Apply <= 0 {
		c.Timeouts.Apply = d.Timeouts.Apply
	}
}

// Parse parses an input configuration YAML document into a Configuration,
// then fills unset fields from Defaults. Environment variables may be used
// to override configuration parameters other than version, following the
// scheme below:
//
//	Configuration.Abc may be replaced by the value of ORE_ABC,
//	Configuration.Abc.Xyz may be replaced by the value of ORE_ABC_XYZ, and so forth.
func Parse(rd io.Reader, numCPU int) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("ore", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(1, 0),
			ParseAs: reflect.TypeOf(Configuration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				cfg, ok := c.(*Configuration)
				if !ok {
					return nil, fmt.Errorf("expected *Configuration, received %#v", c)
				}
				if cfg.Registry.URL == "" {
					return nil, errors.New("configuration: registry.url must be set")
				}
				return cfg, nil
			},
		},
	})

	config := new(Configuration)
	if err := p.Parse(in, config); err != nil {
		return nil, err
	}

	d := Defaults(numCPU)
	config.applyDefaults(d)

	return config, nil
}
