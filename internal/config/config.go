// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
)

// Default configuration values.
const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 8765
	DefaultModel      = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultModelDir   = "models"
	DefaultRevision   = "main"
	DefaultLogLevel   = "INFO"
	DefaultLogFormat  = "pretty"
	DefaultMaxRetries = 4

	// ModelDimensions is the embedding width of the default model.
	ModelDimensions = 384
)

// Config is the resolved application configuration.
type Config struct {
	host       string
	port       int
	model      string
	modelDir   string
	revision   string
	endpoint   string
	token      string
	logLevel   string
	logFormat  string
	progress   bool
	maxRetries int
}

// Host returns the server bind host.
func (c Config) Host() string { return c.host }

// Port returns the server bind port.
func (c Config) Port() int { return c.port }

// Addr returns the host:port bind address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

// Model returns the hub model id to fetch and serve.
func (c Config) Model() string { return c.model }

// ModelDir returns the local directory holding the model artifacts.
func (c Config) ModelDir() string { return c.modelDir }

// Revision returns the hub revision to fetch.
func (c Config) Revision() string { return c.revision }

// Endpoint returns the hub endpoint override, empty for the default.
func (c Config) Endpoint() string { return c.endpoint }

// Token returns the hub auth token, empty for anonymous access.
func (c Config) Token() string { return c.token }

// LogLevel returns the log verbosity level name.
func (c Config) LogLevel() string { return c.logLevel }

// LogFormat returns the log output format (pretty or json).
func (c Config) LogFormat() string { return c.logFormat }

// Progress reports whether download progress bars are enabled.
func (c Config) Progress() bool { return c.progress }

// MaxRetries returns the per-file download attempt budget.
func (c Config) MaxRetries() int { return c.maxRetries }

// WithHost returns a copy with the host overridden when non-empty.
func (c Config) WithHost(host string) Config {
	if host != "" {
		c.host = host
	}
	return c
}

// WithPort returns a copy with the port overridden when nonzero.
func (c Config) WithPort(port int) Config {
	if port != 0 {
		c.port = port
	}
	return c
}

// WithModel returns a copy with the model id overridden when non-empty.
func (c Config) WithModel(model string) Config {
	if model != "" {
		c.model = model
	}
	return c
}

// WithModelDir returns a copy with the model directory overridden when non-empty.
func (c Config) WithModelDir(dir string) Config {
	if dir != "" {
		c.modelDir = dir
	}
	return c
}

// WithRevision returns a copy with the revision overridden when non-empty.
func (c Config) WithRevision(revision string) Config {
	if revision != "" {
		c.revision = revision
	}
	return c
}

// WithEndpoint returns a copy with the hub endpoint overridden when non-empty.
func (c Config) WithEndpoint(endpoint string) Config {
	if endpoint != "" {
		c.endpoint = endpoint
	}
	return c
}

// WithProgress returns a copy with progress reporting toggled.
func (c Config) WithProgress(progress bool) Config {
	c.progress = progress
	return c
}

// EnsureModelDir creates the model directory if it does not exist.
// An existing directory is left untouched.
func (c Config) EnsureModelDir() error {
	return os.MkdirAll(c.modelDir, 0o755)
}
