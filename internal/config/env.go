package config

import (
	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds the environment-based configuration surface.
type EnvConfig struct {
	// Host is the server host to bind to.
	// Env: HOST (default: 127.0.0.1)
	Host string `envconfig:"HOST" default:"127.0.0.1"`

	// Port is the server port to listen on.
	// Env: PORT (default: 8765)
	Port int `envconfig:"PORT" default:"8765"`

	// Model is the hub model id to fetch and serve.
	// Env: MODEL (default: sentence-transformers/all-MiniLM-L6-v2)
	Model string `envconfig:"MODEL" default:"sentence-transformers/all-MiniLM-L6-v2"`

	// ModelDir is the local directory holding the model artifacts.
	// Env: MODEL_DIR (default: models)
	ModelDir string `envconfig:"MODEL_DIR" default:"models"`

	// Revision is the hub revision to fetch.
	// Env: MODEL_REVISION (default: main)
	Revision string `envconfig:"MODEL_REVISION" default:"main"`

	// Endpoint overrides the hub endpoint.
	// Env: HF_ENDPOINT
	Endpoint string `envconfig:"HF_ENDPOINT"`

	// Token is the hub auth token for gated or private repositories.
	// Env: HF_TOKEN
	Token string `envconfig:"HF_TOKEN"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// NoProgress disables download progress bars.
	// Env: NO_PROGRESS (default: false)
	NoProgress bool `envconfig:"NO_PROGRESS" default:"false"`

	// MaxRetries is the per-file download attempt budget.
	// Env: MAX_RETRIES (default: 4)
	MaxRetries int `envconfig:"MAX_RETRIES" default:"4"`
}

// LoadFromEnv reads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToConfig converts the environment surface into the resolved Config.
func (e EnvConfig) ToConfig() Config {
	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return Config{
		host:       e.Host,
		port:       e.Port,
		model:      e.Model,
		modelDir:   e.ModelDir,
		revision:   e.Revision,
		endpoint:   e.Endpoint,
		token:      e.Token,
		logLevel:   e.LogLevel,
		logFormat:  e.LogFormat,
		progress:   !e.NoProgress,
		maxRetries: maxRetries,
	}
}
