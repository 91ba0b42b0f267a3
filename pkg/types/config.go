package types

import "time"

// LogConfig holds logger settings.
type LogConfig struct {
	// Debug switches zap to the development encoder at debug level.
	Debug bool `json:"debug" yaml:"debug" mapstructure:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	Port int    `json:"port" yaml:"port" mapstructure:"port"`

	// RequestTimeout bounds a whole request, model call included (default 180s).
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
}

// StoreDriver names a database/sql driver the store can use.
type StoreDriver string

const (
	DriverSQLite   StoreDriver = "sqlite3"
	DriverPostgres StoreDriver = "pgx"
)

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver selects sqlite3 (default) or pgx.
	Driver StoreDriver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// DSN is a file path for sqlite3 or a connection URL for pgx.
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
}

// ModelConfig holds settings for the OpenAI-compatible model server
// (LM Studio by default).
type ModelConfig struct {
	// BaseURL is the API root including the version segment
	// (e.g. "http://localhost:1234/v1").
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Model is the model identifier passed in each request.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is optional for local servers.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Timeout bounds one completion request (default 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// JSONMode requests response_format json_object.
	JSONMode bool `json:"json_mode" yaml:"json_mode" mapstructure:"json_mode"`

	// RequestsPerSecond throttles completions; 0 disables the limiter.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`

	// HealthCacheTTL is how long an availability check result is reused.
	HealthCacheTTL time.Duration `json:"health_cache_ttl" yaml:"health_cache_ttl" mapstructure:"health_cache_ttl"`
}

// ExtractionConfig holds pipeline limits.
type ExtractionConfig struct {
	// MaxInputChars rejects oversized text before the model is called.
	MaxInputChars int `json:"max_input_chars" yaml:"max_input_chars" mapstructure:"max_input_chars"`
}

// Config groups every section of claim-engine.yaml.
type Config struct {
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `json:"server" yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `json:"store" yaml:"store" mapstructure:"store"`
	Model      ModelConfig      `json:"model" yaml:"model" mapstructure:"model"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
}
