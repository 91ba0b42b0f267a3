// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config registers claim-engine's viper defaults and decodes the
// merged configuration (file, CLAIM_ENGINE_* environment, flags) into
// types.Config.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// EnvPrefix is prepended to environment overrides: model.base_url is read
// from CLAIM_ENGINE_MODEL_BASE_URL.
const EnvPrefix = "CLAIM_ENGINE"

// Defaults maps every configuration key to its default value.
var Defaults = map[string]any{
	"log.debug": false,

	"server.host":            "127.0.0.1",
	"server.port":            8000,
	"server.request_timeout": 180 * time.Second,

	"store.driver": string(types.DriverSQLite),
	"store.dsn":    "data/claim-engine.db",

	"model.base_url":            "http://localhost:1234/v1",
	"model.model":               "local-model",
	"model.api_key":             "",
	"model.timeout":             120 * time.Second,
	"model.temperature":         0.1,
	"model.max_tokens":          4000,
	"model.json_mode":           true,
	"model.requests_per_second": 0.0,
	"model.health_cache_ttl":    15 * time.Second,

	"extraction.max_input_chars": 200000,
}

// SetDefaults registers Defaults on v and enables environment overrides.
func SetDefaults(v *viper.Viper) {
	for key, val := range Defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting in cfg.
func Validate(cfg types.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Server.Port > 0 && cfg.Server.Port < 65536, "server.port %d out of range", cfg.Server.Port)
	check(cfg.Server.RequestTimeout > 0, "server.request_timeout must be positive")

	switch cfg.Store.Driver {
	case types.DriverSQLite, types.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be %q or %q", cfg.Store.Driver, types.DriverSQLite, types.DriverPostgres))
	}
	check(strings.TrimSpace(cfg.Store.DSN) != "", "store.dsn is required")

	if u, err := url.Parse(cfg.Model.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("model.base_url %q must be an http(s) URL", cfg.Model.BaseURL))
	}
	check(strings.TrimSpace(cfg.Model.Model) != "", "model.model is required")
	check(cfg.Model.Timeout > 0, "model.timeout must be positive")
	check(cfg.Model.Temperature >= 0 && cfg.Model.Temperature <= 2, "model.temperature %v must be within [0, 2]", cfg.Model.Temperature)
	check(cfg.Model.MaxTokens > 0, "model.max_tokens must be positive")
	check(cfg.Model.RequestsPerSecond >= 0, "model.requests_per_second must not be negative")
	check(cfg.Model.HealthCacheTTL >= 0, "model.health_cache_ttl must not be negative")

	check(cfg.Extraction.MaxInputChars >= 0, "extraction.max_input_chars must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
