// Package config loads downloader settings from an optional YAML file with
// environment variable overrides, fills in defaults, and validates the
// result before any network or disk work starts.
package config

import (
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix scopes the environment variables read as overrides, e.g.
// BOOSTY_ACCESS_TOKEN becomes access_token.
const EnvPrefix = "BOOSTY_"

type Config struct {
	// Author is the boosty.to blog name whose feed is mirrored.
	Author string `koanf:"author" validate:"required"`
	// TargetDir is the directory tree the feed is mirrored into; the
	// author's posts land in TargetDir/<author>/.
	TargetDir string `koanf:"target_dir" default:"./boosty-downloads"`

	AccessToken string `koanf:"access_token"`
	Cookie      string `koanf:"cookie"`
	APIBaseURL  string `koanf:"api_base_url" default:"https://api.boosty.to/v1"`

	PageLimit      int           `koanf:"page_limit" default:"10" validate:"min=1,max=100"`
	Workers        int           `koanf:"workers" default:"4" validate:"min=1,max=32"`
	RequestTimeout time.Duration `koanf:"request_timeout" default:"2m"`

	RetryAttempts  int           `koanf:"retry_attempts" default:"5" validate:"min=1,max=20"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" default:"1s"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay" default:"30s"`

	// ContentTypes restricts which part types are downloaded. Empty means
	// everything.
	ContentTypes []string `koanf:"content_types" validate:"dive,oneof=video external_video_ref file image audio"`

	// FailedLogPath is where the failed-download report goes. Empty
	// disables the report.
	FailedLogPath string `koanf:"failed_log_path" default:"failed_downloads.log"`

	DatabaseDebug bool `koanf:"database_debug"`
}

// Validate checks the assembled configuration. It runs separately from Load
// so callers can merge CLI flags in before validating.
func (c *Config) Validate() error {
	return errors.Wrap(validator.New().Struct(c), "invalid configuration")
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when empty), then BOOSTY_* environment variables. The result is
// not yet validated; call Validate once all overrides are applied.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %q", path)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	return cfg, nil
}
