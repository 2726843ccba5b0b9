package gallows

import (
	"net/url"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultAssets is the pre-cache list of the Gallows page.
var DefaultAssets = []string{
	"./",
	"./index.html",
	"./manifest.json",
	"./the_gallows.html",
	"./icon-192.png",
	"./icon-512.png",
}

const DefaultCacheName = "gallows-cache-v1"

type Config struct {
	Listen      string        `yaml:"listen" env:"LISTEN" validate:"required"`
	Origin      string        `yaml:"origin" env:"ORIGIN" validate:"required,url"`
	CacheName   string        `yaml:"cache_name" env:"CACHE_NAME" validate:"required"`
	Assets      []string      `yaml:"assets" env:"ASSETS" envSeparator:","`
	Feeds       []string      `yaml:"feeds" env:"FEEDS" envSeparator:","`
	MetricsPath string        `yaml:"metrics_path" env:"METRICS_PATH" validate:"omitempty,startswith=/"`
	Storage     StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Log         LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" env:"DRIVER" validate:"oneof=memory sqlite redis"`
	Path        string `yaml:"path" env:"PATH" validate:"required_if=Driver sqlite"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR" validate:"required_if=Driver redis"`
	RedisPrefix string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=console json"`
}

func DefaultConfig() Config {
	return Config{
		Listen:      ":8080",
		Origin:      "http://localhost:8000/",
		CacheName:   DefaultCacheName,
		Assets:      slices.Clone(DefaultAssets),
		MetricsPath: "/metrics",
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./cache.sqlite3",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

var validate = validator.New()

// LoadConfig reads the YAML file at path over the defaults, applies
// GALLOWS_* environment overrides and validates the result. An empty path
// skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		d, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(d, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", path)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "GALLOWS_"}); err != nil {
		return Config{}, errors.Wrap(err, "environment")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	u, err := url.Parse(c.Origin)
	if err != nil || !u.IsAbs() {
		return errors.Wrapf(ErrInvalidConfig, "origin %q is not absolute", c.Origin)
	}
	return nil
}

func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return u, nil
}

// Redeploys reports whether moving from c to next needs a new worker.
func (c Config) Redeploys(next Config) bool {
	return c.CacheName != next.CacheName ||
		c.Origin != next.Origin ||
		!slices.Equal(c.Assets, next.Assets) ||
		!slices.Equal(c.Feeds, next.Feeds)
}
