package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"camrate-server-go/internal/platform/errors"
)

var defaultConfigFiles = []string{".config.yaml", "config.yaml"}

// Loader layers defaults, an optional yaml file, .env and the process
// environment, in that order.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that honours CONFIG_PATH and a local .env file.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the yaml file instead of searching the defaults.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindConfig, "config.dotenv", "failed to parse .env", err)
		}
	}

	cfg := DefaultConfig()

	path, err := l.resolvePath()
	if err != nil {
		return nil, err
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.read", "failed to read "+path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.parse", "failed to parse "+path, err)
		}
	} else {
		path = "defaults"
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() (string, error) {
	if l.path != "" {
		return l.path, nil
	}
	if p, ok := l.lookupEnv("CONFIG_PATH"); ok && p != "" {
		return p, nil
	}
	for _, candidate := range defaultConfigFiles {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	str("API_BASE", &cfg.Gateway.BaseURL)
	str("API_KEY", &cfg.Gateway.APIKey)
	str("MODEL_NAME", &cfg.Gateway.ModelName)
	str("APP_HOST", &cfg.Server.PublicHost)
	str("SSL_CERT_PATH", &cfg.Server.TLS.CertFile)
	str("SSL_KEY_PATH", &cfg.Server.TLS.KeyFile)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("STORE_ROOT", &cfg.Store.Root)
	str("GALLERY_CACHE_DRIVER", &cfg.Gallery.Cache.Driver)
	str("REDIS_ADDR", &cfg.Gallery.Cache.Redis.Addr)
	str("DATABASE_DSN", &cfg.Database.DSN)

	if v, ok := l.lookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.KindConfig, "config.env", "PORT must be an integer", err)
		}
		cfg.Server.Port = port
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("invalid server port %d", cfg.Server.Port))
	}
	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		return errors.New(errors.KindConfig, "config.validate", "gateway url is required")
	}
	switch strings.ToLower(cfg.Gateway.Type) {
	case "openai", "ollama":
	default:
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("unsupported gateway type %q", cfg.Gateway.Type))
	}
	if cfg.Gateway.ReadTimeout <= 0 {
		return errors.New(errors.KindConfig, "config.validate", "gateway read_timeout must be positive")
	}
	switch strings.ToLower(cfg.Gallery.Cache.Driver) {
	case "", "none", "memory":
	case "redis":
		if cfg.Gallery.Cache.Redis.Addr == "" {
			return errors.New(errors.KindConfig, "config.validate", "redis cache requires gallery.cache.redis.addr")
		}
	default:
		return errors.New(errors.KindConfig, "config.validate", fmt.Sprintf("unsupported cache driver %q", cfg.Gallery.Cache.Driver))
	}
	return nil
}
