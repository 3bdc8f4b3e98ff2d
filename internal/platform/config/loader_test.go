package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, ".config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 9443
log:
  log_level: "DEBUG"
  log_dir: "/tmp/logs"
  log_file: "test.log"
gateway:
  type: ollama
  url: "http://vision:11434"
  read_timeout: 90s
gallery:
  cache:
    driver: none
`

	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	res, err := NewLoader().
		WithDotEnv(false).
		WithPath(configFile).
		WithEnv(envMap(nil)).
		Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := res.Config

	if res.Path != configFile {
		t.Errorf("expected path %s, got %s", configFile, res.Path)
	}
	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected server IP 127.0.0.1, got %s", cfg.Server.IP)
	}
	if cfg.Server.Port != 9443 {
		t.Errorf("expected server port 9443, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Gateway.Type != "ollama" || cfg.Gateway.BaseURL != "http://vision:11434" {
		t.Errorf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.Gateway.ReadTimeout != 90*time.Second {
		t.Errorf("expected 90s read timeout, got %s", cfg.Gateway.ReadTimeout)
	}
	// untouched sections keep their defaults
	if cfg.Store.ImagesDir != "images" {
		t.Errorf("expected default images dir, got %s", cfg.Store.ImagesDir)
	}
	if cfg.Evaluation.Prompt != DefaultPrompt {
		t.Error("expected default prompt")
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	res, err := NewLoader().
		WithDotEnv(false).
		WithPath("").
		WithEnv(envMap(map[string]string{
			"API_BASE":      "https://llm.example.com/v1",
			"API_KEY":       "secret",
			"APP_HOST":      "https://cam.example.com",
			"SSL_CERT_PATH": "/etc/tls/cert.pem",
			"SSL_KEY_PATH":  "/etc/tls/key.pem",
			"PORT":          "9000",
		})).
		Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config

	if cfg.Gateway.BaseURL != "https://llm.example.com/v1" || cfg.Gateway.APIKey != "secret" {
		t.Errorf("gateway env not applied: %+v", cfg.Gateway)
	}
	if cfg.Server.PublicHost != "https://cam.example.com" {
		t.Errorf("APP_HOST not applied: %s", cfg.Server.PublicHost)
	}
	if cfg.Server.TLS.CertFile != "/etc/tls/cert.pem" || cfg.Server.TLS.KeyFile != "/etc/tls/key.pem" {
		t.Errorf("tls env not applied: %+v", cfg.Server.TLS)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("PORT not applied: %d", cfg.Server.Port)
	}
}

func TestLoader_BadPort(t *testing.T) {
	_, err := NewLoader().
		WithDotEnv(false).
		WithEnv(envMap(map[string]string{"PORT": "eighty"})).
		Load()
	if err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	mutate := func(fn func(*Config)) *Config {
		cfg := DefaultConfig()
		fn(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "invalid server port",
			config:  mutate(func(c *Config) { c.Server.Port = 70000 }),
			wantErr: true,
		},
		{
			name:    "missing gateway url",
			config:  mutate(func(c *Config) { c.Gateway.BaseURL = " " }),
			wantErr: true,
		},
		{
			name:    "unknown gateway type",
			config:  mutate(func(c *Config) { c.Gateway.Type = "bard" }),
			wantErr: true,
		},
		{
			name:    "zero read timeout",
			config:  mutate(func(c *Config) { c.Gateway.ReadTimeout = 0 }),
			wantErr: true,
		},
		{
			name:    "redis without address",
			config:  mutate(func(c *Config) { c.Gallery.Cache.Driver = "redis" }),
			wantErr: true,
		},
		{
			name: "redis with address",
			config: mutate(func(c *Config) {
				c.Gallery.Cache.Driver = "redis"
				c.Gallery.Cache.Redis.Addr = "127.0.0.1:6379"
			}),
			wantErr: false,
		},
		{
			name:    "unknown cache driver",
			config:  mutate(func(c *Config) { c.Gallery.Cache.Driver = "memcached" }),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loader.validate(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
