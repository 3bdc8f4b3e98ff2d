package config

import (
	"time"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Evaluation    EvaluationConfig    `yaml:"evaluation"`
	Image         SecurityConfig      `yaml:"image"`
	Store         StoreConfig         `yaml:"store"`
	Gallery       GalleryConfig       `yaml:"gallery"`
	Database      DatabaseConfig      `yaml:"database"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	IP              string          `yaml:"ip"`
	Port            int             `yaml:"port"`
	PublicHost      string          `yaml:"public_host"`
	ForcePublicHost bool            `yaml:"force_public_host"`
	StaticDir       string          `yaml:"static_dir"`
	TLS             TLSConfig       `yaml:"tls"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	WebSocket       WebSocketConfig `yaml:"websocket"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RateLimitConfig 每个客户端IP的令牌桶，RPS为0时关闭限流
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type WebSocketConfig struct {
	Path             string        `yaml:"path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	QueueSize        int           `yaml:"queue_size"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type GatewayConfig struct {
	Type           string        `yaml:"type"`
	BaseURL        string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	ModelName      string        `yaml:"model_name"`
	Temperature    float64       `yaml:"temperature"`
	TopP           float64       `yaml:"top_p"`
	MaxTokens      int           `yaml:"max_tokens"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxIdleConns   int           `yaml:"max_idle_conns"`
	MaxConns       int           `yaml:"max_conns"`
	DialRetries    int           `yaml:"dial_retries"`
	StripThink     bool          `yaml:"strip_think"`
	SkipTLSVerify  bool          `yaml:"skip_tls_verify"`
}

type EvaluationConfig struct {
	Prompt string `yaml:"prompt"`
}

// SecurityConfig bounds what an inbound frame may contain.
type SecurityConfig struct {
	MaxFileSize          int64    `yaml:"max_file_size"`
	MaxPixels            int64    `yaml:"max_pixels"`
	MaxWidth             int      `yaml:"max_width"`
	MaxHeight            int      `yaml:"max_height"`
	AllowedFormats       []string `yaml:"allowed_formats"`
	UpstreamMaxDimension int      `yaml:"upstream_max_dimension"`
	EnableDeepScan       bool     `yaml:"enable_deep_scan"`
}

type StoreConfig struct {
	Root       string `yaml:"root"`
	ImagesDir  string `yaml:"images_dir"`
	RatesDir   string `yaml:"rates_dir"`
	ReasonsDir string `yaml:"reasons_dir"`
	URLPrefix  string `yaml:"url_prefix"`
}

type GalleryConfig struct {
	Cache CacheConfig `yaml:"cache"`
}

type CacheConfig struct {
	Driver string        `yaml:"driver"`
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}
