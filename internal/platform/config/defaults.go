package config

import "time"

// DefaultPrompt asks the vision model for a short critique that ends with a
// single JSON verdict. The extractor only relies on that trailing object.
const DefaultPrompt = `You are a friendly photo critic looking at one webcam snapshot.
Comment briefly on the composition, lighting and the subject's expression.
Then decide whether this is a good picture worth keeping.
Finish your answer with exactly one JSON object and nothing after it:
{"good_picture": true or false, "rate": an integer from 1 to 5, "reason": "one sentence"}`

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:         "0.0.0.0",
			Port:       8443,
			PublicHost: "https://localhost:8443",
			StaticDir:  "./web",
			TLS: TLSConfig{
				CertFile: "certs/cert.pem",
				KeyFile:  "certs/key.pem",
			},
			RateLimit: RateLimitConfig{
				RPS:   20,
				Burst: 40,
			},
			WebSocket: WebSocketConfig{
				Path:             "/ws",
				HandshakeTimeout: 10 * time.Second,
				MaxMessageSize:   16 << 20,
				QueueSize:        4,
			},
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Gateway: GatewayConfig{
			Type:           "openai",
			BaseURL:        "http://localhost:11434/v1",
			APIKey:         "sk-not-needed",
			ModelName:      "gemma3:4b",
			Temperature:    0.7,
			TopP:           1,
			ReadTimeout:    120 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MaxIdleConns:   5,
			MaxConns:       10,
			DialRetries:    3,
		},
		Evaluation: EvaluationConfig{
			Prompt: DefaultPrompt,
		},
		Image: SecurityConfig{
			MaxFileSize:    5 * 1024 * 1024,
			MaxPixels:      16777216,
			MaxWidth:       4096,
			MaxHeight:      4096,
			AllowedFormats: []string{"jpeg", "png", "webp", "gif"},
			EnableDeepScan: true,
		},
		Store: StoreConfig{
			Root:       "static",
			ImagesDir:  "images",
			RatesDir:   "rates",
			ReasonsDir: "reasons",
			URLPrefix:  "/static",
		},
		Gallery: GalleryConfig{
			Cache: CacheConfig{
				Driver: "memory",
				TTL:    30 * time.Second,
				Redis: RedisConfig{
					Prefix: "camrate:gallery:",
				},
			},
		},
		Database: DatabaseConfig{
			DSN:              "data/camrate.db",
			HistoryRetention: 30 * 24 * time.Hour,
		},
	}
}
