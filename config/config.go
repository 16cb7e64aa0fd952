package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server      ServerConfig
	Backend     BackendConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Attachments AttachmentsConfig
}

type ServerConfig struct {
	Addr           string        `envconfig:"SERVER_URL" default:"localhost:8080"`
	AllowedOrigins string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	PromptTimeout  time.Duration `envconfig:"PROMPT_TIMEOUT" default:"2m"`
	TokenFile      string        `envconfig:"TOKEN_FILE" default:".promessenger/token"`
}

// BackendConfig points at the remote platform API and its realtime socket.
type BackendConfig struct {
	APIBaseURL        string        `envconfig:"API_BASE_URL" required:"true"`
	SocketURL         string        `envconfig:"SOCKET_URL"`
	ReconnectAttempts uint64        `envconfig:"RECONNECT_ATTEMPTS" default:"5"`
	ReconnectDelay    time.Duration `envconfig:"RECONNECT_DELAY" default:"1s"`
}

// DatabaseConfig is optional, without it processed orders are only tracked in memory.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL"`
}

type RedisConfig struct {
	URL     string        `envconfig:"REDIS_URL"`
	LockTTL time.Duration `envconfig:"ORDER_LOCK_TTL" default:"2m"`
}

type AttachmentsConfig struct {
	MaxFiles   int    `envconfig:"MAX_ATTACHMENTS" default:"5"`
	MaxSize    int64  `envconfig:"MAX_ATTACHMENT_SIZE" default:"10485760"`
	MaxWidth   int    `envconfig:"OPTIMIZE_MAX_WIDTH" default:"1920"`
	MaxHeight  int    `envconfig:"OPTIMIZE_MAX_HEIGHT" default:"1080"`
	Quality    int    `envconfig:"OPTIMIZE_QUALITY" default:"80"`
	PreviewDir string `envconfig:"PREVIEW_DIR"`
}

// Origins splits ALLOWED_ORIGINS on commas.
func (s ServerConfig) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(s.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Socket falls back to the API host when SOCKET_URL is unset.
func (b BackendConfig) Socket() string {
	if b.SocketURL != "" {
		return b.SocketURL
	}
	base := strings.TrimRight(b.APIBaseURL, "/")
	base = strings.TrimSuffix(base, "/api")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return ""
	}
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
