package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":3000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	UploadDir       string        `env:"UPLOAD_DIR" envDefault:"./uploads"`
	UploadOrphanAge time.Duration `env:"UPLOAD_ORPHAN_AGE" envDefault:"1h"` // 0 disables the sweeper
	WebDir          string        `env:"WEB_DIR"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`
	AuthToken       string        `env:"AUTH_TOKEN"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	Provider        string        `env:"STT_PROVIDER" envDefault:"deepgram"`
	Model           string        `env:"STT_MODEL" envDefault:"nova-2"`
	Language        string        `env:"STT_LANGUAGE" envDefault:"en-US"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"0s"`

	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY"`
	DeepgramURL    string `env:"DEEPGRAM_URL" envDefault:"https://api.deepgram.com/v1/listen"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	MQTT MQTTConfig
}

// MQTTConfig configures the optional completion notifier. Disabled when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL string `env:"MQTT_BROKER_URL"`
	Topic     string `env:"MQTT_TOPIC" envDefault:"voxrelay/transcriptions"`
	ClientID  string `env:"MQTT_CLIENT_ID" envDefault:"voxrelay"`
	Username  string `env:"MQTT_USERNAME"`
	Password  string `env:"MQTT_PASSWORD"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.BrokerURL != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile   string
	HTTPAddr  string
	LogLevel  string
	UploadDir string
	WebDir    string
	Provider  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}
	if overrides.WebDir != "" {
		cfg.WebDir = overrides.WebDir
	}
	if overrides.Provider != "" {
		cfg.Provider = overrides.Provider
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case "whisper":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required when STT_PROVIDER=whisper")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q: must be deepgram or whisper", c.Provider)
	}
	return nil
}
