package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DefaultSTUNURL = "stun:stun.l.google.com:19302"

	defaultSessionTTL         = 30 * time.Minute
	defaultNegotiationTimeout = 15 * time.Second
	defaultICEGatherTimeout   = 10 * time.Second
)

// TURN holds the all-or-nothing TURN relay settings.
type TURN struct {
	URL        string
	Username   string
	Credential string
}

// Pipeline names the STT/TTS backends the bot is expected to run with.
type Pipeline struct {
	STT string
	TTS string
}

type Config struct {
	Host string
	Port string

	STUNURL string
	TURN    TURN

	Pipeline Pipeline
	APIKeys  map[string]string

	SessionTTL         time.Duration
	NegotiationTimeout time.Duration
	ICEGatherTimeout   time.Duration

	AllowedOrigins []string
	APIToken       string
	ClientDir      string

	AppEnv   string
	LogLevel string

	// Warnings collects non-fatal problems found while loading, logged once
	// the logger exists.
	Warnings []string
}

func Load() *Config {
	cfg := &Config{
		Host:    getEnv("HOST", "0.0.0.0"),
		Port:    getEnv("PORT", getEnv("SERVER_PORT", "7860")),
		STUNURL: getEnv("STUN_URL", DefaultSTUNURL),
		TURN: TURN{
			URL:        os.Getenv("TURN_URL"),
			Username:   os.Getenv("TURN_USERNAME"),
			Credential: os.Getenv("TURN_CREDENTIAL"),
		},
		Pipeline: Pipeline{
			STT: getEnv("PIPELINE_STT", "deepgram"),
			TTS: getEnv("PIPELINE_TTS", "openai"),
		},
		APIKeys: map[string]string{
			"DEEPGRAM_API_KEY": os.Getenv("DEEPGRAM_API_KEY"),
			"OPENAI_API_KEY":   os.Getenv("OPENAI_API_KEY"),
		},
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		APIToken:       strings.TrimSpace(os.Getenv("API_TOKEN")),
		ClientDir:      os.Getenv("CLIENT_DIR"),
		AppEnv:         getEnv("APP_ENV", "production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	cfg.SessionTTL = cfg.getDuration("SESSION_TTL", defaultSessionTTL)
	cfg.NegotiationTimeout = cfg.getDuration("NEGOTIATION_TIMEOUT", defaultNegotiationTimeout)
	cfg.ICEGatherTimeout = cfg.getDuration("ICE_GATHER_TIMEOUT", defaultICEGatherTimeout)

	return cfg
}

// Addr is the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// MissingAPIKeys lists the provider keys the configured pipeline needs but
// that are unset or still hold a "your_..." placeholder.
func (c *Config) MissingAPIKeys() []string {
	var required []string
	switch c.Pipeline.STT {
	case "deepgram":
		required = append(required, "DEEPGRAM_API_KEY")
	case "whisper":
		required = append(required, "OPENAI_API_KEY")
	}
	// The LLM always runs on OpenAI.
	required = append(required, "OPENAI_API_KEY")

	seen := make(map[string]bool)
	var missing []string
	for _, key := range required {
		if seen[key] {
			continue
		}
		seen[key] = true
		v := strings.TrimSpace(c.APIKeys[key])
		if v == "" || strings.HasPrefix(v, "your_") {
			missing = append(missing, key)
		}
	}
	return missing
}

func (c *Config) getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using %s", key, raw, fallback))
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
