// Package config resolves operator console configuration from the
// environment, optionally seeded from a dotenv file. Real environment
// variables always win over file values.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

// Config holds all operator console configuration.
type Config struct {
	// Provider selects the session adapter: "gemini" or "vapi".
	Provider string

	// Mode is the initial analysis lifecycle policy.
	Mode bridge.Mode

	// GeminiAPIKey authenticates the native-audio provider.
	GeminiAPIKey string

	// GeminiModel overrides the default live model.
	GeminiModel string

	// VapiAPIKey authenticates the orchestrated provider.
	VapiAPIKey string

	// CaptureSampleRate is the requested device rate in Hz.
	CaptureSampleRate int

	// ConnectTimeout bounds session establishment.
	ConnectTimeout time.Duration

	// DatabaseURL enables session archiving when set.
	DatabaseURL string

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Load seeds the environment from path (ignored when missing) and
// resolves a Config. It does not validate provider credentials; the
// adapters do that pre-flight.
func Load(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, bridge.NewConfigError("load env file " + path + ": " + err.Error())
		}
	}

	cfg := Config{
		Provider:          getenv("CALLSENSEI_PROVIDER", "gemini"),
		Mode:              bridge.Mode(getenv("CALLSENSEI_MODE", string(bridge.ModeContinuous))),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       os.Getenv("GEMINI_MODEL"),
		VapiAPIKey:        os.Getenv("VAPI_API_KEY"),
		CaptureSampleRate: getenvInt("CALLSENSEI_CAPTURE_RATE", 48000),
		ConnectTimeout:    getenvDuration("CALLSENSEI_CONNECT_TIMEOUT", bridge.DefaultConnectTimeout),
		DatabaseURL:       os.Getenv("CALLSENSEI_DATABASE_URL"),
		MetricsAddr:       os.Getenv("CALLSENSEI_METRICS_ADDR"),
		LogLevel:          getenv("CALLSENSEI_LOG_LEVEL", "info"),
	}

	if cfg.Mode != bridge.ModeContinuous && cfg.Mode != bridge.ModeSingleShot {
		return Config{}, bridge.NewConfigError("CALLSENSEI_MODE must be continuous or single_shot")
	}
	if cfg.Provider != "gemini" && cfg.Provider != "vapi" {
		return Config{}, bridge.NewConfigError("CALLSENSEI_PROVIDER must be gemini or vapi")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
