package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Backend
	BackendURL  string
	HTTPTimeout time.Duration
	UserID      string

	// Voice defaults
	InteractionMode   string // "push_to_talk", "continuous" or "disabled"
	PlaybackVolume    int
	VADEnabled        bool
	VoiceIdentity     string
	AutoPlayResponses bool
	NoiseSuppression  float64
	PersistRecordings bool

	// Continuous mode
	SilenceHoldMS int

	// Local history
	StoreDir string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	cfg := &Config{
		BackendURL:  getEnvOrDefault("BACKEND_URL", "http://localhost:8000"),
		HTTPTimeout: time.Duration(getIntEnvOrDefault("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		UserID:      os.Getenv("USER_ID"),

		InteractionMode:   getEnvOrDefault("INTERACTION_MODE", "push_to_talk"),
		PlaybackVolume:    getIntEnvOrDefault("PLAYBACK_VOLUME", 80),
		VADEnabled:        getBoolEnvOrDefault("VAD_ENABLED", true),
		VoiceIdentity:     getEnvOrDefault("VOICE_IDENTITY", "Triage Agent"),
		AutoPlayResponses: getBoolEnvOrDefault("AUTO_PLAY_RESPONSES", true),
		NoiseSuppression:  getFloatEnvOrDefault("NOISE_SUPPRESSION", 0.5),
		PersistRecordings: getBoolEnvOrDefault("PERSIST_RECORDINGS", false),

		SilenceHoldMS: getIntEnvOrDefault("SILENCE_HOLD_MS", 1500),

		StoreDir: getEnvOrDefault("STORE_DIR", "./data"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}

	switch c.InteractionMode {
	case "push_to_talk", "continuous", "disabled":
	default:
		return fmt.Errorf("INTERACTION_MODE must be 'push_to_talk', 'continuous' or 'disabled'")
	}

	if c.PlaybackVolume < 0 || c.PlaybackVolume > 100 {
		return fmt.Errorf("PLAYBACK_VOLUME must be between 0 and 100")
	}

	if c.NoiseSuppression < 0 || c.NoiseSuppression > 1 {
		return fmt.Errorf("NOISE_SUPPRESSION must be between 0.0 and 1.0")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
