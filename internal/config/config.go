package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	LLM      LLMConfig
	Game     GameConfig
}

type ServerConfig struct {
	Port           string
	GinMode        string
	AllowedOrigins []string
	APIKey         string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type LLMConfig struct {
	Provider string // openai | ollama | openai-compatible
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// GameConfig carries the orchestrator pacing and validation knobs. Delays are
// stored as durations; env values are milliseconds (seconds for countdowns).
type GameConfig struct {
	AISpeakDelay       time.Duration
	AIVoteDelay        time.Duration
	AINightDelay       time.Duration
	PhaseDelay         time.Duration
	SpeechStreamChunk  time.Duration
	CinematicNight     time.Duration
	CinematicDawn      time.Duration
	CinematicDeath     time.Duration
	LLMRetry           int
	SpeechSimThreshold float64
	VoteSimThreshold   float64
	SpeechCountdownSec int
	VoteCountdownSec   int
	SpeechSkipLimit    int
}

// Load reads configuration from the environment. Defaults are development
// values; release mode fails fast on missing secrets.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			GinMode:        getEnv("GIN_MODE", "debug"),
			AllowedOrigins: []string{getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")},
			APIKey:         getEnv("API_KEY", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "werewolf"),
			Password: getEnv("DB_PASSWORD", "werewolf_password"),
			Name:     getEnv("DB_NAME", "werewolf_arena"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-secret-change-me"),
			Expiry: time.Duration(getEnvAsInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", "openai"),
			Model:    getEnv("LLM_MODEL", "gpt-4o-mini"),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			APIKey:   getEnv("LLM_API_KEY", ""),
			Timeout:  time.Duration(getEnvAsInt("LLM_TIMEOUT_SEC", 60)) * time.Second,
		},
		Game: GameConfig{
			AISpeakDelay:       msEnv("AI_SPEAK_DELAY_MS", 1700),
			AIVoteDelay:        msEnv("AI_VOTE_DELAY_MS", 1300),
			AINightDelay:       msEnv("AI_NIGHT_DELAY_MS", 1200),
			PhaseDelay:         msEnv("PHASE_DELAY_MS", 800),
			SpeechStreamChunk:  msEnv("SPEECH_STREAM_CHUNK_MS", 120),
			CinematicNight:     msEnv("CINEMATIC_NIGHT_MS", 1200),
			CinematicDawn:      msEnv("CINEMATIC_DAWN_MS", 1200),
			CinematicDeath:     msEnv("CINEMATIC_DEATH_MS", 1600),
			LLMRetry:           getEnvAsInt("LLM_RETRY", 2),
			SpeechSimThreshold: getEnvAsFloat("SPEECH_SIMILARITY_THRESHOLD", 0.45),
			VoteSimThreshold:   getEnvAsFloat("VOTE_REASON_SIMILARITY_THRESHOLD", 0.46),
			SpeechCountdownSec: getEnvAsInt("SPEECH_COUNTDOWN_SEC", 18),
			VoteCountdownSec:   getEnvAsInt("VOTE_COUNTDOWN_SEC", 12),
			SpeechSkipLimit:    getEnvAsInt("SPEECH_SKIP_LIMIT", 1),
		},
	}

	if cfg.Server.GinMode == "release" {
		if cfg.JWT.Secret == "" || cfg.JWT.Secret == "dev-secret-change-me" {
			return nil, fmt.Errorf("JWT_SECRET must be set in release mode")
		}
		if cfg.Server.APIKey == "" {
			return nil, fmt.Errorf("API_KEY must be set in release mode")
		}
	}
	return cfg, nil
}

// ConnectionString builds the postgres connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Addr returns the redis host:port address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func msEnv(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}
