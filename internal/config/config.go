package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrMissingSecret = errors.New("config: JWT_SECRET is required unless DEV_AUTH is enabled")

type Config struct {
	Port        string
	DatabaseURL string // empty selects the in-memory store
	LogLevel    string

	RoomCapacity  int
	ScaledRewards bool

	JWTSecret string
	DevAuth   bool // trust X-User-ID instead of bearer tokens
	Admins    []string

	ProgressRate    float64 // updates per second per user
	ProgressBurst   int
	SettlementQueue int
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RoomCapacity:    clamp(getEnvInt("ROOM_CAPACITY", 5), 2, 5),
		ScaledRewards:   getEnvBool("SCALED_REWARDS", true),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DevAuth:         getEnvBool("DEV_AUTH", false),
		Admins:          getEnvList("ADMIN_USERS"),
		ProgressRate:    getEnvFloat("PROGRESS_RATE", 20),
		ProgressBurst:   getEnvInt("PROGRESS_BURST", 40),
		SettlementQueue: getEnvInt("SETTLEMENT_QUEUE", 256),
	}
	if cfg.JWTSecret == "" && !cfg.DevAuth {
		return cfg, ErrMissingSecret
	}
	return cfg, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
