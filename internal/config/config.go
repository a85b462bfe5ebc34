// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// DatabaseURL is an optional Postgres connection string. When empty the
	// server runs on SQLite at SQLitePath.
	DatabaseURL string

	// SQLitePath is the SQLite database file. Defaults to "carshare.db";
	// ":memory:" is accepted.
	SQLitePath string

	// JWTSecret signs rider session tokens. Required.
	JWTSecret string

	// JWTTTL is the rider session lifetime. Defaults to 24h.
	JWTTTL time.Duration

	// CarAPIKey authorizes telematics clients at /car/register and
	// CAR_CONNECT. Defaults to the lab key used by the simulator.
	CarAPIKey string

	// LogLevel is "debug" or "info". Defaults to "info".
	LogLevel string

	// MaxStartDistanceKm is the start-rental proximity policy. Defaults to 2.
	MaxStartDistanceKm float64
}

// Load reads configuration from the environment. It returns an error when
// JWT_SECRET is unset.
func Load() (Config, error) {
	cfg := Config{
		Port:               getEnv("HTTP_PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "carshare.db"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		CarAPIKey:          getEnv("CAR_API_KEY", "car-lab-key"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		JWTTTL:             24 * time.Hour,
		MaxStartDistanceKm: 2,
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("required environment variable not set: JWT_SECRET")
	}
	if s := os.Getenv("JWT_EXPIRES_IN"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Config{}, fmt.Errorf("JWT_EXPIRES_IN: %w", err)
		}
		cfg.JWTTTL = d
	}
	if s := os.Getenv("MAX_START_DISTANCE_KM"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Config{}, fmt.Errorf("MAX_START_DISTANCE_KM: %w", err)
		}
		cfg.MaxStartDistanceKm = f
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
