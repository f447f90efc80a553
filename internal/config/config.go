package config

import (
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds server configuration values.
type Config struct {
	DBPath        string
	Addr          string
	JWTSecret     string
	SweepInterval time.Duration
}

// Load reads configuration from a .env file (if present) and the environment,
// with reasonable defaults. Command-line flags override these values.
func Load() Config {
	// Missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()

	cfg := Config{
		DBPath:        getenv("LABSTOCK_DB", "labstock.sqlite3"),
		Addr:          getenv("LABSTOCK_ADDR", ":8080"),
		JWTSecret:     os.Getenv("LABSTOCK_JWT_SECRET"),
		SweepInterval: 24 * time.Hour,
	}

	if v := os.Getenv("LABSTOCK_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			slog.Warn("invalid sweep interval, using default", "value", v)
		} else {
			cfg.SweepInterval = d
		}
	}

	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		slog.Warn("invalid listen address, using :8080", "value", cfg.Addr)
		cfg.Addr = ":8080"
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
