// Package config loads server settings from the environment, with a .env
// file picked up in development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// DatabaseURL is the postgres DSN. Empty selects the in-memory store.
	DatabaseURL string

	// DraftBotURL is the base URL of the external rating service.
	DraftBotURL string

	// AutoPickDelay is how long a pickrandom/trashrandom step waits before
	// resolving itself.
	AutoPickDelay time.Duration
}

func Load() (Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		Addr:          getenv("ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DraftBotURL:   getenv("DRAFTBOT_URL", "http://localhost:5000"),
		AutoPickDelay: time.Second,
	}

	if v := os.Getenv("AUTO_PICK_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTO_PICK_DELAY: %w", err)
		}
		cfg.AutoPickDelay = d
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
