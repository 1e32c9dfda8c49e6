package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment with an
// optional .env file for local development.
type Config struct {
	Addr          string `env:"SERVER_ADDR" envDefault:":8080"`
	ValkeyAddr    string `env:"VALKEY_ADDR"`    // empty selects the in-memory store
	CatalogueURL  string `env:"CATALOGUE_URL"`  // empty selects the built-in static catalogue
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:5173"`
	CreatePolicy  string `env:"SESSION_CREATE_POLICY" envDefault:"reject"` // reject | replace
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env (when present) and then the environment.
func Load() (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
