// Package config reads and validates the bridge's environment configuration.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Supported session/dedup state backends.
const (
	BackendUpstash  = "upstash"
	BackendDynamoDB = "dynamodb"
)

// Config holds everything the process reads from the environment. Secrets
// never live here; they are fetched from SSM under ParamPrefix at runtime.
type Config struct {
	ParamPrefix     string `env:"PARAM_PREFIX,required,notEmpty"`
	StateBackend    string `env:"STATE_BACKEND" envDefault:"upstash"`
	UpstashURL      string `env:"UPSTASH_REDIS_REST_URL"`
	StateTable      string `env:"STATE_TABLE"`
	MaxHistoryTurns int    `env:"MAX_HISTORY_TURNS" envDefault:"50"`
}

// Load parses the environment and validates backend-specific requirements.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StateBackend {
	case BackendUpstash:
		if c.UpstashURL == "" {
			return fmt.Errorf("config: UPSTASH_REDIS_REST_URL is required for the %s backend", BackendUpstash)
		}
	case BackendDynamoDB:
		if c.StateTable == "" {
			return fmt.Errorf("config: STATE_TABLE is required for the %s backend", BackendDynamoDB)
		}
	default:
		return fmt.Errorf("config: unknown STATE_BACKEND %q", c.StateBackend)
	}
	return nil
}
