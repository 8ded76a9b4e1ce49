package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ProjectID      string `env:"GOOGLE_CLOUD_PROJECT,required"`
	StorageBucket  string `env:"STORAGE_BUCKET,required"`
	AppURL         string `env:"APP_URL"`
	Port           string `env:"PORT" envDefault:"8080"`
	TokenBatchSize int    `env:"TOKEN_BATCH_SIZE" envDefault:"500"`
}

// Load reads .env if present, then parses the environment. AppURL is the deep
// link attached to push notifications; when empty no link is sent.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return &cfg, nil
}
