package builder

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const DefaultMethod = "wallet_buildDecodedTx"

// Config holds the builder RPC settings.
type Config struct {
	URL         string        `env:"BUILDER_RPC_URL" envDefault:"http://localhost:8545"`
	Method      string        `env:"BUILDER_RPC_METHOD" envDefault:"wallet_buildDecodedTx"`
	CallTimeout time.Duration `env:"BUILDER_CALL_TIMEOUT" envDefault:"10s"`
}

// Load reads the builder configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse builder config: %w", err)
	}
	return cfg, nil
}
