package clickhouse

import (
	"errors"
	"fmt"
	"math"

	"github.com/caarlos0/env/v11"
)

// Config holds the connection settings of the ClickHouse sink.
// MaxBlockSize is the max_block_size setting applied to inserts.
type Config struct {
	Hosts                []string `env:"CLICKHOUSE_HOSTS" envSeparator:"," envDefault:"localhost:9000"`
	Database             string   `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	Username             string   `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password             string   `env:"CLICKHOUSE_PASSWORD" envDefault:""`
	Debug                bool     `env:"CLICKHOUSE_DEBUG" envDefault:"false"`
	TLS                  bool     `env:"CLICKHOUSE_TLS" envDefault:"false"`
	InsecureSkipVerify   bool     `env:"CLICKHOUSE_INSECURE_SKIP_VERIFY" envDefault:"false"`
	MaxExecutionTime     int      `env:"CLICKHOUSE_MAX_EXECUTION_TIME" envDefault:"60"` // seconds
	DialTimeout          int      `env:"CLICKHOUSE_DIAL_TIMEOUT" envDefault:"30"`       // seconds
	MaxOpenConns         int      `env:"CLICKHOUSE_MAX_OPEN_CONNS" envDefault:"5"`
	MaxIdleConns         int      `env:"CLICKHOUSE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime      int      `env:"CLICKHOUSE_CONN_MAX_LIFETIME" envDefault:"10"` // minutes
	BlockBufferSize      int      `env:"CLICKHOUSE_BLOCK_BUFFER_SIZE" envDefault:"10"`
	MaxBlockSize         int      `env:"CLICKHOUSE_MAX_BLOCK_SIZE" envDefault:"1000"`
	MaxCompressionBuffer int      `env:"CLICKHOUSE_MAX_COMPRESSION_BUFFER" envDefault:"10240"` // bytes
	ClientName           string   `env:"CLICKHOUSE_CLIENT_NAME" envDefault:"history-migrator"`
	ClientVersion        string   `env:"CLICKHOUSE_CLIENT_VERSION" envDefault:"1.0"`
}

// Load reads the ClickHouse configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse clickhouse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the driver would silently misread.
func (cfg Config) Validate() error {
	var errs []error
	if len(cfg.Hosts) == 0 {
		errs = append(errs, errors.New("at least one host is required"))
	}
	for _, h := range cfg.Hosts {
		if h == "" {
			errs = append(errs, errors.New("empty host"))
			break
		}
	}
	if cfg.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if cfg.BlockBufferSize < 0 || cfg.BlockBufferSize > math.MaxUint8 {
		errs = append(errs, fmt.Errorf("block buffer size must be within [0, %d], got %d", math.MaxUint8, cfg.BlockBufferSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid clickhouse config: %w", errors.Join(errs...))
	}
	return nil
}
