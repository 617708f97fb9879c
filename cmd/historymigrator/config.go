package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/walletkit/history-migrator/pkg/builder"
	"github.com/walletkit/history-migrator/pkg/clickhouse"
	"github.com/walletkit/history-migrator/pkg/kafka"
	"github.com/walletkit/history-migrator/pkg/postgres"
	"github.com/walletkit/history-migrator/pkg/runmarker"
)

// SinkConfig selects and configures the current pending-history store.
type SinkConfig struct {
	Kind           string
	PendingTable   string
	MarkerTable    string
	PersistTimeout time.Duration
	Postgres       postgres.Config
	ClickHouse     clickhouse.Config
}

// Config holds all configuration for the run command.
type Config struct {
	Verbose bool

	// Legacy store
	LegacyDBPath string
	Generation   string

	Builder builder.Config
	Sink    SinkConfig
	Report  kafka.ReportConfig
	Marker  runmarker.Config

	Strict bool
	Force  bool

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	sink, err := buildSinkConfig(c)
	if err != nil {
		return nil, err
	}

	markerCfg := runmarker.DefaultConfig()
	if d := c.Duration("marker-write-timeout"); d > 0 {
		markerCfg.WriteTimeout = d
	}
	if n := c.Int("marker-max-retries"); n >= 0 {
		markerCfg.MaxRetries = n
	}

	return &Config{
		Verbose:      c.Bool("verbose"),
		LegacyDBPath: c.String("legacy-db"),
		Generation:   c.String("generation"),
		Builder:      buildBuilderConfig(c),
		Sink:         sink,
		Report: kafka.ReportConfig{
			BootstrapServers:  c.String("kafka-bootstrap-servers"),
			Topic:             c.String("kafka-report-topic"),
			ClientID:          c.String("kafka-client-id"),
			Partitions:        c.Int("kafka-report-partitions"),
			ReplicationFactor: c.Int("kafka-report-replication-factor"),
			BufferSize:        c.Int("kafka-report-buffer-size"),
			FlushTimeout:      c.Duration("kafka-flush-timeout"),
			EnableLogs:        c.Bool("kafka-enable-logs"),
		}.WithDefaults(),
		Marker:        markerCfg,
		Strict:        c.Bool("strict"),
		Force:         c.Bool("force"),
		MetricsHost:   c.String("metrics-host"),
		MetricsPort:   c.Int("metrics-port"),
		Environment:   c.String("environment"),
		Region:        c.String("region"),
		CloudProvider: c.String("cloud-provider"),
	}, nil
}

func buildBuilderConfig(c *cli.Context) builder.Config {
	return builder.Config{
		URL:         c.String("builder-url"),
		Method:      c.String("builder-method"),
		CallTimeout: c.Duration("builder-timeout"),
	}
}

// buildSinkConfig builds the current-store settings shared by run and reset.
func buildSinkConfig(c *cli.Context) (SinkConfig, error) {
	kind := strings.ToLower(strings.TrimSpace(c.String("sink")))
	switch kind {
	case sinkPostgres, sinkClickHouse:
	default:
		return SinkConfig{}, fmt.Errorf("invalid sink %q: must be %s or %s", c.String("sink"), sinkPostgres, sinkClickHouse)
	}

	maxConns := c.Int("postgres-max-conns")
	if maxConns <= 0 {
		return SinkConfig{}, fmt.Errorf("postgres-max-conns must be > 0, got %d", maxConns)
	}

	return SinkConfig{
		Kind:           kind,
		PendingTable:   c.String("pending-table"),
		MarkerTable:    c.String("marker-table"),
		PersistTimeout: c.Duration("persist-timeout"),
		Postgres: postgres.Config{
			DSN:             c.String("postgres-dsn"),
			MaxConns:        int32(maxConns),
			ConnectTimeout:  c.Int("postgres-connect-timeout"),
			ConnMaxLifetime: c.Int("postgres-conn-max-lifetime"),
		},
		ClickHouse: buildClickHouseConfig(c),
	}, nil
}

// buildClickHouseConfig builds a clickhouse.Config from CLI context flags
func buildClickHouseConfig(c *cli.Context) clickhouse.Config {
	// a single env value arrives as one comma-separated element
	hosts := c.StringSlice("clickhouse-hosts")
	if len(hosts) == 1 && strings.Contains(hosts[0], ",") {
		hosts = strings.Split(hosts[0], ",")
		for i, host := range hosts {
			hosts[i] = strings.TrimSpace(host)
		}
	}

	return clickhouse.Config{
		Hosts:                hosts,
		Database:             c.String("clickhouse-database"),
		Username:             c.String("clickhouse-username"),
		Password:             c.String("clickhouse-password"),
		Debug:                c.Bool("clickhouse-debug"),
		TLS:                  c.Bool("clickhouse-tls"),
		InsecureSkipVerify:   c.Bool("clickhouse-insecure-skip-verify"),
		MaxExecutionTime:     c.Int("clickhouse-max-execution-time"),
		DialTimeout:          c.Int("clickhouse-dial-timeout"),
		MaxOpenConns:         c.Int("clickhouse-max-open-conns"),
		MaxIdleConns:         c.Int("clickhouse-max-idle-conns"),
		ConnMaxLifetime:      c.Int("clickhouse-conn-max-lifetime"),
		BlockBufferSize:      c.Int("clickhouse-block-buffer-size"),
		MaxBlockSize:         c.Int("clickhouse-max-block-size"),
		MaxCompressionBuffer: c.Int("clickhouse-max-compression-buffer"),
		ClientName:           c.String("clickhouse-client-name"),
		ClientVersion:        c.String("clickhouse-client-version"),
	}
}
