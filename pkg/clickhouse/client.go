package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Client is the ClickHouse connection used by the sink repositories.
type Client interface {
	Conn() driver.Conn
	Ping(ctx context.Context) error
	Close() error
}

var _ Client = (*client)(nil)

const defaultPingTimeout = 10 * time.Second

type client struct {
	conn driver.Conn
}

// New opens a connection for cfg and pings it within ctx, bounded by a
// default timeout. The connection is closed again if the ping fails.
func New(ctx context.Context, cfg Config, sugar *zap.SugaredLogger) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(cfg.options(sugar))
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		logPingError(sugar, cfg, err)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &client{conn: conn}, nil
}

func (cfg Config) options(sugar *zap.SugaredLogger) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": cfg.MaxExecutionTime,
			"max_block_size":     cfg.MaxBlockSize,
		},
		Compression:          &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:          time.Duration(cfg.DialTimeout) * time.Second,
		MaxOpenConns:         cfg.MaxOpenConns,
		MaxIdleConns:         cfg.MaxIdleConns,
		ConnMaxLifetime:      time.Duration(cfg.ConnMaxLifetime) * time.Minute,
		ConnOpenStrategy:     clickhouse.ConnOpenInOrder,
		BlockBufferSize:      uint8(cfg.BlockBufferSize),
		MaxCompressionBuffer: cfg.MaxCompressionBuffer,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: cfg.ClientName, Version: cfg.ClientVersion},
			},
		},
	}
	if cfg.TLS {
		//nolint:gosec // verification is configurable for self-signed dev clusters
		opts.TLS = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	}
	if cfg.Debug && sugar != nil {
		opts.Debug = true
		opts.Debugf = sugar.Debugf
	}
	return opts
}

func logPingError(sugar *zap.SugaredLogger, cfg Config, err error) {
	if sugar == nil {
		return
	}
	var exception *clickhouse.Exception
	if errors.As(err, &exception) {
		sugar.Errorw("ClickHouse rejected ping",
			"hosts", cfg.Hosts,
			"database", cfg.Database,
			"code", exception.Code,
			"message", exception.Message,
		)
		return
	}
	sugar.Errorw("failed to ping ClickHouse", "hosts", cfg.Hosts, "error", err)
}

func (c *client) Conn() driver.Conn {
	return c.conn
}

func (c *client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *client) Close() error {
	return c.conn.Close()
}
