// Package builder rebuilds decoded transactions through the wallet's
// transaction builder over JSON-RPC.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/walletkit/history-migrator/pkg/metrics"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/types/history"
)

// Client calls the builder's JSON-RPC endpoint once per transaction.
type Client struct {
	rpc     *rpc.Client
	method  string
	timeout time.Duration
	metrics *metrics.Metrics // nil if metrics disabled
}

var _ migration.Builder = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCallTimeout bounds every builder call. Zero means no bound beyond the
// caller's context.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMethod overrides the RPC method name.
func WithMethod(method string) Option {
	return func(c *Client) {
		if method != "" {
			c.method = method
		}
	}
}

// New dials the builder at url (http, ws or ipc).
func New(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial builder rpc: %w", err)
	}
	return NewWithRPC(c, opts...), nil
}

// NewWithRPC wraps an already connected RPC client.
func NewWithRPC(c *rpc.Client, opts ...Option) *Client {
	client := &Client{
		rpc:    c,
		method: DefaultMethod,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BuildDecodedTx asks the builder to decode params. A null result is
// returned as (nil, nil).
func (c *Client) BuildDecodedTx(ctx context.Context, params history.BuildParams) (*history.DecodedTx, error) {
	start := time.Now()

	c.metrics.IncBuilderInFlight()
	defer c.metrics.DecBuilderInFlight()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var out *history.DecodedTx
	err := c.rpc.CallContext(ctx, &out, c.method, params)

	c.metrics.RecordBuilderCall(c.method, err, time.Since(start).Seconds())

	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.method, params.NetworkID, err)
	}
	return out, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}
