package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const clickhouseImage = "clickhouse/clickhouse-server:24.8"

// Credentials of the account created in the test container.
type Credentials struct {
	Database string
	Username string
	Password string
}

// StartClickHouse runs a single ClickHouse server with creds and returns the
// host:port of its native protocol endpoint together with a terminate func.
func StartClickHouse(ctx context.Context, creds Credentials) (string, func(context.Context) error, error) {
	req := testcontainers.ContainerRequest{
		Image:        clickhouseImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"CLICKHOUSE_DB":       creds.Database,
			"CLICKHOUSE_USER":     creds.Username,
			"CLICKHOUSE_PASSWORD": creds.Password,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(90 * time.Second),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to start clickhouse container: %w", err)
	}
	terminate := func(ctx context.Context) error { return c.Terminate(ctx) }

	host, err := c.Host(ctx)
	if err != nil {
		_ = terminate(ctx)
		return "", nil, err
	}
	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		_ = terminate(ctx)
		return "", nil, err
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), terminate, nil
}
