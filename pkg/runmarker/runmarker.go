// Package runmarker records which legacy store generations have already been
// migrated, so a restarted process does not migrate the same data twice.
package runmarker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyGeneration is returned when a marker operation is given no
// generation.
var ErrEmptyGeneration = errors.New("run marker generation is empty")

// Marker abstracts run-marker persistence across data stores.
type Marker interface {
	// Initialize ensures the underlying storage is ready. It is idempotent.
	Initialize(ctx context.Context) error

	// IsCompleted reports whether generation has been marked completed.
	IsCompleted(ctx context.Context, generation string) (bool, error)

	// MarkCompleted records that generation was migrated, together with the
	// number of persisted records and the current Unix time in seconds.
	MarkCompleted(ctx context.Context, generation string, migrated int) error

	// Clear removes the marker of generation so the next run migrates again.
	Clear(ctx context.Context, generation string) error
}

// Record is a stored run marker.
type Record struct {
	Generation  string `json:"generation"`
	Migrated    uint64 `json:"migrated"`
	CompletedAt int64  `json:"completed_at"`
}

// MarkCompleted writes the marker, retrying failed writes with a fixed
// backoff. It returns ctx.Err() if ctx is done before a write succeeds.
func MarkCompleted(
	ctx context.Context,
	marker Marker,
	cfg Config,
	generation string,
	migrated int,
) error {
	if generation == "" {
		return ErrEmptyGeneration
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		lastErr = marker.MarkCompleted(writeCtx, generation, migrated)
		cancel()

		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Don't sleep after the last attempt
		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed to mark generation %q completed after %d attempts: %w",
		generation, cfg.MaxRetries+1, lastErr)
}
