package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/metrics"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/runmarker"
)

// job runs one migration pass guarded by the run marker of a legacy store
// generation. An empty generation disables the marker.
type job struct {
	log        *zap.SugaredLogger
	migrator   *migration.Migrator
	marker     runmarker.Marker
	markerCfg  runmarker.Config
	generation string
	force      bool
	reporter   migration.Reporter
	metrics    *metrics.Metrics
}

// alreadyMigrated reports whether the generation is marked completed and the
// run should be skipped.
func (j *job) alreadyMigrated(ctx context.Context) (bool, error) {
	if j.generation == "" {
		j.log.Warnw("legacy store has no generation, run marker disabled")
		return false, nil
	}
	if j.force {
		j.log.Infow("ignoring run marker", "generation", j.generation)
		return false, nil
	}

	done, err := j.marker.IsCompleted(ctx, j.generation)
	if err != nil {
		err = fmt.Errorf("failed to read run marker: %w", err)
		j.metrics.IncError(metrics.ErrTypeMarker)
		j.reporter.Report(err, migration.ErrorContext{Stage: migration.StageMarker})
		return false, err
	}
	return done, nil
}

// execute runs the migrator and marks the generation completed when no
// record failed. Skipped records and repeats of an already migrated id do
// not hold the marker back. A generation with failed records is left
// unmarked so the next run retries them.
func (j *job) execute(ctx context.Context) error {
	err := j.migrator.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, migration.ErrReadLegacy):
		j.reporter.Report(err, migration.ErrorContext{Stage: migration.StageReadLegacy})
		return err
	case errors.Is(err, migration.ErrPersist):
		j.reporter.Report(err, migration.ErrorContext{Stage: migration.StagePersist})
		return err
	default:
		return err
	}

	stats := j.migrator.Stats()
	if j.generation == "" {
		return nil
	}
	if stats.Failed > 0 {
		j.log.Warnw("generation left unmarked, failed records will be retried on the next run",
			"generation", j.generation,
			"failed", stats.Failed,
			"duplicates", stats.Duplicates)
		return nil
	}

	if err := runmarker.MarkCompleted(ctx, j.marker, j.markerCfg, j.generation, stats.Migrated); err != nil {
		j.metrics.IncError(metrics.ErrTypeMarker)
		j.reporter.Report(err, migration.ErrorContext{Stage: migration.StageMarker})
		return err
	}
	j.log.Infow("generation marked completed", "generation", j.generation, "migrated", stats.Migrated)
	return nil
}
