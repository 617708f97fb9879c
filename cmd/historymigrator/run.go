package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/walletkit/history-migrator/pkg/builder"
	"github.com/walletkit/history-migrator/pkg/data/sqlite/legacyhistory"
	"github.com/walletkit/history-migrator/pkg/kafka"
	"github.com/walletkit/history-migrator/pkg/metrics"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/networks"
	"github.com/walletkit/history-migrator/pkg/queue"
	"github.com/walletkit/history-migrator/pkg/report"
	"github.com/walletkit/history-migrator/pkg/utils"
)

const metricsShutdownTimeout = 5 * time.Second

// healthState backs /health: unhealthy once the migration has failed.
type healthState struct {
	mu  sync.Mutex
	err error
}

func (h *healthState) set(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *healthState) check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"legacyDB", cfg.LegacyDBPath,
		"generation", cfg.Generation,
		"builderURL", cfg.Builder.URL,
		"builderMethod", cfg.Builder.Method,
		"builderTimeout", cfg.Builder.CallTimeout,
		"sink", cfg.Sink.Kind,
		"pendingTable", cfg.Sink.PendingTable,
		"markerTable", cfg.Sink.MarkerTable,
		"reportTopic", cfg.Report.Topic,
		"strict", cfg.Strict,
		"force", cfg.Force,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
		"btcForkNetworks", networks.BtcForkNetworks(),
	)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
		Sink:          cfg.Sink.Kind,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	health := &healthState{}
	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry, health.check)
	metricsErrCh := metricsServer.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			sugar.Warnw("failed to shut down metrics server", "error", err)
		}
	}()
	sugar.Infof("metrics server listening on http://%s/metrics", metricsServer.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tally := report.NewTally()
	reporters := []migration.Reporter{tally}
	if qr := newQueueReporter(ctx, cfg, sugar, m); qr != nil {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Report.FlushTimeout)
			defer cancel()
			qr.Close(flushCtx)
		}()
		reporters = append(reporters, qr)
	}
	reporter := report.Multi(sugar, reporters...)

	// Setup failures are run-level failures: reported, and fatal only in
	// strict mode.
	setupFailed := func(err error) error {
		m.IncError(metrics.ErrTypeSetup)
		reporter.Report(err, migration.ErrorContext{Stage: migration.StageSetup})
		return finish(sugar, cfg.Strict, health, tally, err)
	}

	store, err := legacyhistory.Open(cfg.LegacyDBPath, true, sugar)
	if err != nil {
		return setupFailed(fmt.Errorf("failed to open legacy store: %w", err))
	}
	defer store.Close()

	generation := cfg.Generation
	if generation == "" {
		generation, err = store.Generation(ctx)
		if err != nil {
			return setupFailed(fmt.Errorf("failed to read legacy store generation: %w", err))
		}
	}

	bc, err := builder.New(ctx, cfg.Builder.URL,
		builder.WithMetrics(m),
		builder.WithMethod(cfg.Builder.Method),
		builder.WithCallTimeout(cfg.Builder.CallTimeout),
	)
	if err != nil {
		return setupFailed(fmt.Errorf("failed to create builder client: %w", err))
	}
	defer bc.Close()

	snk, err := openSink(ctx, cfg.Sink, sugar)
	if err != nil {
		return setupFailed(fmt.Errorf("failed to open %s sink: %w", cfg.Sink.Kind, err))
	}
	defer snk.close()

	j := &job{
		log: sugar,
		migrator: migration.New(sugar, store, bc, snk.persister,
			migration.WithMetrics(m),
			migration.WithReporter(reporter),
		),
		marker:     snk.marker,
		markerCfg:  cfg.Marker,
		generation: generation,
		force:      cfg.Force,
		reporter:   reporter,
		metrics:    m,
	}

	done, err := j.alreadyMigrated(ctx)
	if err != nil {
		return finish(sugar, cfg.Strict, health, tally, err)
	}
	if done {
		sugar.Infow("generation already migrated, nothing to do", "generation", generation)
		return nil
	}

	err = executeJob(ctx, j, metricsErrCh)
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		return nil
	}

	stats := j.migrator.Stats()
	sugar.Infow("migration finished",
		"generation", generation,
		"read", stats.Read,
		"skipped", stats.Skipped,
		"migrated", stats.Migrated,
		"failed", stats.Failed,
		"duplicates", stats.Duplicates,
		"reportsByStage", tally.Counts(),
	)
	return finish(sugar, cfg.Strict, health, tally, err)
}

// finish turns the outcome into the process result. Without strict mode
// failures are only logged and reported.
func finish(log *zap.SugaredLogger, strict bool, health *healthState, tally *report.Tally, err error) error {
	if err != nil {
		health.set(err)
		log.Errorw("migration failed", "error", err)
	}
	if !strict {
		return nil
	}
	if err != nil {
		return err
	}
	if n := tally.Total(); n > 0 {
		err = fmt.Errorf("%d migration failures reported", n)
		health.set(err)
		return err
	}
	return nil
}

// executeJob runs j while watching the metrics server. A metrics server
// failure does not cancel the job.
func executeJob(ctx context.Context, j *job, metricsErrCh <-chan error) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		watchMetricsServer(gctx, metricsErrCh, j.log, j.metrics)
		return nil
	})
	g.Go(func() error {
		defer cancelRun()
		return j.execute(gctx)
	})
	return g.Wait()
}

// watchMetricsServer logs metrics server failures until ctx is done or the
// server stops. The migration keeps running without the endpoint.
func watchMetricsServer(ctx context.Context, errCh <-chan error, log *zap.SugaredLogger, m *metrics.Metrics) {
	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return
			}
			m.IncError(metrics.ErrTypeMetricsServer)
			log.Errorw("metrics server failed, continuing without it", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

// newQueueReporter wires the Kafka report queue when a topic is configured.
// Report delivery is best effort: setup failures are logged and the run
// continues without it.
func newQueueReporter(ctx context.Context, cfg *Config, log *zap.SugaredLogger, m *metrics.Metrics) *report.QueueReporter {
	if !cfg.Report.Enabled() {
		return nil
	}

	if err := kafka.EnsureReportTopic(ctx, cfg.Report, log); err != nil {
		m.IncError(metrics.ErrTypeReportPublish)
		log.Warnw("failed to ensure report topic, error reports disabled", "topic", cfg.Report.Topic, "error", err)
		return nil
	}

	pub, err := queue.NewKafkaPublisher(ctx, cfg.Report, log)
	if err != nil {
		m.IncError(metrics.ErrTypeReportPublish)
		log.Warnw("failed to create report publisher, error reports disabled", "error", err)
		return nil
	}

	return report.NewQueueReporter(pub, cfg.Report.Topic, log,
		report.WithMetrics(m),
		report.WithBufferSize(cfg.Report.BufferSize),
	)
}
