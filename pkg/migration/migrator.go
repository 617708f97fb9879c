// Package migration moves pending transaction history from the legacy (V4)
// store into the current (V5) store.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/metrics"
	"github.com/walletkit/history-migrator/pkg/networks"
	"github.com/walletkit/history-migrator/pkg/transcoder"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

// State is the lifecycle of a Migrator.
type State int32

const (
	StateNotRun State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotRun:
		return "not_run"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Stats counts per-record outcomes of one pass over the legacy records.
// Duplicates are repeats of an id that already migrated in the same pass;
// they are not failures.
type Stats struct {
	Read       int
	Skipped    int
	Migrated   int
	Failed     int
	Duplicates int
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithMetrics records per-record and per-run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mg *Migrator) {
		mg.metrics = m
	}
}

// WithReporter sets the sink for per-record failures.
func WithReporter(r Reporter) Option {
	return func(mg *Migrator) {
		if r != nil {
			mg.reporter = r
		}
	}
}

// Migrator runs the pending-history migration. Run is one-shot.
type Migrator struct {
	log       *zap.SugaredLogger
	reader    LegacyReader
	builder   Builder
	persister Persister
	reporter  Reporter
	metrics   *metrics.Metrics

	state atomic.Int32

	mu    sync.Mutex
	stats Stats
}

func New(
	log *zap.SugaredLogger,
	reader LegacyReader,
	builder Builder,
	persister Persister,
	opts ...Option,
) *Migrator {
	m := &Migrator{
		log:       log,
		reader:    reader,
		builder:   builder,
		persister: persister,
		reporter:  nopReporter{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Migrator) State() State {
	return State(m.state.Load())
}

// Stats returns the counters of the most recent pass.
func (m *Migrator) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run migrates every legacy pending record and persists the result in one
// call. Nothing is persisted when no record migrates or when ctx is done
// before persistence.
func (m *Migrator) Run(ctx context.Context) (err error) {
	if !m.state.CompareAndSwap(int32(StateNotRun), int32(StateRunning)) {
		return ErrAlreadyRun
	}
	defer m.state.Store(int32(StateCompleted))

	start := time.Now()
	defer func() {
		m.metrics.RecordRun(err, time.Since(start).Seconds())
	}()

	records, err := m.reader.GetAllPendingHistory(ctx)
	if err != nil {
		m.metrics.IncError(metrics.ErrTypeReadLegacy)
		return fmt.Errorf("%w: %w", ErrReadLegacy, err)
	}
	m.metrics.SetLegacyRecords(len(records))

	if len(records) == 0 {
		m.log.Infow("no legacy pending history to migrate")
		return nil
	}

	migrated := m.MigratePending(ctx, records)

	if err := ctx.Err(); err != nil {
		m.log.Warnw("migration interrupted, nothing persisted",
			"migrated", len(migrated),
			"error", err,
		)
		return err
	}

	stats := m.Stats()
	if len(migrated) == 0 {
		m.log.Infow("no legacy pending history migrated",
			"read", stats.Read,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
			"duplicates", stats.Duplicates,
		)
		return nil
	}

	if err := m.persister.SavePendingHistory(ctx, migrated); err != nil {
		m.metrics.IncError(metrics.ErrTypePersist)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	m.metrics.AddPersisted(len(migrated))

	m.log.Infow("pending history migrated",
		"read", stats.Read,
		"skipped", stats.Skipped,
		"migrated", stats.Migrated,
		"failed", stats.Failed,
		"duplicates", stats.Duplicates,
		"duration", time.Since(start),
	)
	return nil
}

// MigrateAccount migrates the pending records of one account without
// persisting them. It does not affect the Run state.
func (m *Migrator) MigrateAccount(ctx context.Context, accountID string) ([]history.AccountHistoryTx, error) {
	records, err := m.reader.GetPendingHistory(ctx, accountID)
	if err != nil {
		m.metrics.IncError(metrics.ErrTypeReadLegacy)
		return nil, fmt.Errorf("%w: account %s: %w", ErrReadLegacy, accountID, err)
	}
	return m.MigratePending(ctx, records), nil
}

// MigratePending converts records in order. Ineligible records are skipped,
// failed records are reported and dropped. The returned slice preserves the
// input order and holds at most one record per legacy id.
func (m *Migrator) MigratePending(ctx context.Context, records []legacy.HistoryTx) []history.AccountHistoryTx {
	stats := Stats{Read: len(records)}
	out := make([]history.AccountHistoryTx, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]

		if _, dup := seen[rec.ID]; dup && rec.Migratable() {
			m.fail(ErrDuplicateID, rec, StageDuplicate, metrics.ErrTypeDuplicateID, metrics.OutcomeDuplicate)
			stats.Duplicates++
			continue
		}

		res := m.migrateRecord(ctx, rec)
		switch res.outcome {
		case outcomeSkipped:
			stats.Skipped++
			m.metrics.RecordRecord(metrics.OutcomeSkipped, familyLabel(rec))
		case outcomeMigrated:
			stats.Migrated++
			seen[rec.ID] = struct{}{}
			out = append(out, res.tx)
			m.metrics.RecordRecord(metrics.OutcomeMigrated, familyLabel(rec))
		case outcomeFailed:
			stats.Failed++
			m.fail(res.err, rec, StageBuild, metrics.ErrTypeBuild, metrics.OutcomeFailed)
		}
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	return out
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeMigrated
	outcomeFailed
)

type recordResult struct {
	outcome outcome
	tx      history.AccountHistoryTx
	err     error
}

func (m *Migrator) migrateRecord(ctx context.Context, rec *legacy.HistoryTx) recordResult {
	if !rec.Migratable() {
		return recordResult{outcome: outcomeSkipped}
	}
	v4 := rec.DecodedTx

	decoded, err := m.builder.BuildDecodedTx(ctx, history.BuildParams{
		AccountID: v4.AccountID,
		NetworkID: v4.NetworkID,
		UnsignedTx: history.UnsignedTx{
			EncodedTx: transcoder.Transcode(v4.EncodedTx, v4.NetworkID),
		},
	})
	if err != nil {
		return recordResult{outcome: outcomeFailed, err: fmt.Errorf("%w: %w", ErrBuild, err)}
	}
	if decoded == nil {
		return recordResult{outcome: outcomeFailed, err: ErrEmptyBuildResult}
	}

	tx := history.AccountHistoryTx{
		ID:             rec.ID,
		IsLocalCreated: rec.IsLocalCreated,
		ReplacedNextID: rec.ReplacedNextID,
		ReplacedPrevID: rec.ReplacedPrevID,
		ReplacedType:   rec.ReplacedType,
		DecodedTx:      *decoded,
	}
	// The builder may recompute the hash; the legacy txid is authoritative.
	// Every other builder field is kept as returned.
	tx.DecodedTx.TxID = v4.TxID

	return recordResult{outcome: outcomeMigrated, tx: tx}
}

func (m *Migrator) fail(err error, rec *legacy.HistoryTx, stage Stage, errType, outcome string) {
	ec := errorContext(rec, stage)
	m.metrics.IncError(errType)
	m.metrics.RecordRecord(outcome, familyLabel(rec))
	if errors.Is(err, ErrDuplicateID) {
		m.log.Warnw("dropping duplicate legacy pending tx", "id", ec.RecordID, "networkID", ec.NetworkID)
	} else {
		m.log.Warnw("failed to migrate legacy pending tx",
			"id", ec.RecordID,
			"txid", ec.TxID,
			"networkID", ec.NetworkID,
			"accountID", ec.AccountID,
			"error", err,
		)
	}
	m.reporter.Report(err, ec)
}

func errorContext(rec *legacy.HistoryTx, stage Stage) ErrorContext {
	ec := ErrorContext{Stage: stage, RecordID: rec.ID}
	if rec.DecodedTx != nil {
		ec.TxID = rec.DecodedTx.TxID
		ec.NetworkID = rec.DecodedTx.NetworkID
		ec.AccountID = rec.DecodedTx.AccountID
	}
	return ec
}

func familyLabel(rec *legacy.HistoryTx) string {
	if rec.DecodedTx == nil {
		return networks.FamilyDefault.String()
	}
	return networks.FamilyOf(rec.DecodedTx.NetworkID).String()
}
