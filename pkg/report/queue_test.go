package report

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/metrics"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/queue"
)

type mockPublisher struct {
	mock.Mock

	mu   sync.Mutex
	msgs []queue.Msg
}

func (m *mockPublisher) Publish(ctx context.Context, msg queue.Msg) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockPublisher) Close(ctx context.Context) {
	m.Called(ctx)
}

func (m *mockPublisher) published() []queue.Msg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queue.Msg(nil), m.msgs...)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, l := range m.GetLabel() {
				got[l.GetName()] = l.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestQueueReporter_PublishesReport(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	pub.On("Close", mock.Anything).Return()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewQueueReporter(pub, "migration-reports", zap.NewNop().Sugar(), WithMetrics(m), WithRunID("run-1"))
	r.now = func() time.Time { return fixed }

	r.Report(errors.New("builder rejected tx"), migration.ErrorContext{
		Stage:     migration.StageBuild,
		RecordID:  "rec-1",
		TxID:      "abcd",
		NetworkID: "btc--0",
		AccountID: "acc-1",
	})
	r.Close(t.Context())

	msgs := pub.published()
	require.Len(t, msgs, 1)
	require.Equal(t, "migration-reports", msgs[0].Topic)
	require.Equal(t, []byte("acc-1"), msgs[0].Key)
	require.Equal(t, "build", msgs[0].Headers["stage"])
	require.Equal(t, "run-1", msgs[0].Headers["run-id"])

	var got Message
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	_, err = uuid.Parse(got.ID)
	require.NoError(t, err)
	require.Equal(t, got.ID, msgs[0].Headers["report-id"])
	require.Equal(t, Message{
		ID:         got.ID,
		RunID:      "run-1",
		Stage:      migration.StageBuild,
		RecordID:   "rec-1",
		TxID:       "abcd",
		NetworkID:  "btc--0",
		AccountID:  "acc-1",
		Error:      "builder rejected tx",
		ReportedAt: fixed,
	}, got)

	require.Equal(t, float64(1), counterValue(t, reg, "history_migrator_report_published_total", map[string]string{"status": "success"}))
	pub.AssertCalled(t, "Close", mock.Anything)
}

func TestQueueReporter_KeyFallsBackToRecordID(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	pub.On("Close", mock.Anything).Return()

	r := NewQueueReporter(pub, "reports", zap.NewNop().Sugar())
	r.Report(errors.New("duplicate"), migration.ErrorContext{Stage: migration.StageDuplicate, RecordID: "rec-9"})
	r.Report(errors.New("store down"), migration.ErrorContext{Stage: migration.StagePersist})
	r.Close(t.Context())

	msgs := pub.published()
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("rec-9"), msgs[0].Key)
	require.Empty(t, msgs[1].Key)
}

func TestQueueReporter_GeneratesRunID(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Close", mock.Anything).Return()

	r := NewQueueReporter(pub, "reports", zap.NewNop().Sugar())
	defer r.Close(t.Context())

	_, err := uuid.Parse(r.RunID())
	require.NoError(t, err)
}

func TestQueueReporter_DropsWhenBufferFull(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		started <- struct{}{}
		<-release
	}).Return(nil)
	pub.On("Close", mock.Anything).Return()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := NewQueueReporter(pub, "reports", zap.NewNop().Sugar(), WithMetrics(m), WithBufferSize(1))

	ec := migration.ErrorContext{Stage: migration.StageBuild, RecordID: "r"}
	r.Report(errors.New("first"), ec)
	<-started // first report is in flight

	done := make(chan struct{})
	go func() {
		r.Report(errors.New("second"), ec) // buffered
		r.Report(errors.New("third"), ec)  // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on a full buffer")
	}

	close(release)
	r.Close(t.Context())

	require.Len(t, pub.published(), 2)
	require.Equal(t, float64(1), counterValue(t, reg, "history_migrator_report_dropped_total", nil))
}

func TestQueueReporter_PublishFailureIsCounted(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker not available"))
	pub.On("Close", mock.Anything).Return()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := NewQueueReporter(pub, "reports", zap.NewNop().Sugar(), WithMetrics(m), WithPublishTimeout(time.Second))
	r.Report(errors.New("x"), migration.ErrorContext{Stage: migration.StageMarker})
	r.Close(t.Context())

	require.Equal(t, float64(1), counterValue(t, reg, "history_migrator_report_published_total", map[string]string{"status": "error"}))
	require.Equal(t, float64(1), counterValue(t, reg, "history_migrator_errors_total", map[string]string{"type": metrics.ErrTypeReportPublish}))
}

func TestQueueReporter_ReportAfterClose(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Close", mock.Anything).Return()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := NewQueueReporter(pub, "reports", zap.NewNop().Sugar(), WithMetrics(m))
	r.Close(t.Context())
	r.Close(t.Context())

	require.NotPanics(t, func() {
		r.Report(errors.New("late"), migration.ErrorContext{Stage: migration.StageBuild})
	})
	require.Equal(t, float64(1), counterValue(t, reg, "history_migrator_report_dropped_total", nil))
	pub.AssertNumberOfCalls(t, "Close", 1)
	pub.AssertNumberOfCalls(t, "Publish", 0)
}

func TestQueueReporter_CloseHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return(nil)
	pub.On("Close", mock.Anything).Return()

	r := NewQueueReporter(pub, "reports", zap.NewNop().Sugar())
	r.Report(errors.New("stuck"), migration.ErrorContext{Stage: migration.StageBuild})

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	r.Close(ctx)
	require.Less(t, time.Since(start), 2*time.Second)
	pub.AssertCalled(t, "Close", mock.Anything)
}

// notifyingPublisher also reports permanent failures like the Kafka publisher.
type notifyingPublisher struct {
	mockPublisher
	errs chan error
}

func (n *notifyingPublisher) Errors() <-chan error {
	return n.errs
}

func TestQueueReporter_DropsAfterPublisherFailure(t *testing.T) {
	pub := &notifyingPublisher{errs: make(chan error, 1)}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	pub.On("Close", mock.Anything).Run(func(mock.Arguments) { close(pub.errs) }).Return()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := NewQueueReporter(pub, "reports", zap.NewNop().Sugar(), WithMetrics(m))
	ec := migration.ErrorContext{Stage: migration.StageBuild, RecordID: "r"}

	r.Report(errors.New("before"), ec)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)

	pub.errs <- errors.New("all brokers down")
	require.Eventually(t, r.failed.Load, time.Second, 5*time.Millisecond)

	r.Report(errors.New("after"), ec)
	r.Report(errors.New("after again"), ec)
	r.Close(t.Context())

	require.Len(t, pub.published(), 1)
	require.Equal(t, float64(2), counterValue(t, reg, "history_migrator_report_dropped_total", nil))
	require.Equal(t, float64(1), counterValue(t, reg, "history_migrator_errors_total", map[string]string{"type": metrics.ErrTypeReportPublish}))
}
