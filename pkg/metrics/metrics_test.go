package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLabels_toPrometheusLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   Labels
		expected prometheus.Labels
	}{
		{
			name:     "empty labels",
			labels:   Labels{},
			expected: prometheus.Labels{},
		},
		{
			name: "all labels set",
			labels: Labels{
				Environment:   "production",
				Region:        "us-east-1",
				CloudProvider: "aws",
				Sink:          "postgres",
			},
			expected: prometheus.Labels{
				"environment":    "production",
				"region":         "us-east-1",
				"cloud_provider": "aws",
				"sink":           "postgres",
			},
		},
		{
			name: "partial labels",
			labels: Labels{
				Environment: "staging",
				Sink:        "clickhouse",
			},
			expected: prometheus.Labels{
				"environment": "staging",
				"sink":        "clickhouse",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.labels.toPrometheusLabels()
			require.Equal(t, tt.expected, result)
		})
	}
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordRun(nil, 0.1)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestNewWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewWithLabels(reg, Labels{Environment: "test", Sink: "postgres"})
	require.NoError(t, err)
	require.NotNil(t, m)

	m.SetLegacyRecords(12)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "history_migrator_legacy_pending_records" {
			continue
		}
		found = true
		require.NotEmpty(t, mf.GetMetric())
		labelMap := make(map[string]string)
		for _, label := range mf.GetMetric()[0].GetLabel() {
			labelMap[label.GetName()] = label.GetValue()
		}
		require.Equal(t, "test", labelMap["environment"])
		require.Equal(t, "postgres", labelMap["sink"])
		require.Equal(t, float64(12), mf.GetMetric()[0].GetGauge().GetValue())
	}
	require.True(t, found, "legacy records gauge not found")
}

func TestNew_RegistrationError(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	m, err := New(reg)
	require.Nil(t, m, "expected nil metrics on duplicate registration")

	var alreadyRegistered prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &alreadyRegistered)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.IncError(ErrTypeBuild)
		m.RecordRecord(OutcomeMigrated, "btc_fork")
		m.SetLegacyRecords(3)
		m.AddPersisted(3)
		m.RecordRun(nil, 0.5)
		m.IncBuilderInFlight()
		m.DecBuilderInFlight()
		m.RecordBuilderCall("wallet_buildDecodedTx", nil, 0.1)
		m.RecordReportPublished(nil)
		m.IncReportDropped()
	})
}

func TestMetrics_IncError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncError(ErrTypeBuild)
	m.IncError(ErrTypeBuild)
	m.IncError(ErrTypePersist)

	require.Equal(t, float64(2), testutil.ToFloat64(m.errors.WithLabelValues(ErrTypeBuild)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues(ErrTypePersist)))
}

func TestMetrics_RecordRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordRecord(OutcomeMigrated, "btc_fork")
	m.RecordRecord(OutcomeMigrated, "btc_fork")
	m.RecordRecord(OutcomeFailed, "default")
	m.RecordRecord(OutcomeSkipped, "default")

	require.Equal(t, float64(2), testutil.ToFloat64(m.records.WithLabelValues(OutcomeMigrated, "btc_fork")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.records.WithLabelValues(OutcomeFailed, "default")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.records.WithLabelValues(OutcomeSkipped, "default")))
}

func TestMetrics_AddPersisted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.AddPersisted(4)
	m.AddPersisted(0)
	m.AddPersisted(-1)

	require.Equal(t, float64(4), testutil.ToFloat64(m.persisted))
}

func TestMetrics_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordRun(nil, 0.2)
	m.RecordRun(errors.New("legacy store unavailable"), 0.01)

	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(StatusSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(StatusError)))
}

func TestMetrics_BuilderCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncBuilderInFlight()
	m.IncBuilderInFlight()
	require.Equal(t, float64(2), testutil.ToFloat64(m.builderInFlight))
	m.DecBuilderInFlight()
	require.Equal(t, float64(1), testutil.ToFloat64(m.builderInFlight))

	m.RecordBuilderCall("wallet_buildDecodedTx", nil, 0.05)
	m.RecordBuilderCall("wallet_buildDecodedTx", errors.New("rejected"), 1.0)

	require.Equal(t, float64(1), testutil.ToFloat64(m.builderCalls.WithLabelValues("wallet_buildDecodedTx", StatusSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.builderCalls.WithLabelValues("wallet_buildDecodedTx", StatusError)))
}

func TestMetrics_Reports(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordReportPublished(nil)
	m.RecordReportPublished(errors.New("broker down"))
	m.IncReportDropped()
	m.IncReportDropped()

	require.Equal(t, float64(1), testutil.ToFloat64(m.reportsPublished.WithLabelValues(StatusSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.reportsPublished.WithLabelValues(StatusError)))
	require.Equal(t, float64(2), testutil.ToFloat64(m.reportsDropped))
}

func TestNamespace(t *testing.T) {
	require.Equal(t, "history_migrator", Namespace)
}
