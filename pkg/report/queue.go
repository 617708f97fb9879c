// Package report delivers migration failure reports.
package report

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/metrics"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/queue"
)

const (
	DefaultBufferSize     = 1024
	DefaultPublishTimeout = 10 * time.Second
)

// Message is the JSON payload published for one report.
type Message struct {
	ID         string          `json:"id"`
	RunID      string          `json:"runId"`
	Stage      migration.Stage `json:"stage"`
	RecordID   string          `json:"recordId,omitempty"`
	TxID       string          `json:"txid,omitempty"`
	NetworkID  string          `json:"networkId,omitempty"`
	AccountID  string          `json:"accountId,omitempty"`
	Error      string          `json:"error"`
	ReportedAt time.Time       `json:"reportedAt"`
}

// QueueReporter publishes reports to a queue topic from a background
// goroutine. Report never blocks: when the buffer is full the report is
// dropped and counted. Once a publisher implementing queue.FailureNotifier
// reports a permanent failure, every later report is dropped and counted.
type QueueReporter struct {
	pub            queue.Publisher
	topic          string
	runID          string
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
	publishTimeout time.Duration
	now            func() time.Time
	failed         atomic.Bool

	mu     sync.RWMutex
	closed bool
	ch     chan Message
	done   chan struct{}
}

var _ migration.Reporter = (*QueueReporter)(nil)

type QueueOption func(*QueueReporter)

func WithMetrics(m *metrics.Metrics) QueueOption {
	return func(r *QueueReporter) { r.metrics = m }
}

// WithBufferSize sets how many reports may wait for publishing.
func WithBufferSize(n int) QueueOption {
	return func(r *QueueReporter) {
		if n > 0 {
			r.ch = make(chan Message, n)
		}
	}
}

func WithPublishTimeout(d time.Duration) QueueOption {
	return func(r *QueueReporter) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

// WithRunID tags every report with id instead of a generated one.
func WithRunID(id string) QueueOption {
	return func(r *QueueReporter) {
		if id != "" {
			r.runID = id
		}
	}
}

// NewQueueReporter starts the publishing goroutine. Close must be called to
// drain the buffer and close pub.
func NewQueueReporter(pub queue.Publisher, topic string, log *zap.SugaredLogger, opts ...QueueOption) *QueueReporter {
	r := &QueueReporter{
		pub:            pub,
		topic:          topic,
		runID:          uuid.NewString(),
		log:            log,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
		ch:             make(chan Message, DefaultBufferSize),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if fn, ok := pub.(queue.FailureNotifier); ok {
		go r.watchFailures(fn.Errors())
	}
	go r.loop()
	return r
}

func (r *QueueReporter) watchFailures(errs <-chan error) {
	for err := range errs {
		if r.failed.Swap(true) {
			continue
		}
		r.metrics.IncError(metrics.ErrTypeReportPublish)
		r.log.Errorw("report publisher failed, dropping further error reports", "error", err)
	}
}

// RunID returns the id attached to every report of this reporter.
func (r *QueueReporter) RunID() string {
	return r.runID
}

func (r *QueueReporter) Report(err error, ec migration.ErrorContext) {
	msg := Message{
		ID:         uuid.NewString(),
		RunID:      r.runID,
		Stage:      ec.Stage,
		RecordID:   ec.RecordID,
		TxID:       ec.TxID,
		NetworkID:  ec.NetworkID,
		AccountID:  ec.AccountID,
		ReportedAt: r.now().UTC(),
	}
	if err != nil {
		msg.Error = err.Error()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(msg, "reporter closed")
		return
	}
	if r.failed.Load() {
		r.drop(msg, "publisher failed")
		return
	}
	select {
	case r.ch <- msg:
	default:
		r.drop(msg, "report buffer full")
	}
}

// Close stops accepting reports, waits for buffered reports to be published
// and closes the publisher. If ctx is done first the remaining reports are
// abandoned.
func (r *QueueReporter) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		r.log.Warnw("stopped waiting for error reports", "pending", len(r.ch))
	}
	r.pub.Close(ctx)
}

func (r *QueueReporter) loop() {
	defer close(r.done)
	for msg := range r.ch {
		r.publish(msg)
	}
}

func (r *QueueReporter) publish(msg Message) {
	if r.failed.Load() {
		r.drop(msg, "publisher failed")
		return
	}

	value, err := json.Marshal(msg)
	if err != nil {
		r.log.Errorw("failed to encode error report", "id", msg.ID, "error", err)
		r.metrics.RecordReportPublished(err)
		return
	}

	key := msg.AccountID
	if key == "" {
		key = msg.RecordID
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.publishTimeout)
	defer cancel()

	err = r.pub.Publish(ctx, queue.Msg{
		Topic: r.topic,
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			"report-id": msg.ID,
			"run-id":    msg.RunID,
			"stage":     string(msg.Stage),
		},
	})
	r.metrics.RecordReportPublished(err)
	if err != nil {
		r.metrics.IncError(metrics.ErrTypeReportPublish)
		r.log.Warnw("failed to publish error report", "id", msg.ID, "stage", msg.Stage, "error", err)
	}
}

func (r *QueueReporter) drop(msg Message, reason string) {
	r.metrics.IncReportDropped()
	r.log.Warnw("dropping error report", "reason", reason, "stage", msg.Stage, "recordID", msg.RecordID)
}
