package report

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/migration"
)

type multi struct {
	log       *zap.SugaredLogger
	reporters []migration.Reporter
}

// Multi fans every report out to reporters in order. Nil reporters are
// skipped and a panicking reporter does not stop the others.
func Multi(log *zap.SugaredLogger, reporters ...migration.Reporter) migration.Reporter {
	m := &multi{log: log}
	for _, r := range reporters {
		if r != nil {
			m.reporters = append(m.reporters, r)
		}
	}
	return m
}

func (m *multi) Report(err error, ec migration.ErrorContext) {
	for _, r := range m.reporters {
		m.safeReport(r, err, ec)
	}
}

func (m *multi) safeReport(r migration.Reporter, err error, ec migration.ErrorContext) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Errorw("error reporter panicked", "reporter", fmt.Sprintf("%T", r), "panic", p)
		}
	}()
	r.Report(err, ec)
}

// Tally counts reports by stage.
type Tally struct {
	mu     sync.Mutex
	counts map[migration.Stage]int
}

var _ migration.Reporter = (*Tally)(nil)

func NewTally() *Tally {
	return &Tally{counts: make(map[migration.Stage]int)}
}

func (t *Tally) Report(_ error, ec migration.ErrorContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ec.Stage]++
}

// Counts returns a snapshot of the per-stage counts.
func (t *Tally) Counts() map[migration.Stage]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[migration.Stage]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Total returns the number of reports seen.
func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.counts {
		n += v
	}
	return n
}
