// Package metrics holds the Prometheus collectors of the sync jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/xreposync/internal/model"
)

const namespace = "xreposync"

// Entry results recorded by RecordEntry.
const (
	ResultSynced   = "synced"
	ResultSkipped  = "skipped"
	ResultFiltered = "filtered"
	ResultFailed   = "failed"

	ResultValidated = "validated"
)

// Sync strategies recorded by RecordCommits.
const (
	StrategyDirect     = "direct"
	StrategyPushrebase = "pushrebase"
)

// Metrics holds the collectors of one job. A job is one tailer or
// validator process for one (source, target) pair.
type Metrics struct {
	EntriesTotal       *prometheus.CounterVec
	CommitsSyncedTotal *prometheus.CounterVec
	FailuresTotal      *prometheus.CounterVec
	EntryDuration      prometheus.Histogram
	Checkpoint         prometheus.Gauge
	MismatchesTotal    prometheus.Counter
}

// New creates the collectors and registers them on reg. job names the
// process kind ("sync" or "validate"); source and target are the repo ids
// it works on.
func New(reg prometheus.Registerer, job string, source, target model.RepositoryID) *Metrics {
	labels := prometheus.Labels{
		"job_kind":    job,
		"source_repo": source.String(),
		"target_repo": target.String(),
	}
	factory := promauto.With(reg)

	return &Metrics{
		EntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "tailer",
			Name:        "entries_total",
			Help:        "Bookmark update log entries processed, by result",
			ConstLabels: labels,
		}, []string{"result"}),
		CommitsSyncedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "tailer",
			Name:        "commits_synced_total",
			Help:        "Commits written to the target repo, by strategy",
			ConstLabels: labels,
		}, []string{"strategy"}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "tailer",
			Name:        "failures_total",
			Help:        "Failed entries, by error code and category",
			ConstLabels: labels,
		}, []string{"code", "category"}),
		EntryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "tailer",
			Name:        "entry_duration_seconds",
			Help:        "Histogram of per entry processing time",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}),
		Checkpoint: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "tailer",
			Name:        "checkpoint",
			Help:        "Id of the last fully processed bookmark update log entry",
			ConstLabels: labels,
		}),
		MismatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "validator",
			Name:        "mismatches_total",
			Help:        "Validation mismatches found",
			ConstLabels: labels,
		}),
	}
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry(), "nop", 0, 0)
}

// RecordEntry records one processed log entry.
func (m *Metrics) RecordEntry(result string, d time.Duration) {
	m.EntriesTotal.WithLabelValues(result).Inc()
	m.EntryDuration.Observe(d.Seconds())
}

// RecordCommits records commits synced for one entry.
func (m *Metrics) RecordCommits(direct, pushrebased int) {
	if direct > 0 {
		m.CommitsSyncedTotal.WithLabelValues(StrategyDirect).Add(float64(direct))
	}
	if pushrebased > 0 {
		m.CommitsSyncedTotal.WithLabelValues(StrategyPushrebase).Add(float64(pushrebased))
	}
}

// RecordFailure records a failed entry. Errors that are not SyncErrors are
// counted under code "internal".
func (m *Metrics) RecordFailure(err error) {
	code := string(model.CodeOf(err))
	if code == "" {
		code = "internal"
	}
	m.FailuresTotal.WithLabelValues(code, string(model.CategoryOf(err))).Inc()
}

// RecordMismatch records one validation mismatch.
func (m *Metrics) RecordMismatch() {
	m.MismatchesTotal.Inc()
}

// SetCheckpoint publishes the checkpoint after it was persisted.
func (m *Metrics) SetCheckpoint(id uint64) {
	m.Checkpoint.Set(float64(id))
}
