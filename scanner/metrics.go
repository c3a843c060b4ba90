package scanner

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus instrumentation for a Scanner. It is entirely
// optional: a nil *Metrics on Options disables instrumentation, and every
// call site on Scanner nil-checks before touching it.
type Metrics struct {
	BytesHashed       prometheus.Counter
	EntriesAdded      prometheus.Counter
	EntriesChanged    prometheus.Counter
	EntriesUnchanged  prometheus.Counter
	EntriesRemoved    prometheus.Counter
	PolicyRemovals    *prometheus.CounterVec
	CheckpointFlushes prometheus.Counter
	ScanDuration      prometheus.Histogram
}

// NewMetrics constructs and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirscan",
			Name:      "bytes_hashed_total",
			Help:      "Total bytes read while computing content checksums.",
		}),
		EntriesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirscan", Name: "entries_added_total",
			Help: "Entries classified as added and committed.",
		}),
		EntriesChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirscan", Name: "entries_changed_total",
			Help: "Entries classified as changed and committed.",
		}),
		EntriesUnchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirscan", Name: "entries_unchanged_total",
			Help: "Entries classified as unchanged.",
		}),
		EntriesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirscan", Name: "entries_removed_total",
			Help: "Entries classified as removed and committed.",
		}),
		PolicyRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirscan", Name: "policy_removals_total",
			Help: "Entries removed by the age or size policy, labeled by policy.",
		}, []string{"policy"}),
		CheckpointFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirscan", Name: "checkpoint_flushes_total",
			Help: "Mid-scan state database flushes triggered by the Checkpointer.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dirscan", Name: "scan_duration_seconds",
			Help:    "Wall-clock duration of a complete Scanner.Run invocation.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.BytesHashed, m.EntriesAdded, m.EntriesChanged, m.EntriesUnchanged,
		m.EntriesRemoved, m.PolicyRemovals, m.CheckpointFlushes, m.ScanDuration,
	)

	return m
}
