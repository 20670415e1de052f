// Package observability provides transaction extensions that report engine
// activity as Prometheus metrics and structured log records.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"graphcore/internal/core"
	"graphcore/pkg/mapping"
)

// MetricsExtensionKey is the key under which the metrics extension registers.
const MetricsExtensionKey = "graphcore.metrics"

// MetricsListener counts loads, commits, rollbacks and relation changes of a
// transaction hierarchy. Register it with core.WithExtension.
type MetricsListener struct {
	core.ListenerBase

	loaded          *prometheus.CounterVec
	commits         *prometheus.CounterVec
	committed       *prometheus.HistogramVec
	commitDuration  *prometheus.HistogramVec
	rollbacks       *prometheus.CounterVec
	relationChanges *prometheus.CounterVec
	abandoned       prometheus.Counter

	mu      sync.Mutex
	started map[*core.ClientTransaction]time.Time
	now     func() time.Time
}

var _ core.Extension = (*MetricsListener)(nil)

// NewMetricsListener creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsListener(reg prometheus.Registerer) (*MetricsListener, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &MetricsListener{
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphcore", Name: "objects_loaded_total",
			Help: "Objects loaded into a transaction, by scope.",
		}, []string{"scope"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphcore", Name: "commits_total",
			Help: "Completed commits, by scope.",
		}, []string{"scope"}),
		committed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphcore", Name: "commit_objects",
			Help:    "Objects written per commit.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"scope"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphcore", Name: "commit_duration_seconds",
			Help:    "Time from TransactionCommitting to TransactionCommitted.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphcore", Name: "rollbacks_total",
			Help: "Completed rollbacks, by scope.",
		}, []string{"scope"}),
		relationChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphcore", Name: "relation_changes_total",
			Help: "Relation end point changes, by end point.",
		}, []string{"end_point"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphcore", Name: "commit_abandoned_total",
			Help: "Commits that started but never reported completion.",
		}),
		started: make(map[*core.ClientTransaction]time.Time),
		now:     time.Now,
	}
	for _, c := range []prometheus.Collector{m.loaded, m.commits, m.committed, m.commitDuration, m.rollbacks, m.relationChanges, m.abandoned} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Key implements core.Extension.
func (m *MetricsListener) Key() string { return MetricsExtensionKey }

func scope(tx *core.ClientTransaction) string {
	if tx.Parent() != nil {
		return "sub"
	}
	return "root"
}

func (m *MetricsListener) ObjectsLoaded(tx *core.ClientTransaction, objects []*core.DomainObject) error {
	m.loaded.WithLabelValues(scope(tx)).Add(float64(len(objects)))
	return nil
}

func (m *MetricsListener) TransactionCommitting(tx *core.ClientTransaction, _ []*core.DomainObject) error {
	m.mu.Lock()
	if _, ok := m.started[tx]; ok {
		// The previous attempt failed after this point.
		m.abandoned.Inc()
	}
	m.started[tx] = m.now()
	m.mu.Unlock()
	return nil
}

func (m *MetricsListener) TransactionCommitted(tx *core.ClientTransaction, objects []*core.DomainObject) error {
	s := scope(tx)
	m.mu.Lock()
	start, ok := m.started[tx]
	delete(m.started, tx)
	m.mu.Unlock()
	if ok {
		m.commitDuration.WithLabelValues(s).Observe(m.now().Sub(start).Seconds())
	}
	m.commits.WithLabelValues(s).Inc()
	m.committed.WithLabelValues(s).Observe(float64(len(objects)))
	return nil
}

func (m *MetricsListener) TransactionRolledBack(tx *core.ClientTransaction, _ []*core.DomainObject) error {
	m.rollbacks.WithLabelValues(scope(tx)).Inc()
	return nil
}

func (m *MetricsListener) TransactionDiscard(tx *core.ClientTransaction) error {
	m.mu.Lock()
	if _, ok := m.started[tx]; ok {
		delete(m.started, tx)
		m.abandoned.Inc()
	}
	m.mu.Unlock()
	return nil
}

func (m *MetricsListener) RelationChanged(_ *core.ClientTransaction, _ *core.DomainObject, def *mapping.RelationEndPointDefinition, _, _ *core.DomainObject) error {
	m.relationChanges.WithLabelValues(def.QualifiedName()).Inc()
	return nil
}
