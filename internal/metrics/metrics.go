// Package metrics provides Prometheus metrics for the persistence engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of one engine instance. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Mapping metrics
	ObjectsMappedTotal   prometheus.Counter
	IdentityMapHitsTotal prometheus.Counter
	LazyThawsTotal       prometheus.Counter
	LazyResolutionsTotal prometheus.Counter

	// Backend metrics
	BackendFetchesTotal *prometheus.CounterVec

	// Unit of work metrics
	CommitsTotal          *prometheus.CounterVec
	CommitDuration        prometheus.Histogram
	CommittedObjectsTotal *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.ObjectsMappedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_objects_mapped_total",
			Help: "Total number of objects reconstituted from record data",
		},
	)

	m.IdentityMapHitsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_identity_map_hits_total",
			Help: "Total number of record data mappings answered by the identity map",
		},
	)

	m.LazyThawsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_lazy_thaws_total",
			Help: "Total number of deferred property loads",
		},
	)

	m.LazyResolutionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_lazy_resolutions_total",
			Help: "Total number of lazy reference set members resolved",
		},
	)

	m.BackendFetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_backend_fetches_total",
			Help: "Total number of backend reads",
		},
		[]string{"kind"},
	)

	m.CommitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_commits_total",
			Help: "Total number of unit of work commits",
		},
		[]string{"status"},
	)

	m.CommitDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "persistence_commit_duration_seconds",
			Help:    "Duration of unit of work commits in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	m.CommittedObjectsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_committed_objects_total",
			Help: "Total number of objects handed to the backend per change set",
		},
		[]string{"set"},
	)

	return m
}

// RecordMapped counts a reconstituted object.
func (m *Metrics) RecordMapped() {
	if m == nil {
		return
	}
	m.ObjectsMappedTotal.Inc()
}

// RecordIdentityMapHit counts a mapping short-circuited by the identity map.
func (m *Metrics) RecordIdentityMapHit() {
	if m == nil {
		return
	}
	m.IdentityMapHitsTotal.Inc()
}

// RecordLazyThaw counts a deferred property load.
func (m *Metrics) RecordLazyThaw() {
	if m == nil {
		return
	}
	m.LazyThawsTotal.Inc()
}

// RecordLazyResolution counts a resolved lazy reference set member.
func (m *Metrics) RecordLazyResolution() {
	if m == nil {
		return
	}
	m.LazyResolutionsTotal.Inc()
}

// RecordFetch counts a backend read of the given kind.
func (m *Metrics) RecordFetch(kind string) {
	if m == nil {
		return
	}
	m.BackendFetchesTotal.WithLabelValues(kind).Inc()
}

// RecordCommit records the outcome and duration of a commit.
func (m *Metrics) RecordCommit(start time.Time, added, changed, removed int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.CommitsTotal.WithLabelValues(status).Inc()
	m.CommitDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		m.CommittedObjectsTotal.WithLabelValues("added").Add(float64(added))
		m.CommittedObjectsTotal.WithLabelValues("changed").Add(float64(changed))
		m.CommittedObjectsTotal.WithLabelValues("removed").Add(float64(removed))
	}
}
