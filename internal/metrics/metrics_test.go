package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordMapped()
	m.RecordMapped()
	m.RecordIdentityMapHit()
	m.RecordFetch("query")
	m.RecordCommit(time.Now(), 2, 1, 0, nil)
	m.RecordCommit(time.Now(), 0, 0, 0, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ObjectsMappedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentityMapHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendFetchesTotal.WithLabelValues("query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommittedObjectsTotal.WithLabelValues("added")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMapped()
		m.RecordIdentityMapHit()
		m.RecordLazyThaw()
		m.RecordLazyResolution()
		m.RecordFetch("identifier")
		m.RecordCommit(time.Now(), 1, 1, 1, nil)
	})
}
