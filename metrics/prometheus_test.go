package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The collectors must satisfy the interface.
var (
	_ Collector = (*PrometheusCollector)(nil)
	_ Collector = (*NoopCollector)(nil)
)

func TestPrometheusCollector(t *testing.T) {
	c := NewPrometheusCollector()

	c.RecordOperation("memstore", "store", "ok", 5*time.Millisecond)
	c.RecordOperation("memstore", "store", "ok", time.Millisecond)
	c.RecordOperation("toolexec", "start", "cycle", time.Millisecond)
	c.RecordEviction("session", 100)
	c.RecordExpiry("memory_entry")
	c.SetEntryCount("session", 400)
	c.SetExecutionCount("active", 3)

	ops := c.operationsTotal
	assert.InDelta(t, 2, testutil.ToFloat64(ops.WithLabelValues("memstore", "store", "ok")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(ops.WithLabelValues("toolexec", "start", "cycle")), 1e-9)
	assert.InDelta(t, 100, testutil.ToFloat64(c.evictionsTotal.WithLabelValues("session")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.expiriesTotal.WithLabelValues("memory_entry")), 1e-9)
	assert.InDelta(t, 400, testutil.ToFloat64(c.entryCount.WithLabelValues("session")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(c.executionCount.WithLabelValues("active")), 1e-9)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "the registry exposes the collector's metrics")
}
