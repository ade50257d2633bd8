package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRegistered(t *testing.T) {
	m := New()
	m.SignalsProcessed.WithLabelValues("stop").Inc()
	m.SignalsProcessed.WithLabelValues("stop").Inc()
	m.AutoApprovals.Inc()
	m.Sessions.Set(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SignalsProcessed.WithLabelValues("stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AutoApprovals))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Sessions))

	count, err := testutil.GatherAndCount(m.Registry, "tgbridge_auto_approvals_total", "tgbridge_sessions")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}
