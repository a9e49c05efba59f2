package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "re-registering the same collectors must not error")
}

func TestCountersAreUsable(t *testing.T) {
	SessionsStarted.WithLabelValues("fake", "ready").Inc()
	CellExecutions.WithLabelValues("success").Inc()
	JobsByStatus.WithLabelValues("running").Set(3)
	CellExecutionDuration.Observe(0.25)
	ReplayScore.Observe(1.0)
}
