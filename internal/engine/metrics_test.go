package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSubprocessMetrics_RegisteredAndLabeled(t *testing.T) {
	subprocessTotal.Reset()

	subprocessTotal.WithLabelValues("completed").Inc()
	subprocessTotal.WithLabelValues("completed").Inc()
	subprocessTotal.WithLabelValues("timeout").Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(subprocessTotal.WithLabelValues("completed")))
	require.Equal(t, float64(1), testutil.ToFloat64(subprocessTotal.WithLabelValues("timeout")))
	require.Equal(t, float64(0), testutil.ToFloat64(subprocessTotal.WithLabelValues("oom")))
}
