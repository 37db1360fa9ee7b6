package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glubean/glubean/internal/engine"
	"github.com/glubean/glubean/internal/eventlog"
)

func TestSummary_AllPassed(t *testing.T) {
	var buf bytes.Buffer
	batch := engine.BatchResult{Results: []engine.ExecutionResult{
		{ID: "t1", Status: eventlog.StatusCompleted, AssertionCount: 3, DurationMs: 12.5},
	}}

	Summary(&buf, batch)

	out := buf.String()
	require.Contains(t, out, "t1")
	require.Contains(t, out, "PASS")
	require.Contains(t, out, "1 passed, 0 failed, 0 skipped")
}

func TestSummary_WithFailuresAndSkips(t *testing.T) {
	var buf bytes.Buffer
	batch := engine.BatchResult{
		Results: []engine.ExecutionResult{
			{ID: "t1", Status: eventlog.StatusCompleted},
			{ID: "t2", Status: eventlog.StatusFailed, Error: "assertion failed: expected 200 got 500"},
		},
		Skipped: 2,
	}

	Summary(&buf, batch)

	out := buf.String()
	require.Contains(t, out, "FAIL")
	require.Contains(t, out, "1 passed, 1 failed, 2 skipped")
}

func TestTruncateError(t *testing.T) {
	short := "boom"
	require.Equal(t, short, truncateError(short))

	long := strings.Repeat("x", 100)
	truncated := truncateError(long)
	require.Len(t, []rune(truncated), 60)
	require.True(t, strings.HasSuffix(truncated, "…"))
}

func TestLogLine_RendersKnownEventKinds(t *testing.T) {
	var buf bytes.Buffer
	LogLine(&buf, engine.TimelineEvent{
		Event:      eventlog.Assertion{Passed: false, Message: "mismatch"},
		RelativeMs: 42,
		TestID:     "t1",
	})
	out := buf.String()
	require.Contains(t, out, "t1")
	require.Contains(t, out, "mismatch")
	require.Contains(t, out, "FAIL")
}

func TestLogLine_ProcessError(t *testing.T) {
	var buf bytes.Buffer
	LogLine(&buf, engine.TimelineEvent{Event: eventlog.ProcessError{Message: "Out of memory"}})
	require.Contains(t, buf.String(), "Out of memory")
}
