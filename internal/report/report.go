// Package report renders a developer-facing progress/summary view of a
// batch run to a terminal. It is deliberately not a persisted report format
// (JUnit/HTML generation is out of scope); it exists only to give
// cmd/glubean-run something nicer than raw NDJSON to stare at while a batch
// runs, the same role the teacher's internal/cli/executor.go spinner and
// giantswarm-muster's table formatter play for their own CLIs.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/glubean/glubean/internal/engine"
	"github.com/glubean/glubean/internal/eventlog"
)

// Progress drives a terminal spinner across a batch run, updating its
// suffix each time OnResult reports a finished test.
type Progress struct {
	spinner *spinner.Spinner
	total   int
	done    int
	failed  int
}

// NewProgress starts a spinner tracking a batch of the given size.
func NewProgress(total int) *Progress {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" running 0/%d tests...", total)
	s.Start()
	return &Progress{spinner: s, total: total}
}

// OnResult records one finished test's result; cmd/glubean-run calls it for
// each result after the scheduler's RunMany has returned.
func (p *Progress) OnResult(result engine.ExecutionResult) {
	p.done++
	if !result.Success() {
		p.failed++
	}
	p.spinner.Suffix = fmt.Sprintf(" running %d/%d tests... (%d failed)", p.done, p.total, p.failed)
}

// Stop halts the spinner, leaving a final status line behind.
func (p *Progress) Stop() {
	if p.failed > 0 {
		p.spinner.FinalMSG = text.FgRed.Sprintf("%d/%d tests failed\n", p.failed, p.total)
	} else {
		p.spinner.FinalMSG = text.FgGreen.Sprintf("all %d tests passed\n", p.total)
	}
	p.spinner.Stop()
}

// Summary renders a batch's results as a table to w, one row per test.
func Summary(w io.Writer, batch engine.BatchResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "STATUS", "ASSERTIONS", "FAILED", "DURATION (ms)", "ERROR"})

	for _, r := range batch.Results {
		status := text.FgGreen.Sprint(r.Status)
		if !r.Success() {
			status = text.FgRed.Sprint(r.Status)
		}
		t.AppendRow(table.Row{
			r.ID,
			status,
			r.AssertionCount,
			r.FailedAssertionCount,
			fmt.Sprintf("%.1f", r.DurationMs),
			truncateError(r.Error),
		})
	}
	t.Render()

	outcome := text.FgGreen.Sprint("PASS")
	if !batch.Success() {
		outcome = text.FgRed.Sprint("FAIL")
	}
	fmt.Fprintf(w, "\n%s  %d passed, %d failed, %d skipped\n",
		outcome, len(batch.Results)-batch.FailedCount(), batch.FailedCount(), batch.Skipped)
}

func truncateError(msg string) string {
	const max = 60
	if len(msg) <= max {
		return msg
	}
	return msg[:max-1] + "…"
}

// LogLine renders one timeline event as a single human-readable line, used
// by --verbose dev-run output instead of raw NDJSON.
func LogLine(w io.Writer, ev engine.TimelineEvent) {
	prefix := fmt.Sprintf("[%8.1fms]", ev.RelativeMs)
	if ev.TestID != "" {
		prefix = fmt.Sprintf("%s %s", prefix, ev.TestID)
	}
	switch v := ev.Event.(type) {
	case eventlog.Log:
		fmt.Fprintf(w, "%s log: %s\n", prefix, v.Message)
	case eventlog.Assertion:
		if v.Passed {
			fmt.Fprintf(w, "%s %s %s\n", prefix, text.FgGreen.Sprint("assert ok"), v.Message)
		} else {
			fmt.Fprintf(w, "%s %s %s\n", prefix, text.FgRed.Sprint("assert FAIL"), v.Message)
		}
	case eventlog.StepStart:
		fmt.Fprintf(w, "%s step %d/%d: %s\n", prefix, v.Index+1, v.Total, v.Name)
	case eventlog.StepEnd:
		fmt.Fprintf(w, "%s step %q %s in %.1fms\n", prefix, v.Name, v.Status, v.DurationMs)
	case eventlog.TestStatus:
		fmt.Fprintf(w, "%s status: %s\n", prefix, v.Status)
	case eventlog.ProcessError:
		fmt.Fprintf(w, "%s %s: %s\n", prefix, text.FgRed.Sprint("error"), v.Message)
	}
}
