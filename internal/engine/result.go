package engine

import "github.com/glubean/glubean/internal/eventlog"

// TimelineEvent tags one decoded event with the relative offset from the
// subprocess's start and, in batch mode, the test it belongs to (spec.md
// §4.6's "each tagged with a relative ms timestamp and ... a testId").
type TimelineEvent struct {
	Event      eventlog.Event `json:"event"`
	RelativeMs float64        `json:"relativeMs"`
	TestID     string         `json:"testId,omitempty"`
}

// ExecutionResult is the single-test outcome assembled by walking one
// subprocess's event stream (spec.md §3/§4.6).
type ExecutionResult struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name,omitempty"`
	Tags                 []string        `json:"tags,omitempty"`
	Status               eventlog.Status `json:"status"`
	Error                string          `json:"error,omitempty"`
	Stack                string          `json:"stack,omitempty"`
	Reason               string          `json:"reason,omitempty"`
	AssertionCount       int             `json:"assertionCount"`
	FailedAssertionCount int             `json:"failedAssertionCount"`
	Summary              *eventlog.SummaryData `json:"summary,omitempty"`
	PeakMemoryBytes      int64                 `json:"peakMemoryBytes,omitempty"`
	PeakMemoryMB         float64               `json:"peakMemoryMB,omitempty"`
	DurationMs           float64               `json:"durationMs"`
	Timeline             []TimelineEvent       `json:"timeline"`
}

// Success is computed, never stored redundantly (spec.md §8): a test
// succeeds iff it reached a non-failed terminal status and carried no
// failed assertions and no process-level error.
func (r ExecutionResult) Success() bool {
	return (r.Status == eventlog.StatusCompleted || r.Status == eventlog.StatusSkipped) &&
		r.Error == "" && r.FailedAssertionCount == 0
}

// newResultBuilder folds a stream of decoded events into an ExecutionResult,
// grounded on the teacher's infrastructure/httputil/body.go's single-pass
// tolerant accumulation style, generalized from one JSON body to a whole
// event timeline.
type resultBuilder struct {
	result ExecutionResult
}

func newResultBuilder(testID string) *resultBuilder {
	return &resultBuilder{result: ExecutionResult{ID: testID}}
}

// Accept folds ev into the result being assembled and appends it to the
// timeline with its relative timestamp.
func (b *resultBuilder) Accept(ev eventlog.Event, relativeMs float64, testID string) {
	b.result.Timeline = append(b.result.Timeline, TimelineEvent{Event: ev, RelativeMs: relativeMs, TestID: testID})

	switch v := ev.(type) {
	case eventlog.Start:
		if v.ID != "" {
			b.result.ID = v.ID
		}
		b.result.Name = v.Name
		b.result.Tags = v.Tags
	case eventlog.Assertion:
		b.result.AssertionCount++
		if !v.Passed {
			b.result.FailedAssertionCount++
		}
	case eventlog.Summary:
		data := v.Data
		b.result.Summary = &data
		b.result.AssertionCount = data.AssertionTotal
		b.result.FailedAssertionCount = data.AssertionFailed
	case eventlog.TestStatus:
		b.result.Status = v.Status
		b.result.Error = v.Error
		b.result.Stack = v.Stack
		b.result.Reason = v.Reason
		b.result.PeakMemoryBytes = v.PeakMemoryBytes
		b.result.PeakMemoryMB = v.PeakMemoryMB
	case eventlog.ProcessError:
		// A process-level error is terminal even without a following
		// status event (spec.md §4.6 step 6): the executor synthesizes
		// one instead of a harness-emitted status, and it wins over
		// whatever status the harness DID manage to emit beforehand.
		b.result.Status = eventlog.StatusFailed
		b.result.Error = v.Message
	}
}

// Result returns the assembled ExecutionResult.
func (b *resultBuilder) Result() ExecutionResult {
	return b.result
}

// BatchResult is the ordered outcome of a batch run (spec.md §4.7):
// compacted to omit slots for tests that never started once the failure
// threshold was reached.
type BatchResult struct {
	Results []ExecutionResult `json:"results"`
	Skipped int               `json:"skipped"`
}

// Success holds iff every completed result succeeded and nothing failed
// (spec.md §4.7: "overall success ⇔ failed count is zero").
func (b BatchResult) Success() bool {
	for _, r := range b.Results {
		if !r.Success() {
			return false
		}
	}
	return true
}

// FailedCount returns the number of results that did not succeed.
func (b BatchResult) FailedCount() int {
	n := 0
	for _, r := range b.Results {
		if !r.Success() {
			n++
		}
	}
	return n
}
