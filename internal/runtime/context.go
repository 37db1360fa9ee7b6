// Package runtime implements the in-sandbox context object described in
// spec.md §4.3: the per-test service exposing vars/secrets/log/assert/
// expect/http/trace/metric/warn/validate/skip/fail/pollUntil/setTimeout. It
// is loaded inside the harness subprocess and bound into the goja VM that
// interprets the user's test file (see bindings.go).
//
// Grounded on the teacher's in-sandbox console/devpack injection pattern
// (system/tee/script_engine.go, internal/services/functions/tee_executor.go):
// this Context plays the role their `attachConsole`/`initialiseDevpack`
// helpers play, generalized from one fixed "devpack" surface to the full
// spec.md §4.3 operation set, and passed explicitly rather than installed
// as a VM global (see spec.md §9's "Global runtime slot" note, resolved in
// SPEC_FULL.md).
package runtime

import (
	"os"
	"strconv"
	"time"

	"github.com/glubean/glubean/internal/eventlog"
	"github.com/glubean/glubean/internal/glerr"
)

// Emitter writes one timeline event, attaching the current step index (if
// any) before handing it to the underlying NDJSON writer.
type Emitter interface {
	Emit(ev eventlog.Event)
}

// Counters accumulates the per-subprocess totals that are flushed exactly
// once into the final Summary event, per spec.md §3's ownership rule ("the
// runtime owns the per-subprocess in-memory counters").
type Counters struct {
	HTTPRequestTotal         int
	HTTPErrorTotal           int
	AssertionTotal           int
	AssertionFailed          int
	WarningTotal             int
	WarningTriggered         int
	SchemaValidationTotal    int
	SchemaValidationFailed   int
	SchemaValidationWarnings int
	StepTotal                int
	StepPassed               int
	StepFailed               int
	StepSkipped              int
}

// Summary projects the accumulated counters into the wire SummaryData shape.
func (c Counters) Summary() eventlog.SummaryData {
	errRate := 0.0
	if c.HTTPRequestTotal > 0 {
		errRate = float64(c.HTTPErrorTotal) / float64(c.HTTPRequestTotal)
	}
	return eventlog.SummaryData{
		HTTPRequestTotal:         c.HTTPRequestTotal,
		HTTPErrorTotal:           c.HTTPErrorTotal,
		HTTPErrorRate:            errRate,
		AssertionTotal:           c.AssertionTotal,
		AssertionFailed:          c.AssertionFailed,
		WarningTotal:             c.WarningTotal,
		WarningTriggered:         c.WarningTriggered,
		SchemaValidationTotal:    c.SchemaValidationTotal,
		SchemaValidationFailed:   c.SchemaValidationFailed,
		SchemaValidationWarnings: c.SchemaValidationWarnings,
		StepTotal:                c.StepTotal,
		StepPassed:               c.StepPassed,
		StepFailed:               c.StepFailed,
		StepSkipped:              c.StepSkipped,
	}
}

// Context is the per-subprocess runtime object injected into every user
// test function. It is single-threaded cooperative: every operation runs
// on the one goroutine driving the goja VM; there is no intra-test
// parallelism (spec.md §5).
type Context struct {
	vars       map[string]string
	secrets    map[string]string
	retryCount int

	emit Emitter

	Counters *Counters

	// stepIndex, when non-nil, tags every event emitted while a step is
	// running with that step's index, per spec.md §3's stepIndex carry rule.
	stepIndex *int

	// perStep, reset at the start of each step by the orchestrator, counts
	// assertions scoped to the current attempt.
	perStepAssertions       int
	perStepFailedAssertions int

	http *HTTPClient
}

// NewContext builds a Context for one subprocess run.
func NewContext(vars, secrets map[string]string, retryCount int, emit Emitter, http *HTTPClient) *Context {
	return &Context{
		vars:       vars,
		secrets:    secrets,
		retryCount: retryCount,
		emit:       emit,
		Counters:   &Counters{},
		http:       http,
	}
}

// RetryCount returns the retry index supplied by the engine.
func (c *Context) RetryCount() int { return c.retryCount }

// SetStepIndex scopes subsequent events to a step index, or clears scoping
// when idx is nil.
func (c *Context) SetStepIndex(idx *int) {
	c.stepIndex = idx
	c.perStepAssertions = 0
	c.perStepFailedAssertions = 0
}

// StepAssertionCounts returns the current step attempt's assertion totals.
func (c *Context) StepAssertionCounts() (total, failed int) {
	return c.perStepAssertions, c.perStepFailedAssertions
}

func (c *Context) emitEvent(ev eventlog.Event) {
	c.emit.Emit(ev)
}

// --- Variable access -------------------------------------------------

// Get implements the three-layer lookup from spec.md §4.3: the vars map,
// then the secrets map, then process environment. Returns ("", false) when the value is missing,
// null, or empty.
func (c *Context) Get(key string) (string, bool) {
	if v, ok := c.vars[key]; ok && v != "" {
		return v, true
	}
	if v, ok := c.secrets[key]; ok && v != "" {
		return v, true
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	return "", false
}

// ValidateFunc validates a required value; see Require.
type ValidateFunc func(value string) (valid bool, message string)

// Require implements spec.md §4.3's ctx.vars.require / ctx.secrets.require:
// fails with CodeMissingRequired when empty, or CodeValidationFailed when a
// supplied validator rejects the value.
func (c *Context) Require(key string, validate ValidateFunc) (string, error) {
	v, ok := c.Get(key)
	if !ok {
		return "", glerr.New(glerr.CodeMissingRequired, "missing required value: "+key)
	}
	if validate != nil {
		if valid, msg := validate(v); !valid {
			if msg == "" {
				msg = "validation failed for " + key
			}
			return "", glerr.New(glerr.CodeValidationFailed, msg)
		}
	}
	return v, nil
}

// All returns a shallow copy of the vars map (secrets are never snapshotted).
func (c *Context) All() map[string]string {
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// --- Logging -----------------------------------------------------------

// Log emits a log event with an optional structured payload.
func (c *Context) Log(message string, data any) {
	c.emitEvent(eventlog.Log{Message: message, Data: data, StepIndex: c.stepIndex})
}

// --- Assertions ----------------------------------------------------------

// AssertDetails carries the optional actual/expected pair for an assertion.
type AssertDetails struct {
	Actual   any
	Expected any
}

// Assert records one soft-assertion outcome. Failed assertions never
// unwind the test (spec.md §9 "Soft assertions").
func (c *Context) Assert(passed bool, message string, details AssertDetails) {
	c.Counters.AssertionTotal++
	c.perStepAssertions++
	if !passed {
		c.Counters.AssertionFailed++
		c.perStepFailedAssertions++
	}
	c.emitEvent(eventlog.Assertion{
		Passed:    passed,
		Message:   message,
		Actual:    details.Actual,
		Expected:  details.Expected,
		StepIndex: c.stepIndex,
	})
}

// Fail emits a failed assertion then returns a FailSignal the caller must
// propagate to terminate the test body immediately (spec.md §4.3).
func (c *Context) Fail(message string) error {
	c.Assert(false, message, AssertDetails{})
	return &glerr.FailSignal{Message: message}
}

// Skip returns a SkipSignal the caller must propagate; the harness converts
// it to a final status: skipped.
func (c *Context) Skip(reason string) error {
	return &glerr.SkipSignal{Reason: reason}
}

// --- Warnings ------------------------------------------------------------

// Warn emits a warning event. It never affects pass/fail.
func (c *Context) Warn(condition bool, message string) {
	c.Counters.WarningTotal++
	if !condition {
		c.Counters.WarningTriggered++
	}
	c.emitEvent(eventlog.Warning{Condition: condition, Message: message, StepIndex: c.stepIndex})
}

// --- Tracing / metrics -----------------------------------------------

// Trace emits a user-initiated trace event carrying only the caller's fields.
func (c *Context) Trace(data eventlog.TraceData) {
	c.emitEvent(eventlog.Trace{Data: data, StepIndex: c.stepIndex})
}

// MetricOpts carries the optional unit/tags for ctx.metric.
type MetricOpts struct {
	Unit string
	Tags map[string]string
}

// Metric emits a metric event.
func (c *Context) Metric(name string, value float64, opts MetricOpts) {
	c.emitEvent(eventlog.Metric{
		Name:      name,
		Value:     value,
		Unit:      opts.Unit,
		Tags:      opts.Tags,
		StepIndex: c.stepIndex,
	})
}

// --- Flow control ---------------------------------------------------------

// SetTimeout emits a timeout_update event; the engine re-arms its deadline
// timer. Non-finite values must be filtered by the caller before reaching
// here (bindings.go enforces this at the JS boundary).
func (c *Context) SetTimeout(ms float64) {
	c.emitEvent(eventlog.TimeoutUpdate{Timeout: ms})
}

// PollOpts configures PollUntil.
type PollOpts struct {
	Timeout  time.Duration
	Interval time.Duration
	OnTimeout func(lastErr error)
}

// PollUntil repeatedly invokes fn until it returns true or the deadline
// elapses, per spec.md §4.3. fn may return an error instead of panicking;
// PollUntil remembers the last error and keeps polling. The final sleep
// never overshoots the deadline.
func PollUntil(opts PollOpts, fn func() (bool, error)) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	deadline := time.Now().Add(opts.Timeout)
	var lastErr error
	for {
		ok, err := fn()
		if err != nil {
			lastErr = err
		} else if ok {
			return nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			break
		}
		sleep := opts.Interval
		if remaining := deadline.Sub(now); remaining < sleep {
			sleep = remaining
		}
		if sleep > 0 {
			time.Sleep(sleep)
		}
		if !time.Now().Before(deadline) {
			break
		}
	}

	if opts.OnTimeout != nil {
		opts.OnTimeout(lastErr)
		return nil
	}
	msg := fmtPollTimeout(opts.Timeout, lastErr)
	return glerr.New(glerr.CodeFail, msg)
}

func fmtPollTimeout(timeout time.Duration, lastErr error) string {
	base := "pollUntil timed out after " + durationMs(timeout) + "ms"
	if lastErr != nil {
		return base + ": " + lastErr.Error()
	}
	return base
}

func durationMs(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
