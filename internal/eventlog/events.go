// Package eventlog defines the tagged-union timeline event format exchanged
// between the harness (producer) and the engine (consumer) as
// newline-delimited JSON on the harness's stdout.
package eventlog

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the closed set of timeline event variants.
type Type string

const (
	TypeStart            Type = "start"
	TypeLog              Type = "log"
	TypeAssertion        Type = "assertion"
	TypeWarning          Type = "warning"
	TypeSchemaValidation Type = "schema_validation"
	TypeTrace            Type = "trace"
	TypeMetric           Type = "metric"
	TypeStepStart        Type = "step_start"
	TypeStepEnd          Type = "step_end"
	TypeTimeoutUpdate    Type = "timeout_update"
	TypeSummary          Type = "summary"
	TypeStatus           Type = "status"
	TypeError            Type = "error"
)

// Severity is the outcome classification carried by schema_validation events.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityFatal Severity = "fatal"
)

// StepStatus is the terminal disposition of a single step.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Status is the terminal disposition of an entire test.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Event is satisfied by every timeline event variant.
type Event interface {
	Type() Type
}

// envelope is the wire shape used for the tolerant two-pass decode: the
// discriminator is always read first, the payload is decoded into the
// concrete variant only once its type is known. Unknown fields beyond what
// a variant declares are silently ignored by encoding/json, matching the
// "unknown fields are ignored by the reader" requirement.
type envelope struct {
	Type Type            `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Start is emitted exactly once per subprocess run.
type Start struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	RetryCount int      `json:"retryCount,omitempty"`
}

func (Start) Type() Type { return TypeStart }

// Log is emitted by ctx.log and synthesized by the engine for stray,
// non-JSON stdout lines and malformed event lines.
type Log struct {
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	StepIndex *int   `json:"stepIndex,omitempty"`
}

func (Log) Type() Type { return TypeLog }

// Assertion records one soft-assertion outcome. Failed assertions never
// unwind the test; they only contribute to counters.
type Assertion struct {
	Passed    bool   `json:"passed"`
	Message   string `json:"message,omitempty"`
	Actual    any    `json:"actual,omitempty"`
	Expected  any    `json:"expected,omitempty"`
	StepIndex *int   `json:"stepIndex,omitempty"`
}

func (Assertion) Type() Type { return TypeAssertion }

// Warning records a soft check that never affects pass/fail.
type Warning struct {
	Condition bool   `json:"condition"`
	Message   string `json:"message,omitempty"`
	StepIndex *int   `json:"stepIndex,omitempty"`
}

func (Warning) Type() Type { return TypeWarning }

// SchemaValidation records the outcome of one ctx.validate call.
type SchemaValidation struct {
	Label     string   `json:"label,omitempty"`
	Success   bool     `json:"success"`
	Severity  Severity `json:"severity"`
	Issues    []string `json:"issues,omitempty"`
	StepIndex *int     `json:"stepIndex,omitempty"`
}

func (SchemaValidation) Type() Type { return TypeSchemaValidation }

// TraceData is the payload carried by a Trace event.
type TraceData struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Status          int               `json:"status"`
	Duration        float64           `json:"duration"`
	Name            string            `json:"name,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	RequestBody     string            `json:"requestBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody    string            `json:"responseBody,omitempty"`
}

// Trace is emitted once per HTTP call (auto-trace) or on demand (ctx.trace).
type Trace struct {
	Data      TraceData `json:"data"`
	StepIndex *int      `json:"stepIndex,omitempty"`
}

func (Trace) Type() Type { return TypeTrace }

// Metric is emitted by ctx.metric and the auto-metric HTTP hook.
type Metric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	StepIndex *int              `json:"stepIndex,omitempty"`
}

func (Metric) Type() Type { return TypeMetric }

// StepStart opens a step's timeline window.
type StepStart struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Total int    `json:"total"`
}

func (StepStart) Type() Type { return TypeStepStart }

// StepEnd closes a step's timeline window. Exactly one StepEnd exists per
// StepStart with the same Index and Name.
type StepEnd struct {
	Index            int        `json:"index"`
	Name             string     `json:"name"`
	Status           StepStatus `json:"status"`
	DurationMs       float64    `json:"durationMs"`
	Assertions       int        `json:"assertions"`
	FailedAssertions int        `json:"failedAssertions"`
	Attempts         int        `json:"attempts"`
	RetriesUsed      int        `json:"retriesUsed"`
	Error            string     `json:"error,omitempty"`
	ReturnState      any        `json:"returnState,omitempty"`
}

func (StepEnd) Type() Type { return TypeStepEnd }

// TimeoutUpdate asks the engine to re-arm its deadline timer.
type TimeoutUpdate struct {
	Timeout float64 `json:"timeout"`
}

func (TimeoutUpdate) Type() Type { return TypeTimeoutUpdate }

// SummaryData is the aggregate counter payload of the single Summary event.
type SummaryData struct {
	HTTPRequestTotal         int     `json:"httpRequestTotal"`
	HTTPErrorTotal           int     `json:"httpErrorTotal"`
	HTTPErrorRate            float64 `json:"httpErrorRate"`
	AssertionTotal           int     `json:"assertionTotal"`
	AssertionFailed          int     `json:"assertionFailed"`
	WarningTotal             int     `json:"warningTotal"`
	WarningTriggered         int     `json:"warningTriggered"`
	SchemaValidationTotal    int     `json:"schemaValidationTotal"`
	SchemaValidationFailed   int     `json:"schemaValidationFailed"`
	SchemaValidationWarnings int     `json:"schemaValidationWarnings"`
	StepTotal                int     `json:"stepTotal"`
	StepPassed               int     `json:"stepPassed"`
	StepFailed               int     `json:"stepFailed"`
	StepSkipped              int     `json:"stepSkipped"`
}

// Summary is emitted at most once, strictly before the final Status.
type Summary struct {
	Data SummaryData `json:"data"`
}

func (Summary) Type() Type { return TypeSummary }

// TestStatus is the final event of every subprocess run.
type TestStatus struct {
	Status          Status  `json:"status"`
	ID              string  `json:"id,omitempty"`
	Error           string  `json:"error,omitempty"`
	Stack           string  `json:"stack,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	PeakMemoryBytes int64   `json:"peakMemoryBytes,omitempty"`
	PeakMemoryMB    float64 `json:"peakMemoryMB,omitempty"`
}

func (TestStatus) Type() Type { return TypeStatus }

// ProcessError is injected by the engine itself for subprocess-level
// failures (timeout, OOM, termination, malformed stream). It is never
// produced by the harness.
type ProcessError struct {
	Message string `json:"message"`
}

func (ProcessError) Type() Type { return TypeError }

// Encode serializes ev as one NDJSON line including its type discriminator.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("eventlog: encode %s: %w", ev.Type(), err)
	}
	typ, err := json.Marshal(ev.Type())
	if err != nil {
		return nil, fmt.Errorf("eventlog: encode %s: %w", ev.Type(), err)
	}
	b := append([]byte(`{"type":`), typ...)
	if len(body) > 2 {
		b = append(b, ',')
	}
	b = append(b, body[1:]...)
	return append(b, '\n'), nil
}

// Decode parses one line of NDJSON into its concrete Event variant. A line
// that is not valid JSON, or whose type discriminator is unrecognized, is
// never an error to the caller: per spec.md §4.1 a malformed line becomes a
// synthesized Log event carrying the raw text, so that stray prints from
// user code are never silently dropped. Decode therefore always returns a
// non-nil Event.
func Decode(line []byte) Event {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Log{Message: string(line)}
	}
	env.Raw = line

	switch env.Type {
	case TypeStart:
		var v Start
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeLog:
		var v Log
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeAssertion:
		var v Assertion
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeWarning:
		var v Warning
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeSchemaValidation:
		var v SchemaValidation
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeTrace:
		var v Trace
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeMetric:
		var v Metric
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeStepStart:
		var v StepStart
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeStepEnd:
		var v StepEnd
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeTimeoutUpdate:
		var v TimeoutUpdate
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeSummary:
		var v Summary
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeStatus:
		var v TestStatus
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	case TypeError:
		var v ProcessError
		if err := json.Unmarshal(line, &v); err != nil {
			return Log{Message: string(line)}
		}
		return v
	default:
		return Log{Message: string(line)}
	}
}
