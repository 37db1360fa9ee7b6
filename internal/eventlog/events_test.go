package eventlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTripsEveryVariant(t *testing.T) {
	idx := 2
	cases := []Event{
		Start{ID: "t1", Name: "demo", Tags: []string{"smoke"}},
		Log{Message: "hello", StepIndex: &idx},
		Assertion{Passed: false, Message: "mismatch", Actual: 1.0, Expected: 2.0},
		Warning{Condition: true, Message: "deprecated field used"},
		SchemaValidation{Label: "response", Success: false, Severity: SeverityFatal, Issues: []string{"missing field"}},
		Trace{Data: TraceData{Method: "GET", URL: "https://api.example.com", Status: 200, Duration: 12.3}},
		Metric{Name: "latency", Value: 42.0, Unit: "ms"},
		StepStart{Index: 0, Name: "login", Total: 3},
		StepEnd{Index: 0, Name: "login", Status: StepPassed, DurationMs: 10.5, Assertions: 2},
		TimeoutUpdate{Timeout: 5000},
		Summary{Data: SummaryData{AssertionTotal: 2, AssertionFailed: 1}},
		TestStatus{Status: StatusFailed, ID: "t1", Error: "boom"},
		ProcessError{Message: "Out of memory"},
	}

	for _, original := range cases {
		t.Run(string(original.Type()), func(t *testing.T) {
			line, err := Encode(original)
			require.NoError(t, err)
			require.True(t, line[len(line)-1] == '\n')

			decoded := Decode(line[:len(line)-1])
			require.Equal(t, original, decoded)
		})
	}
}

func TestDecode_MalformedJSONBecomesLog(t *testing.T) {
	decoded := Decode([]byte("not json at all"))
	log, ok := decoded.(Log)
	require.True(t, ok)
	require.Equal(t, "not json at all", log.Message)
}

func TestDecode_UnknownTypeBecomesLog(t *testing.T) {
	decoded := Decode([]byte(`{"type":"something_new","field":1}`))
	log, ok := decoded.(Log)
	require.True(t, ok)
	require.Contains(t, log.Message, "something_new")
}

func TestDecode_WrongShapeForKnownTypeBecomesLog(t *testing.T) {
	decoded := Decode([]byte(`{"type":"assertion","passed":"not-a-bool"}`))
	_, ok := decoded.(Log)
	require.True(t, ok)
}
