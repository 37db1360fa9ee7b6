package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glubean/glubean/internal/eventlog"
	"github.com/glubean/glubean/internal/glerr"
)

type recordingEmitter struct {
	events []eventlog.Event
}

func (e *recordingEmitter) Emit(ev eventlog.Event) { e.events = append(e.events, ev) }

func TestContext_Get_PrecedenceVarsSecretsEnv(t *testing.T) {
	t.Setenv("GLUBEAN_TEST_VAR", "from-env")
	emitter := &recordingEmitter{}
	ctx := NewContext(map[string]string{"key": "from-vars"}, map[string]string{"key": "from-secrets"}, 0, emitter, nil)

	v, ok := ctx.Get("key")
	require.True(t, ok)
	require.Equal(t, "from-vars", v)

	ctx2 := NewContext(nil, map[string]string{"key": "from-secrets"}, 0, emitter, nil)
	v, ok = ctx2.Get("key")
	require.True(t, ok)
	require.Equal(t, "from-secrets", v)

	ctx3 := NewContext(nil, nil, 0, emitter, nil)
	v, ok = ctx3.Get("GLUBEAN_TEST_VAR")
	require.True(t, ok)
	require.Equal(t, "from-env", v)

	_, ok = ctx3.Get("GLUBEAN_definitely_missing_var")
	require.False(t, ok)
}

func TestContext_Get_EmptyValueIsTreatedAsMissing(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(map[string]string{"key": ""}, nil, 0, emitter, nil)
	_, ok := ctx.Get("key")
	require.False(t, ok)
}

func TestContext_Require(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(map[string]string{"key": "value"}, nil, 0, emitter, nil)

	v, err := ctx.Require("key", nil)
	require.NoError(t, err)
	require.Equal(t, "value", v)

	_, err = ctx.Require("missing", nil)
	var glErr *glerr.Error
	require.True(t, errors.As(err, &glErr))
	require.Equal(t, glerr.CodeMissingRequired, glErr.Code)

	_, err = ctx.Require("key", func(v string) (bool, string) { return false, "too short" })
	require.True(t, errors.As(err, &glErr))
	require.Equal(t, glerr.CodeValidationFailed, glErr.Code)
	require.Contains(t, glErr.Message, "too short")
}

func TestContext_All_DoesNotLeakSecrets(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(map[string]string{"a": "1"}, map[string]string{"b": "2"}, 0, emitter, nil)
	all := ctx.All()
	require.Equal(t, map[string]string{"a": "1"}, all)

	all["a"] = "mutated"
	v, _ := ctx.Get("a")
	require.Equal(t, "1", v, "All() must return a copy, not the live map")
}

func TestContext_Assert_TracksCountersAndStepScope(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)

	idx := 0
	ctx.SetStepIndex(&idx)
	ctx.Assert(true, "ok", AssertDetails{})
	ctx.Assert(false, "not ok", AssertDetails{Actual: 1, Expected: 2})

	require.Equal(t, 2, ctx.Counters.AssertionTotal)
	require.Equal(t, 1, ctx.Counters.AssertionFailed)
	total, failed := ctx.StepAssertionCounts()
	require.Equal(t, 2, total)
	require.Equal(t, 1, failed)

	require.Len(t, emitter.events, 2)
	second := emitter.events[1].(eventlog.Assertion)
	require.False(t, second.Passed)
	require.Equal(t, 1, *second.StepIndex)
}

func TestContext_SetStepIndex_ResetsPerStepCounters(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)

	zero := 0
	ctx.SetStepIndex(&zero)
	ctx.Assert(false, "fail", AssertDetails{})

	one := 1
	ctx.SetStepIndex(&one)
	total, failed := ctx.StepAssertionCounts()
	require.Equal(t, 0, total)
	require.Equal(t, 0, failed)
	require.Equal(t, 1, ctx.Counters.AssertionFailed, "overall counters persist across steps")
}

func TestContext_Fail_EmitsAssertionAndReturnsSignal(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)

	err := ctx.Fail("boom")
	var sig *glerr.FailSignal
	require.True(t, errors.As(err, &sig))
	require.Equal(t, "boom", sig.Message)
	require.Equal(t, 1, ctx.Counters.AssertionFailed)
}

func TestContext_Skip_ReturnsSignal(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)

	err := ctx.Skip("not applicable")
	var sig *glerr.SkipSignal
	require.True(t, errors.As(err, &sig))
	require.Equal(t, "not applicable", sig.Reason)
}

func TestContext_Warn_CountsTriggeredOnFalseCondition(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)

	ctx.Warn(true, "fine")
	ctx.Warn(false, "deprecated usage")

	require.Equal(t, 2, ctx.Counters.WarningTotal)
	require.Equal(t, 1, ctx.Counters.WarningTriggered)
}

func TestCounters_Summary_ComputesErrorRate(t *testing.T) {
	c := Counters{HTTPRequestTotal: 4, HTTPErrorTotal: 1}
	summary := c.Summary()
	require.Equal(t, 0.25, summary.HTTPErrorRate)

	require.Equal(t, 0.0, Counters{}.Summary().HTTPErrorRate)
}

func TestPollUntil_SucceedsBeforeDeadline(t *testing.T) {
	calls := 0
	err := PollUntil(PollOpts{Timeout: time.Second, Interval: time.Millisecond}, func() (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPollUntil_TimesOutWithLastError(t *testing.T) {
	err := PollUntil(PollOpts{Timeout: 20 * time.Millisecond, Interval: 5 * time.Millisecond}, func() (bool, error) {
		return false, errors.New("not ready yet")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "pollUntil timed out")
	require.Contains(t, err.Error(), "not ready yet")
}

func TestPollUntil_OnTimeoutCallbackSuppressesError(t *testing.T) {
	var captured error
	err := PollUntil(PollOpts{
		Timeout:   10 * time.Millisecond,
		Interval:  5 * time.Millisecond,
		OnTimeout: func(lastErr error) { captured = lastErr },
	}, func() (bool, error) {
		return false, errors.New("still pending")
	})
	require.NoError(t, err)
	require.EqualError(t, captured, "still pending")
}
