// Step orchestration for steps-variant tests (spec.md §4.4), grounded on
// the attempt/retry-counter style of the teacher's
// packages/com.r3e.services.oracle/service/dispatcher.go.
package runtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/glubean/glubean/internal/eventlog"
	"github.com/glubean/glubean/internal/glerr"
	"github.com/glubean/glubean/internal/testmodule"
)

// MaxReturnStateBytes is the step-state serialization boundary from
// spec.md §4.4/§8.
const MaxReturnStateBytes = 4 * 1024

// StepRunner executes the steps-variant orchestration described in
// spec.md §4.4 against a compiled Descriptor.
type StepRunner struct {
	ctx *Context
	vm  *goja.Runtime

	// timedOutAttempt is set when a step attempt is abandoned on its own
	// timeout (runAttempt), so that any later VM access this run makes
	// (teardown) waits for that orphaned goroutine to finish first instead
	// of touching the single-threaded goja runtime concurrently with it.
	timedOutAttempt chan struct{}
}

// NewStepRunner builds a StepRunner bound to ctx and the goja runtime that
// owns the step/fixture/setup/teardown functions.
func NewStepRunner(ctx *Context, vm *goja.Runtime) *StepRunner {
	return &StepRunner{ctx: ctx, vm: vm}
}

// Run executes every step of d in order, applying fixture resolution,
// setup, the per-step attempt/retry loop, and teardown. It returns a
// *glerr.FailSignal (never a plain error) when any step failed, so the
// harness can treat it uniformly with ctx.fail(). The caller, not Run,
// emits the run's single aggregate summary event. Run can return early
// (a fixture or setup failure) before any step ever executes, and the
// harness needs a summary emitted on every path, not only the ones that
// reach the step loop.
func (sr *StepRunner) Run(d *testmodule.Descriptor, ctxObj *goja.Object) error {
	var simple, lifecycle []testmodule.Fixture
	for _, f := range d.Fixtures {
		if f.Arity == testmodule.FixtureSimple {
			simple = append(simple, f)
		} else {
			lifecycle = append(lifecycle, f)
		}
	}

	for _, f := range simple {
		value, err := f.Factory(goja.Undefined(), ctxObj)
		if err != nil {
			return fmt.Errorf("fixture %q failed: %w", f.Name, err)
		}
		_ = ctxObj.Set(f.Name, value)
	}

	body := func() error { return sr.runStepsAndTeardown(d, ctxObj) }
	for i := len(lifecycle) - 1; i >= 0; i-- {
		inner := body
		fixture := lifecycle[i]
		body = func() error { return sr.runLifecycleFixture(fixture, ctxObj, inner) }
	}
	return body()
}

// runLifecycleFixture invokes a lifecycle fixture factory, passing it a
// use() callback that synchronously runs the remainder of the test (every
// inner fixture plus the step loop) before returning control to the
// factory, so any teardown code the factory places after its use() call
// always runs after the body completes, whether or not the factory itself
// awaits that call (spec.md §4.4).
func (sr *StepRunner) runLifecycleFixture(fixture testmodule.Fixture, ctxObj *goja.Object, inner func() error) error {
	useCount := 0
	var innerErr error
	useFn := sr.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		useCount++
		if len(call.Arguments) > 0 {
			_ = ctxObj.Set(fixture.Name, call.Arguments[0])
		}
		innerErr = inner()
		return goja.Undefined()
	})

	if _, err := fixture.Factory(goja.Undefined(), ctxObj, useFn); err != nil {
		return fmt.Errorf("fixture %q failed: %w", fixture.Name, err)
	}
	if useCount == 0 {
		return glerr.New(glerr.CodeFixtureMisuse,
			fmt.Sprintf("fixture %q completed without calling use()", fixture.Name))
	}
	if useCount > 1 {
		return glerr.New(glerr.CodeFixtureMisuse,
			fmt.Sprintf("fixture %q called use() more than once", fixture.Name))
	}
	return innerErr
}

// runStepsAndTeardown runs setup, the step loop, and teardown, the
// innermost continuation every lifecycle fixture ultimately wraps.
func (sr *StepRunner) runStepsAndTeardown(d *testmodule.Descriptor, ctxObj *goja.Object) error {
	var state goja.Value = goja.Undefined()
	if d.Setup != nil {
		sr.ctx.Log("Running setup...", nil)
		result, err := d.Setup(goja.Undefined(), ctxObj)
		if err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}
		state = result
	}

	anyFailed := false
	for i, step := range d.Steps {
		idx := i
		if anyFailed {
			sr.ctx.emitEvent(eventlog.StepStart{Index: idx, Name: step.Name, Total: len(d.Steps)})
			sr.ctx.Counters.StepTotal++
			sr.ctx.Counters.StepSkipped++
			sr.ctx.emitEvent(eventlog.StepEnd{
				Index: idx, Name: step.Name, Status: eventlog.StepSkipped,
				DurationMs: 0, Assertions: 0, FailedAssertions: 0, Attempts: 0, RetriesUsed: 0,
			})
			continue
		}

		nextState, failed := sr.runStep(idx, step, ctxObj, state, len(d.Steps))
		if failed {
			anyFailed = true
		} else {
			state = nextState
		}
	}

	if sr.timedOutAttempt != nil {
		<-sr.timedOutAttempt // wait out any orphaned step goroutine before touching the VM again
	}

	if d.Teardown != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					sr.ctx.Log(fmt.Sprintf("teardown panicked: %v", r), nil)
				}
			}()
			if _, err := d.Teardown(goja.Undefined(), ctxObj, state); err != nil {
				sr.ctx.Log(fmt.Sprintf("teardown failed: %v", err), nil)
			}
		}()
	}

	if anyFailed {
		return &glerr.FailSignal{Message: "one or more steps failed"}
	}
	return nil
}

// runStep executes the attempt/retry loop for one step and emits its
// step_start/step_end pair. Returns the step's resulting state and whether
// it ultimately failed.
func (sr *StepRunner) runStep(idx int, step testmodule.StepDef, ctxObj *goja.Object, priorState goja.Value, total int) (goja.Value, bool) {
	sr.ctx.SetStepIndex(&idx)
	defer sr.ctx.SetStepIndex(nil)

	sr.ctx.Counters.StepTotal++
	sr.ctx.emitEvent(eventlog.StepStart{Index: idx, Name: step.Name, Total: total})

	started := time.Now()
	maxAttempts := 1 + step.Retries
	state := priorState
	var stepErr error
	attempts := 0
	timedOut := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		sr.ctx.SetStepIndex(&idx)

		result, failed, timeoutHit, err := sr.runAttempt(step, ctxObj, priorState)
		stepErr = err
		timedOut = timeoutHit

		if !failed {
			state = result
			stepErr = nil
			break
		}
		if timeoutHit {
			break // terminal: step timeout never retries
		}
		if attempt < maxAttempts {
			sr.ctx.Log(fmt.Sprintf("step %q failed on attempt %d, retrying", step.Name, attempt), nil)
		}
	}

	duration := time.Since(started)
	assertions, failedAssertions := sr.ctx.StepAssertionCounts()
	failed := stepErr != nil || failedAssertions > 0

	status := eventlog.StepPassed
	errMsg := ""
	if failed {
		status = eventlog.StepFailed
		sr.ctx.Counters.StepFailed++
		if stepErr != nil {
			errMsg = stepErr.Error()
		}
		if timedOut {
			errMsg = fmt.Sprintf("step %q timed out after %dms", step.Name, step.TimeoutMs)
		}
	} else {
		sr.ctx.Counters.StepPassed++
	}

	sr.ctx.emitEvent(eventlog.StepEnd{
		Index:            idx,
		Name:             step.Name,
		Status:           status,
		DurationMs:       float64(duration.Microseconds()) / 1000.0,
		Assertions:       assertions,
		FailedAssertions: failedAssertions,
		Attempts:         attempts,
		RetriesUsed:      attempts - 1,
		Error:            errMsg,
		ReturnState:      serializeState(sr.vm, state),
	})

	return state, failed
}

// runAttempt executes one attempt of a step, optionally racing it against a
// per-step timeout. Returns the new state, whether the attempt failed, and
// whether the failure was specifically a timeout.
func (sr *StepRunner) runAttempt(step testmodule.StepDef, ctxObj *goja.Object, priorState goja.Value) (goja.Value, bool, bool, error) {
	if step.TimeoutMs <= 0 {
		result, err := step.Run(goja.Undefined(), ctxObj, priorState)
		if err != nil {
			return goja.Undefined(), true, false, err
		}
		_, failedAssertions := sr.ctx.StepAssertionCounts()
		return result, failedAssertions > 0, false, nil
	}

	// goja has no native async scheduler, so a per-step timeout can only be
	// enforced by racing the (synchronous, from goja's perspective) call
	// against a wall-clock timer on a second goroutine. If the timer wins,
	// that goroutine is still inside the VM when this function returns.
	// The step loop must not touch the VM again until it finishes, which is
	// why a step timeout is terminal for the run rather than retried, and
	// why the subprocess-level timeout remains the only hard guarantee for a
	// step body that blocks forever.
	done := make(chan struct{})
	var result goja.Value
	var runErr error
	go func() {
		defer close(done)
		result, runErr = step.Run(goja.Undefined(), ctxObj, priorState)
	}()

	select {
	case <-done:
		if runErr != nil {
			return goja.Undefined(), true, false, runErr
		}
		_, failedAssertions := sr.ctx.StepAssertionCounts()
		return result, failedAssertions > 0, false, nil
	case <-time.After(time.Duration(step.TimeoutMs) * time.Millisecond):
		sr.timedOutAttempt = done
		return goja.Undefined(), true, true, glerr.New(glerr.CodeStepTimeout, fmt.Sprintf("step %q timed out", step.Name))
	}
}

// serializeState renders a step's returned state for the step_end event,
// applying the 4KB truncation boundary from spec.md §4.4/§8.
func serializeState(vm *goja.Runtime, v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	b, err := json.Marshal(exported)
	if err != nil {
		return "[non-serializable]"
	}
	if len(b) > MaxReturnStateBytes {
		return fmt.Sprintf("[truncated: %d bytes]", len(b))
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return "[non-serializable]"
	}
	return out
}
