//go:build unix

// Package engine hosts everything that runs outside the harness subprocess:
// spawning it, feeding it its execution context, reading its NDJSON
// timeline back, and fanning a batch of tests out across a worker pool
// (spec.md §4.6/§4.7). The subprocess-exit classification in this file reads
// syscall.WaitStatus signal numbers directly, which only exist on unix
// targets; there is no Windows build of the executor.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/glubean/glubean/internal/eventlog"
	"github.com/glubean/glubean/internal/sandboxconfig"
)

// HarnessPath is the resolved path (or PATH-relative name) of the
// cmd/glubean-harness binary. It is a var, not a const, so callers embedding
// this package can point it at a build-specific location.
var HarnessPath = "glubean-harness"

// execCommandContext is a seam over exec.CommandContext so tests can
// substitute a fake harness process, the same
// GO_WANT_HELPER_PROCESS-subprocess trick the teacher's
// internal/containerizer/docker_test.go uses for "docker" instead of
// spawning the real external binary.
var execCommandContext = exec.CommandContext

// ExecutorConfig bundles the options run() needs beyond the test identity
// itself, mapped from the shared RunConfig by sandboxconfig.ResolveFlags
// (spec.md §4.8).
type ExecutorConfig struct {
	Flags   sandboxconfig.SandboxFlags
	Debug   bool // when true, stderr is inherited instead of piped
	OnEvent func(TimelineEvent)
}

// RunOptions mirrors spec.md §4.6's run(testUrl, testId, context, {...})
// operation signature.
type RunOptions struct {
	TestID     string
	ExportName string
	Context    ExecutionInput
	Config     ExecutorConfig
}

// Executor spawns one harness subprocess per Run call and assembles its
// ExecutionResult, grounded on the teacher's test/contract/neoexpress.go
// mutex-guarded *exec.Cmd lifecycle, generalized from a long-lived sidecar
// process to a one-shot, piped, timeout-bounded child.
type Executor struct{}

// NewExecutor builds an Executor. It carries no state of its own; every
// call to Run is independent.
func NewExecutor() *Executor { return &Executor{} }

// Run spawns the harness for one test and returns its assembled result
// (spec.md §4.6). ctx governs cancellation of the whole call, independent of
// the per-test wall-clock deadline opts.Config.Flags.Timeout enforces.
func (e *Executor) Run(ctx context.Context, testURL string, opts RunOptions) (ExecutionResult, error) {
	start := time.Now()
	subprocessTotal.WithLabelValues("attempted").Inc()

	opts.Context.TestURL = testURL
	opts.Context.TestID = opts.TestID
	opts.Context.ExportName = opts.ExportName
	opts.Context.AllowNet = opts.Config.Flags.AllowNet
	opts.Context.EmitFullTrace = opts.Config.Flags.EmitFullTrace

	stdinPayload, err := json.Marshal(opts.Context)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("engine: marshal execution context: %w", err)
	}

	args := buildArgs(opts)
	cmd := execCommandContext(ctx, HarnessPath, args...)
	cmd.Stdin = bytes.NewReader(stdinPayload)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("engine: stdout pipe: %w", err)
	}

	var stderrBuf bytes.Buffer
	if opts.Config.Debug {
		cmd.Stderr = osStderr
	} else {
		cmd.Stderr = &stderrBuf
	}

	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		subprocessTotal.WithLabelValues("spawn_failed").Inc()
		return ExecutionResult{}, fmt.Errorf("engine: start harness: %w", err)
	}

	builder := newResultBuilder(opts.TestID)
	var timedOut atomic.Bool

	deadline := opts.Config.Flags.Timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	timer := time.AfterFunc(deadline, func() {
		timedOut.Store(true)
		terminate(cmd) // spec.md §4.6 step 5: graceful termination signal first
	})
	defer timer.Stop()
	defer killProcessGroup(cmd) // spec.md §4.6 step 7: always attempt cleanup

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		ev := eventlog.Decode(line)
		relativeMs := float64(time.Since(start).Microseconds()) / 1000.0
		builder.Accept(ev, relativeMs, opts.TestID)
		if opts.Config.OnEvent != nil {
			opts.Config.OnEvent(TimelineEvent{Event: ev, RelativeMs: relativeMs, TestID: opts.TestID})
		}
	}

	waitErr := cmd.Wait()
	timer.Stop()
	duration := time.Since(start)

	outcome := classifyExit(waitErr, timedOut.Load())
	if outcome != "" {
		message := processErrorMessage(outcome, deadline, stderrBuf.String(), waitErr)
		ev := eventlog.ProcessError{Message: message}
		relativeMs := float64(duration.Microseconds()) / 1000.0
		builder.Accept(ev, relativeMs, opts.TestID)
		if opts.Config.OnEvent != nil {
			opts.Config.OnEvent(TimelineEvent{Event: ev, RelativeMs: relativeMs, TestID: opts.TestID})
		}
	}

	result := builder.Result()
	result.DurationMs = float64(duration.Microseconds()) / 1000.0

	label := "completed"
	switch {
	case outcome == outcomeTimeout:
		label = "timeout"
	case outcome == outcomeOOM:
		label = "oom"
	case outcome == outcomeTerminated:
		label = "terminated"
	case outcome == outcomeOther:
		label = "error"
	case !result.Success():
		label = "failed"
	}
	subprocessTotal.WithLabelValues(label).Inc()
	subprocessDuration.Observe(duration.Seconds())

	return result, nil
}

func buildArgs(opts RunOptions) []string {
	args := []string{
		"--testUrl=" + opts.Context.TestURL,
		"--testId=" + opts.TestID,
	}
	if opts.ExportName != "" {
		args = append(args, "--exportName="+opts.ExportName)
	}
	if opts.Config.Flags.EmitFullTrace {
		args = append(args, "--emitFullTrace")
	}
	return args
}

type exitOutcome string

const (
	outcomeNone       exitOutcome = ""
	outcomeTimeout    exitOutcome = "timeout"
	outcomeOOM        exitOutcome = "oom"
	outcomeTerminated exitOutcome = "terminated"
	outcomeOther      exitOutcome = "other"
)

// classifyExit implements spec.md §4.6 step 6's outcome classification.
func classifyExit(waitErr error, timedOut bool) exitOutcome {
	if waitErr == nil {
		return outcomeNone
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return outcomeOther
	}
	if timedOut {
		return outcomeTimeout
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return outcomeOther
	}
	if status.Signaled() {
		switch status.Signal() {
		case syscall.SIGKILL:
			return outcomeOOM
		case syscall.SIGTERM:
			return outcomeTerminated
		}
	}
	if code := status.ExitStatus(); code == 137 {
		return outcomeOOM
	} else if code == 143 {
		return outcomeTerminated
	}
	return outcomeOther
}

func processErrorMessage(outcome exitOutcome, deadline time.Duration, stderrText string, waitErr error) string {
	switch outcome {
	case outcomeTimeout:
		return fmt.Sprintf("Test execution timed out after %dms", deadline.Milliseconds())
	case outcomeOOM:
		return "Out of memory: process killed. Consider reducing payload sizes or raising the memory cap."
	case outcomeTerminated:
		if stderrText != "" {
			return stderrText
		}
		return "Process was terminated"
	default:
		if stderrText != "" {
			return stderrText
		}
		code := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return fmt.Sprintf("Process exited with code %d", code)
	}
}
