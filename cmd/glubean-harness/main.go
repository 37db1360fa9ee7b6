// Command glubean-harness is the subprocess entry point spec.md §4.5
// describes: one invocation runs exactly one test to completion and exits.
// It interprets the user's compiled JavaScript test file with an embedded
// goja VM rather than dynamically importing it the way a Node/Deno-hosted
// original would (see DESIGN.md's re-architecture note), grounded
// end to end on the teacher's
// internal/services/functions/tee_executor.go (goja lifecycle, cancellation,
// error classification) and cmd/slctl's flag-driven entry point style
// (generalized here to github.com/spf13/cobra per DESIGN.md's ledger
// correction).
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/glubean/glubean/internal/engine"
	"github.com/glubean/glubean/internal/eventlog"
	"github.com/glubean/glubean/internal/glerr"
	"github.com/glubean/glubean/internal/runtime"
	"github.com/glubean/glubean/internal/testmodule"
)

func main() {
	var testURL, testID, exportName string
	var emitFullTrace bool

	root := &cobra.Command{
		Use:           "glubean-harness",
		Short:         "Runs one Glubean test inside an embedded JavaScript interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(run(testURL, testID, exportName, emitFullTrace))
			return nil
		},
	}
	root.Flags().StringVar(&testURL, "testUrl", "", "path to the compiled JavaScript test file")
	root.Flags().StringVar(&testID, "testId", "", "id of the test to run")
	root.Flags().StringVar(&exportName, "exportName", "", "export name to fall back to when id resolution is unreliable")
	root.Flags().BoolVar(&emitFullTrace, "emitFullTrace", false, "capture full request/response bodies on every HTTP trace")
	_ = root.MarkFlagRequired("testUrl")
	_ = root.MarkFlagRequired("testId")

	// Phase 1 (spec.md §4.5): a malformed invocation or an unhandled panic
	// anywhere in this process must still leave the process diagnosable.
	// stdout is reserved for the NDJSON stream, so diagnostics about the
	// invocation itself go to stderr.
	defer func() {
		if r := recover(); r != nil {
			stderrf("glubean-harness: panic: %v", r)
			os.Exit(1)
		}
	}()

	if err := root.Execute(); err != nil {
		stderrf("glubean-harness: %v", err)
		os.Exit(1)
	}
}

// run executes phases 3-8 of spec.md §4.5 and returns the process exit code.
func run(testURL, testID, exportName string, emitFullTraceFlag bool) int {
	w := bufio.NewWriter(os.Stdout)
	emit := &stdoutEmitter{w: w}
	defer w.Flush()

	stdin, err := io.ReadAll(os.Stdin)
	if err != nil {
		emit.Emit(eventlog.ProcessError{Message: fmt.Sprintf("failed to read execution context: %v", err)})
		return 1
	}
	var input engine.ExecutionInput
	if len(stdin) > 0 {
		if err := json.Unmarshal(stdin, &input); err != nil {
			emit.Emit(eventlog.ProcessError{Message: fmt.Sprintf("malformed execution context: %v", err)})
			return 1
		}
	}
	if input.TestURL == "" {
		input.TestURL = testURL
	}

	emitFullTrace := emitFullTraceFlag || input.EmitFullTrace

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	httpClient := runtime.NewHTTPClient(runtime.ClientConfig{
		BaseURL:       input.BaseURL,
		NetworkBudget: input.NetworkBudgetBytes,
		EmitFullTrace: emitFullTrace,
		AllowNet:      input.AllowNet,
	})
	ctx := runtime.NewContext(input.Vars, input.Secrets, input.RetryCount, emit, httpClient)

	ctxObj, err := runtime.Install(vm, ctx)
	if err != nil {
		emit.Emit(eventlog.ProcessError{Message: fmt.Sprintf("failed to install runtime bindings: %v", err)})
		return 1
	}

	source, err := os.ReadFile(input.TestURL)
	if err != nil {
		emit.Emit(eventlog.ProcessError{Message: fmt.Sprintf("failed to read test file %q: %v", input.TestURL, err)})
		return 1
	}

	moduleObj, err := loadModule(vm, input.TestURL, string(source))
	if err != nil {
		emit.Emit(eventlog.ProcessError{Message: fmt.Sprintf("failed to load test module: %v", err)})
		return 1
	}

	resolver := testmodule.NewResolver(vm)
	descriptor, err := resolveDescriptor(resolver, moduleObj, testID, exportName)
	if err != nil {
		emit.Emit(eventlog.ProcessError{Message: fmt.Sprintf("failed to resolve test %q: %v", testID, err)})
		return 1
	}
	if descriptor == nil {
		emit.Emit(eventlog.ProcessError{Message: fmt.Sprintf("no test found for id %q", testID)})
		return 1
	}

	emit.Emit(eventlog.Start{
		ID:         descriptor.ID,
		Name:       descriptor.Name,
		Tags:       descriptor.Tags,
		RetryCount: input.RetryCount,
	})

	sampler := newMemorySampler(os.Getpid())
	sampler.Start()

	runErr := runSafely(func() error {
		if descriptor.Skip {
			return &glerr.SkipSignal{Reason: "test is marked skip"}
		}
		switch descriptor.Shape {
		case testmodule.ShapeSteps:
			return runtime.NewStepRunner(ctx, vm).Run(descriptor, ctxObj)
		default:
			_, err := descriptor.Run(goja.Undefined(), ctxObj)
			return err
		}
	})

	peakBytes := sampler.Stop()

	// spec.md §4.5 step 8: exactly one summary, strictly before exactly one
	// status, on every path, including a test skipped before it ever ran
	// and a steps-variant test that failed before reaching its step loop.
	emit.Emit(eventlog.Summary{Data: ctx.Counters.Summary()})

	status := eventlog.TestStatus{
		ID:              descriptor.ID,
		PeakMemoryBytes: peakBytes,
		PeakMemoryMB:    float64(peakBytes) / (1024 * 1024),
	}
	exitCode := 0
	switch {
	case runErr == nil:
		status.Status = eventlog.StatusCompleted
	case isSkip(runErr):
		skip, _ := glerr.AsSkip(runErr)
		status.Status = eventlog.StatusSkipped
		status.Reason = skip.Reason
	default:
		status.Status = eventlog.StatusFailed
		status.Error, status.Stack = classifyFailure(runErr)
		exitCode = 1
	}
	emit.Emit(status)
	return exitCode
}

// loadModule runs source inside vm using a minimal CommonJS shim (`module`/
// `exports` globals) and returns the resulting module.exports object. There
// is no import/export keyword support in goja, and no original_source/
// material describes one (see DESIGN.md); this is the same "wrap the user's
// code in a function and harvest what it returns" idea as the teacher's own
// tee_executor.go IIFE wrapping, generalized from a single expression to a
// full CommonJS-style module body.
func loadModule(vm *goja.Runtime, filename, source string) (*goja.Object, error) {
	moduleObj := vm.NewObject()
	exportsObj := vm.NewObject()
	_ = moduleObj.Set("exports", exportsObj)
	vm.Set("module", moduleObj)
	vm.Set("exports", exportsObj)

	wrapped := "(function(module, exports) {\n" + source + "\n})(module, module.exports);"
	if _, err := vm.RunScript(filename, wrapped); err != nil {
		return nil, err
	}

	finalModule, ok := vm.Get("module").(*goja.Object)
	if !ok {
		return exportsObj, nil
	}
	exported, ok := finalModule.Get("exports").(*goja.Object)
	if !ok {
		return exportsObj, nil
	}
	return exported, nil
}

// resolveDescriptor implements spec.md §4.5 step 6: by id first, then by
// export name when supplied.
func resolveDescriptor(resolver *testmodule.Resolver, module *goja.Object, testID, exportName string) (*testmodule.Descriptor, error) {
	d, err := resolver.FindByID(module, testID)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return d, nil
	}
	if exportName == "" {
		return nil, nil
	}
	return resolver.FindByExport(module, exportName)
}

func isSkip(err error) bool {
	_, ok := glerr.AsSkip(err)
	return ok
}

// classifyFailure renders a failed run's error and optional stack trace,
// distinguishing a thrown JS exception (which carries its own stack) from a
// goja interrupt or a plain Go error, grounded on the teacher's
// runtimeError classification in tee_executor.go.
func classifyFailure(err error) (message, stack string) {
	switch typed := err.(type) {
	case *goja.Exception:
		return typed.Error(), typed.String()
	case *goja.InterruptedError:
		return typed.Error(), ""
	default:
		return err.Error(), ""
	}
}

// runSafely converts any panic that escapes the goja call boundary (i.e.
// one that is not itself a recovered-into-exception goja panic, such as a
// genuine bug in a native binding) into an error instead of crashing the
// subprocess without a terminal status event.
func runSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unhandled panic: %v", r)
		}
	}()
	return fn()
}

// stdoutEmitter writes each timeline event as one NDJSON line, flushing
// immediately: the engine reads this stream line by line as it is produced,
// so nothing may sit buffered in the harness's own process when it exits.
type stdoutEmitter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (e *stdoutEmitter) Emit(ev eventlog.Event) {
	b, err := eventlog.Encode(ev)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.w.Write(b)
	_ = e.w.Flush()
}

// memorySampler tracks this process's peak RSS over its lifetime on a
// ~100ms ticker (spec.md §4.5), via github.com/shirou/gopsutil/v3/process,
// present in the teacher's go.mod for exactly this kind of process
// telemetry (see DESIGN.md).
type memorySampler struct {
	proc *process.Process
	stop chan struct{}
	done chan struct{}

	mu   sync.Mutex
	peak int64
}

func newMemorySampler(pid int) *memorySampler {
	s := &memorySampler{stop: make(chan struct{}), done: make(chan struct{})}
	if p, err := process.NewProcess(int32(pid)); err == nil {
		s.proc = p
	}
	return s
}

func (s *memorySampler) Start() {
	if s.proc == nil {
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		s.sampleOnce()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sampleOnce()
			}
		}
	}()
}

func (s *memorySampler) sampleOnce() {
	info, err := s.proc.MemoryInfo()
	if err != nil || info == nil {
		return
	}
	s.mu.Lock()
	if int64(info.RSS) > s.peak {
		s.peak = int64(info.RSS)
	}
	s.mu.Unlock()
}

// Stop halts sampling and returns the observed peak RSS in bytes.
func (s *memorySampler) Stop() int64 {
	close(s.stop)
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}
