//go:build unix

package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/glubean/glubean/internal/sandboxconfig"
)

// BatchOptions mirrors spec.md §4.7's runMany(testUrl, testIds, context,
// {concurrency?, failFast?, failAfter?, onEvent?}) operation signature.
type BatchOptions struct {
	Concurrency  int
	FailureLimit int // from sandboxconfig.RunConfig.FailureLimit(): -1 = unbounded
	Context      ExecutionInput
	Flags        sandboxconfig.SandboxFlags
	Debug        bool
	OnEvent      func(TimelineEvent)
}

// Scheduler fans a batch of test ids out across a bounded worker pool
// (spec.md §4.7): a golang.org/x/sync semaphore.Weighted (the module
// giantswarm-muster depends on) caps the running workers and a
// sync.WaitGroup waits for them to finish.
type Scheduler struct {
	executor *Executor
}

// NewScheduler builds a Scheduler that drives the given Executor.
func NewScheduler(executor *Executor) *Scheduler {
	return &Scheduler{executor: executor}
}

// RunMany executes every id in testIDs against testURL, honoring
// opts.Concurrency (clamped to len(testIDs)) and opts.FailureLimit
// (spec.md §4.7's "tests not yet started are counted as skipped" rule).
func (s *Scheduler) RunMany(ctx context.Context, testURL string, testIDs []string, opts BatchOptions) BatchResult {
	if len(testIDs) == 0 {
		return BatchResult{}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(testIDs) {
		concurrency = len(testIDs)
	}

	results := make([]*ExecutionResult, len(testIDs))
	var cursor atomic.Int64
	var failed atomic.Int64
	var stopped atomic.Bool

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for w := 0; w < concurrency; w++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			for {
				if stopped.Load() {
					return
				}
				idx := int(cursor.Add(1)) - 1
				if idx >= len(testIDs) {
					return
				}
				if opts.FailureLimit >= 0 && failed.Load() >= int64(opts.FailureLimit) {
					stopped.Store(true)
					return
				}

				result, err := s.executor.Run(ctx, testURL, RunOptions{
					TestID: testIDs[idx],
					Context: opts.Context,
					Config: ExecutorConfig{
						Flags:   opts.Flags,
						Debug:   opts.Debug,
						OnEvent: opts.OnEvent,
					},
				})
				if err != nil {
					result = ExecutionResult{ID: testIDs[idx], Error: err.Error()}
				}
				results[idx] = &result
				if !result.Success() {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	compacted := make([]ExecutionResult, 0, len(results))
	skipped := 0
	for _, r := range results {
		if r == nil {
			skipped++
			continue
		}
		compacted = append(compacted, *r)
	}

	return BatchResult{Results: compacted, Skipped: skipped}
}
