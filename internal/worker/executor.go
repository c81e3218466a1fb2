// Package worker runs claimed checks under a fixed concurrency budget.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/irisetthq/irisett/internal/check"
	"github.com/irisetthq/irisett/internal/metrics"
	"github.com/irisetthq/irisett/pkg/types"
)

const (
	DefaultMaxConcurrent = 200
	DefaultMaxQueued     = 100000
)

// Runner executes a single check attempt. check.Registry satisfies it.
type Runner interface {
	Run(ctx context.Context, checkType string, params map[string]string) (types.CheckOutcome, error)
	Timeout(checkType string, params map[string]string) time.Duration
}

// Executor accepts jobs without blocking, holds them in a FIFO queue and runs at
// most maxConcurrent of them at a time. Every job produces exactly one Completion
// unless the executor is stopped before the job acquires a slot.
type Executor struct {
	runner        Runner
	completions   chan<- Completion
	maxConcurrent int64
	maxQueued     int
	logger        *zap.Logger
	metrics       metrics.ExecutorRecorder
	now           func() time.Time

	sem  *semaphore.Weighted
	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	mu        sync.Mutex
	queue     []Job
	closed    bool
	started   bool
	running   int
	completed uint64
	timedOut  uint64
	rejected  uint64
}

type Option func(*Executor)

func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrent = int64(n)
		}
	}
}

func WithMaxQueued(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxQueued = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(rec metrics.ExecutorRecorder) Option {
	return func(e *Executor) {
		if rec != nil {
			e.metrics = rec
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExecutor(runner Runner, completions chan<- Completion, opts ...Option) *Executor {
	e := &Executor{
		runner:        runner,
		completions:   completions,
		maxConcurrent: DefaultMaxConcurrent,
		maxQueued:     DefaultMaxQueued,
		logger:        zap.NewNop(),
		metrics:       metrics.Noop{},
		now:           time.Now,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = semaphore.NewWeighted(e.maxConcurrent)
	return e
}

// Submit enqueues a job. It never blocks and returns false when the executor is
// closed or the queue is at capacity.
func (e *Executor) Submit(job Job) bool {
	e.mu.Lock()
	if e.closed || len(e.queue) >= e.maxQueued {
		e.rejected++
		e.mu.Unlock()
		e.metrics.IncJobsRejected()
		return false
	}
	e.queue = append(e.queue, job)
	e.observeLocked()
	e.mu.Unlock()
	e.signal()
	return true
}

// Start launches the dispatch loop. Cancelling ctx aborts running checks; the
// returned channel is closed once the loop has exited and every started job has
// reported its completion.
func (e *Executor) Start(ctx context.Context) <-chan struct{} {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return e.done
	}
	e.started = true
	e.mu.Unlock()

	go e.dispatch(ctx)
	return e.done
}

// Close stops accepting jobs and discards those still waiting for a slot.
// Running jobs are unaffected. It returns the number of discarded jobs.
func (e *Executor) Close() int {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	e.closed = true
	dropped := len(e.queue)
	e.queue = nil
	e.observeLocked()
	e.mu.Unlock()
	e.signal()
	return dropped
}

// Stats is a point-in-time view of executor load.
type Stats struct {
	Running   int    `json:"running"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	TimedOut  uint64 `json:"timed_out"`
	Rejected  uint64 `json:"rejected"`
	Capacity  int    `json:"capacity"`
}

func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Running:   e.running,
		Queued:    len(e.queue),
		Completed: e.completed,
		TimedOut:  e.timedOut,
		Rejected:  e.rejected,
		Capacity:  int(e.maxConcurrent),
	}
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) dispatch(ctx context.Context) {
	defer func() {
		e.wg.Wait()
		close(e.done)
	}()
	for {
		job, ok := e.next(ctx)
		if !ok {
			return
		}
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		e.mu.Lock()
		e.running++
		e.observeLocked()
		e.mu.Unlock()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(ctx, job)
		}()
	}
}

func (e *Executor) next(ctx context.Context) (Job, bool) {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			job := e.queue[0]
			e.queue[0] = Job{}
			e.queue = e.queue[1:]
			e.observeLocked()
			e.mu.Unlock()
			return job, true
		}
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return Job{}, false
		}
		select {
		case <-ctx.Done():
			return Job{}, false
		case <-e.wake:
		}
	}
}

type runResult struct {
	outcome types.CheckOutcome
	err     error
}

func (e *Executor) run(ctx context.Context, job Job) {
	def := job.Claim.Definition
	timeout := e.runner.Timeout(def.CheckType, def.Params)
	started := e.now()

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	resultCh := make(chan runResult, 1)
	go func() {
		outcome, err := e.runner.Run(jobCtx, def.CheckType, def.Params)
		resultCh <- runResult{outcome: outcome, err: err}
	}()

	var (
		outcome  types.CheckOutcome
		timedOut bool
	)
	select {
	case res := <-resultCh:
		outcome = e.interpret(def, res)
	case <-jobCtx.Done():
		// A checker that ignores cancellation keeps its goroutine; the slot is
		// released regardless and its eventual result lands in the buffered channel.
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			timedOut = true
			outcome = types.CheckOutcome{Pass: false, Message: fmt.Sprintf("timeout after %s", timeout)}
			e.logger.Debug("check timed out", zap.String("monitor_id", def.ID), zap.Duration("timeout", timeout))
		} else {
			outcome = types.CheckOutcome{Pass: false, Message: "cancelled: shutting down"}
		}
	}
	cancel()
	// A failure seen after shutdown cancelled the executor is not a verdict,
	// even when the checker itself returned the cancellation error.
	cancelled := ctx.Err() != nil && !outcome.Pass
	if cancelled {
		timedOut = false
		e.logger.Debug("check cancelled by shutdown", zap.String("monitor_id", def.ID))
	}

	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = e.now().UTC()
	}
	if outcome.Duration == 0 {
		outcome.Duration = e.now().Sub(started)
	}

	e.sem.Release(1)
	e.mu.Lock()
	e.running--
	e.completed++
	if timedOut {
		e.timedOut++
	}
	e.observeLocked()
	e.mu.Unlock()
	if timedOut {
		e.metrics.IncJobTimeouts()
	}
	e.metrics.ObserveCheck(def.CheckType, outcome.Pass, outcome.Duration)

	e.completions <- Completion{
		Claim:     job.Claim,
		Outcome:   outcome,
		TimedOut:  timedOut,
		Cancelled: cancelled,
		Started:   started,
	}
}

func (e *Executor) interpret(def types.MonitorDefinition, res runResult) types.CheckOutcome {
	if res.err == nil {
		return res.outcome
	}
	fields := []zap.Field{zap.String("monitor_id", def.ID), zap.String("check_type", def.CheckType), zap.Error(res.err)}
	if errors.Is(res.err, check.ErrUnknownType) || errors.Is(res.err, check.ErrInvalidParams) {
		e.logger.Warn("check configuration error", fields...)
		return types.CheckOutcome{Pass: false, Message: "configuration error: " + res.err.Error()}
	}
	e.logger.Warn("check execution error", fields...)
	return types.CheckOutcome{Pass: false, Message: "execution error: " + res.err.Error()}
}

func (e *Executor) observeLocked() {
	e.metrics.ObserveExecutor(e.running, len(e.queue))
}
