// Package runtime owns every moving part of the monitoring engine. A Runtime
// is built once by New, loaded by Initialize and driven by Start.
package runtime

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/irisetthq/irisett/internal/check"
	"github.com/irisetthq/irisett/internal/events"
	"github.com/irisetthq/irisett/internal/health"
	"github.com/irisetthq/irisett/internal/metrics"
	"github.com/irisetthq/irisett/internal/notify"
	"github.com/irisetthq/irisett/internal/queue"
	"github.com/irisetthq/irisett/internal/registry"
	"github.com/irisetthq/irisett/internal/results"
	"github.com/irisetthq/irisett/internal/scheduler"
	"github.com/irisetthq/irisett/internal/state"
	"github.com/irisetthq/irisett/internal/store"
	"github.com/irisetthq/irisett/internal/worker"
	"github.com/irisetthq/irisett/pkg/types"
)

// Dependencies are the collaborators a Runtime is built around. Store and
// Checks are required.
type Dependencies struct {
	Store    store.Store
	Checks   *check.Registry
	Channels *notify.Channels
	Logger   *zap.Logger
	Metrics  *metrics.Store
}

type recorder interface {
	metrics.QueueRecorder
	metrics.ExecutorRecorder
	metrics.EngineRecorder
	metrics.PersistenceRecorder
	metrics.DeliveryRecorder
	metrics.ReadinessRecorder
}

type Runtime struct {
	settings

	store    store.Store
	checks   *check.Registry
	channels *notify.Channels
	logger   *zap.Logger
	metrics  recorder

	registry    *registry.Registry
	completions chan worker.Completion
	executor    *worker.Executor
	scheduler   *scheduler.Scheduler
	writeQueue  *queue.WriteQueue
	writer      *results.Writer
	pruner      *results.Pruner
	dispatcher  *notify.Dispatcher
	bus         *events.Bus
	recorder    events.Recorder
	health      *health.Checker

	adminMu sync.Mutex
	stopped chan struct{}
}

func New(deps Dependencies, opts ...Option) (*Runtime, error) {
	if deps.Store == nil {
		return nil, errors.New("runtime requires a store")
	}
	if deps.Checks == nil {
		return nil, errors.New("runtime requires a check registry")
	}
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var rec recorder = metrics.Noop{}
	if deps.Metrics != nil {
		rec = deps.Metrics
	}
	channels := deps.Channels
	if channels == nil {
		channels = notify.NewChannels()
	}

	r := &Runtime{
		settings:    s,
		store:       deps.Store,
		checks:      deps.Checks,
		channels:    channels,
		logger:      logger,
		metrics:     rec,
		registry:    registry.New(),
		completions: make(chan worker.Completion, s.maxConcurrent),
		stopped:     make(chan struct{}),
	}

	r.executor = worker.NewExecutor(deps.Checks, r.completions,
		worker.WithMaxConcurrent(s.maxConcurrent),
		worker.WithMaxQueued(s.maxQueued),
		worker.WithLogger(logger.Named("executor")),
		worker.WithMetrics(rec),
		worker.WithNow(s.now),
	)
	r.scheduler = scheduler.New(r.registry, r.executor,
		scheduler.WithTickResolution(s.tickResolution),
		scheduler.WithDefaultInterval(s.defaultInterval),
		scheduler.WithLogger(logger.Named("scheduler")),
	)

	r.writeQueue = queue.NewWriteQueue(s.writeQueueCapacity)
	r.writeQueue.SetMetricsRecorder(rec)
	r.writer = results.NewWriter(r.writeQueue, deps.Store,
		results.WithLogger(logger.Named("results")),
		results.WithMetrics(rec),
	)
	r.pruner = results.NewPruner(deps.Store, s.retention,
		results.WithSchedule(s.pruneSchedule),
		results.WithPrunerLogger(logger.Named("pruner")),
		results.WithPrunerNow(s.now),
	)

	notifyOpts := append([]notify.Option{
		notify.WithLogger(logger.Named("notify")),
		notify.WithMetrics(rec),
	}, s.notifyOpts...)
	r.dispatcher = notify.NewDispatcher(channels, deps.Store, notifyOpts...)

	r.bus = events.NewBus(s.busBuffer)
	r.recorder = events.NewMulti(
		events.LogRecorder{Logger: logger.Named("events")},
		r.writer,
		r.bus,
	)

	staleAfter := 5 * s.tickResolution
	if staleAfter < 10*time.Second {
		staleAfter = 10 * time.Second
	}
	r.health = health.NewChecker(deps.Store, rec, staleAfter)
	return r, nil
}

// Initialize loads every stored definition into the registry. Definitions that
// no longer validate are logged and skipped.
func (r *Runtime) Initialize(ctx context.Context) error {
	defs, err := r.store.LoadAllDefinitions(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	loaded := 0
	for _, def := range defs {
		def, err := r.normalize(def)
		if err != nil {
			r.logger.Warn("skipping stored monitor", zap.String("monitor_id", def.ID), zap.Error(err))
			continue
		}
		if err := r.registry.Add(def, now.Add(r.firstOffset(def))); err != nil {
			r.logger.Warn("skipping stored monitor", zap.String("monitor_id", def.ID), zap.Error(err))
			continue
		}
		loaded++
	}
	r.health.MarkInitialized()
	r.logger.Info("monitors loaded", zap.Int("loaded", loaded), zap.Int("stored", len(defs)))
	return nil
}

func (r *Runtime) firstOffset(def types.MonitorDefinition) time.Duration {
	spread := r.startupSpread
	if def.Interval < spread {
		spread = def.Interval
	}
	if spread <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(spread)))
}

// Start runs the engine until ctx is cancelled. The returned function blocks
// until teardown has finished: running checks drained, persistence flushed and
// pending notifications delivered, each bounded by the shutdown grace.
func (r *Runtime) Start(ctx context.Context) func() {
	execCtx, cancelExec := context.WithCancel(context.Background())
	execDone := r.executor.Start(execCtx)

	writerCtx, cancelWriter := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error {
		err := r.writer.Run(writerCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := r.pruner.Start(ctx); err != nil {
		r.logger.Error("result pruning disabled", zap.Error(err))
	}

	go func() {
		defer close(r.stopped)
		defer cancelExec()
		r.loop(ctx)
		r.drainExecutor(execDone, cancelExec)

		cancelWriter()
		if err := g.Wait(); err != nil {
			r.logger.Warn("results writer stopped", zap.Error(err))
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), r.shutdownGrace)
		defer cancel()
		if err := r.writer.Flush(flushCtx); err != nil {
			r.logger.Warn("results not fully flushed", zap.Int("remaining", r.writeQueue.Len()), zap.Error(err))
		}
		if err := r.dispatcher.Shutdown(flushCtx); err != nil {
			r.logger.Warn("notifications abandoned at shutdown", zap.Error(err))
		}
		r.logger.Info("runtime stopped")
	}()

	return func() { <-r.stopped }
}

func (r *Runtime) loop(ctx context.Context) {
	ticker := time.NewTicker(r.tickResolution)
	defer ticker.Stop()
	r.tick(r.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(r.now())
		case c := <-r.completions:
			r.complete(c)
		}
	}
}

// drainExecutor stops new work and keeps applying completions until every
// running check has reported. Checks still running after the grace period
// are cancelled.
func (r *Runtime) drainExecutor(execDone <-chan struct{}, cancelExec context.CancelFunc) {
	if discarded := r.executor.Close(); discarded > 0 {
		r.logger.Info("discarded queued checks", zap.Int("count", discarded))
	}
	grace := time.NewTimer(r.shutdownGrace)
	defer grace.Stop()
	graceC := grace.C
	for {
		select {
		case c := <-r.completions:
			r.complete(c)
		case <-graceC:
			graceC = nil
			r.logger.Warn("shutdown grace expired, cancelling running checks", zap.Int("running", r.executor.Stats().Running))
			cancelExec()
		case <-execDone:
			for {
				select {
				case c := <-r.completions:
					r.complete(c)
				default:
					return
				}
			}
		}
	}
}

func (r *Runtime) tick(now time.Time) {
	res := r.scheduler.Tick(now)
	r.metrics.ObserveTick(now)
	r.health.ObserveTick(now)
	r.metrics.ObserveMonitors(r.statusCounts())
	if res.Submitted > 0 {
		r.logger.Debug("scheduled checks", zap.Int("submitted", res.Submitted), zap.Int("refused", res.Refused))
	}
}

func (r *Runtime) complete(c worker.Completion) {
	def := c.Claim.Definition
	if c.Cancelled {
		r.registry.Release(c.Claim)
		r.logger.Debug("dropping check interrupted by shutdown", zap.String("monitor_id", def.ID))
		return
	}
	var event *types.TransitionEvent
	applied := r.registry.Complete(c.Claim, func(prev types.MonitorRuntimeState) types.MonitorRuntimeState {
		next, ev := state.Apply(def, prev, c.Outcome)
		event = ev
		return next
	})
	if !applied {
		r.logger.Debug("discarding result of removed monitor", zap.String("monitor_id", def.ID))
		return
	}
	if !c.Outcome.Pass {
		r.logger.Debug("check failed", zap.String("monitor_id", def.ID), zap.String("message", c.Outcome.Message))
	}
	r.writer.RecordResult(types.RecordFromOutcome(def.ID, c.Outcome))
	if event != nil {
		r.metrics.IncTransitions(string(event.Current))
		r.recorder.Record(*event)
		r.dispatcher.Notify(def, *event)
	}
}

func (r *Runtime) statusCounts() map[string]int {
	counts := map[string]int{
		string(types.StatusPending): 0,
		string(types.StatusUp):      0,
		string(types.StatusDown):    0,
	}
	for _, e := range r.registry.List() {
		counts[string(e.State.Status)]++
	}
	return counts
}

// Bus exposes the live transition feed.
func (r *Runtime) Bus() *events.Bus { return r.bus }

func (r *Runtime) Health() *health.Checker { return r.health }

func (r *Runtime) Store() store.Store { return r.store }

// Done is closed once teardown has finished.
func (r *Runtime) Done() <-chan struct{} { return r.stopped }
