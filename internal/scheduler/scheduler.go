// Package scheduler turns due monitors into executor jobs on every tick.
package scheduler

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/irisetthq/irisett/internal/registry"
	"github.com/irisetthq/irisett/internal/worker"
)

var ErrQueueFull = errors.New("job queue full")

const (
	DefaultTickResolution  = time.Second
	DefaultMonitorInterval = 180 * time.Second
)

// Submitter accepts jobs without blocking. worker.Executor satisfies it.
type Submitter interface {
	Submit(worker.Job) bool
}

type Scheduler struct {
	registry        *registry.Registry
	executor        Submitter
	tickResolution  time.Duration
	defaultInterval time.Duration
	logger          *zap.Logger
}

type Option func(*Scheduler)

func WithTickResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickResolution = d
		}
	}
}

func WithDefaultInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.defaultInterval = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(reg *registry.Registry, executor Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:        reg,
		executor:        executor,
		tickResolution:  DefaultTickResolution,
		defaultInterval: DefaultMonitorInterval,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) TickResolution() time.Duration { return s.tickResolution }

// TickResult summarises one scheduling pass.
type TickResult struct {
	Submitted int
	Refused   int
}

// Tick claims every due monitor and hands it to the executor. Claims the
// executor refuses are released so the monitor is retried on the next tick.
func (s *Scheduler) Tick(now time.Time) TickResult {
	var res TickResult
	for _, c := range s.registry.ClaimDue(now, s.defaultInterval) {
		if s.executor.Submit(worker.Job{Claim: c}) {
			res.Submitted++
			continue
		}
		s.registry.Release(c)
		res.Refused++
	}
	if res.Refused > 0 {
		s.logger.Warn("executor refused jobs", zap.Int("refused", res.Refused), zap.Int("submitted", res.Submitted))
	}
	return res
}

// RunNow claims a single monitor outside its schedule.
func (s *Scheduler) RunNow(id string, now time.Time) error {
	c, err := s.registry.Claim(id, now, s.defaultInterval)
	if err != nil {
		return err
	}
	if !s.executor.Submit(worker.Job{Claim: c}) {
		s.registry.Release(c)
		return ErrQueueFull
	}
	return nil
}
