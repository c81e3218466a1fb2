package runtime

import (
	"time"

	"github.com/irisetthq/irisett/internal/notify"
	"github.com/irisetthq/irisett/internal/results"
	"github.com/irisetthq/irisett/internal/scheduler"
	"github.com/irisetthq/irisett/internal/worker"
)

const (
	DefaultDownThreshold      = 3
	DefaultShutdownGrace      = 10 * time.Second
	DefaultWriteQueueCapacity = 10000
	DefaultStartupSpread      = time.Minute
	defaultBusBuffer          = 64
)

type Option func(*settings)

type settings struct {
	maxConcurrent      int
	maxQueued          int
	defaultInterval    time.Duration
	defaultThreshold   int
	tickResolution     time.Duration
	shutdownGrace      time.Duration
	writeQueueCapacity int
	startupSpread      time.Duration
	retention          results.Retention
	pruneSchedule      string
	notifyOpts         []notify.Option
	busBuffer          int
	now                func() time.Time
}

func defaultSettings() settings {
	return settings{
		maxConcurrent:      worker.DefaultMaxConcurrent,
		maxQueued:          worker.DefaultMaxQueued,
		defaultInterval:    scheduler.DefaultMonitorInterval,
		defaultThreshold:   DefaultDownThreshold,
		tickResolution:     scheduler.DefaultTickResolution,
		shutdownGrace:      DefaultShutdownGrace,
		writeQueueCapacity: DefaultWriteQueueCapacity,
		startupSpread:      DefaultStartupSpread,
		busBuffer:          defaultBusBuffer,
		now:                time.Now,
	}
}

func WithMaxConcurrentJobs(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

func WithMaxQueuedJobs(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxQueued = n
		}
	}
}

func WithDefaultInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.defaultInterval = d
		}
	}
}

func WithDefaultDownThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.defaultThreshold = n
		}
	}
}

func WithTickResolution(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.tickResolution = d
		}
	}
}

func WithShutdownGrace(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.shutdownGrace = d
		}
	}
}

func WithWriteQueueCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.writeQueueCapacity = n
		}
	}
}

// WithStartupSpread spreads the first checks of loaded monitors uniformly over
// d, capped at each monitor's interval. Zero makes them all due at once.
func WithStartupSpread(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.startupSpread = d
		}
	}
}

// WithRetention enables periodic pruning of stored results on a cron schedule.
func WithRetention(r results.Retention, schedule string) Option {
	return func(s *settings) {
		s.retention = r
		s.pruneSchedule = schedule
	}
}

func WithNotifyOptions(opts ...notify.Option) Option {
	return func(s *settings) {
		s.notifyOpts = append(s.notifyOpts, opts...)
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}
