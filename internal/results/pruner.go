package results

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultPruneSchedule = "@every 1h"

// Retention bounds stored results by age, by per-monitor count, or both.
// The zero value keeps everything.
type Retention struct {
	MaxAge   time.Duration
	MaxCount int
}

func (r Retention) Unlimited() bool { return r.MaxAge <= 0 && r.MaxCount <= 0 }

func (r Retention) String() string {
	switch {
	case r.Unlimited():
		return "unlimited"
	case r.MaxAge > 0 && r.MaxCount > 0:
		return fmt.Sprintf("%s / %d per monitor", r.MaxAge, r.MaxCount)
	case r.MaxAge > 0:
		return r.MaxAge.String()
	default:
		return fmt.Sprintf("%d per monitor", r.MaxCount)
	}
}

// PruneStore is the subset of the store the pruner needs.
type PruneStore interface {
	PruneResultsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PruneResultsBeyondCount(ctx context.Context, keep int) (int64, error)
}

type Pruner struct {
	store     PruneStore
	retention Retention
	schedule  string
	logger    *zap.Logger
	now       func() time.Time
}

type PrunerOption func(*Pruner)

func WithSchedule(spec string) PrunerOption {
	return func(p *Pruner) {
		if spec != "" {
			p.schedule = spec
		}
	}
}

func WithPrunerLogger(logger *zap.Logger) PrunerOption {
	return func(p *Pruner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPrunerNow(now func() time.Time) PrunerOption {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPruner(store PruneStore, retention Retention, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		store:     store,
		retention: retention,
		schedule:  DefaultPruneSchedule,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PruneOnce applies the retention policy. It does nothing when retention is unlimited.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.retention.Unlimited() {
		return 0, nil
	}
	var total int64
	if p.retention.MaxAge > 0 {
		n, err := p.store.PruneResultsOlderThan(ctx, p.now().Add(-p.retention.MaxAge))
		if err != nil {
			return total, fmt.Errorf("prune by age: %w", err)
		}
		total += n
	}
	if p.retention.MaxCount > 0 {
		n, err := p.store.PruneResultsBeyondCount(ctx, p.retention.MaxCount)
		if err != nil {
			return total, fmt.Errorf("prune by count: %w", err)
		}
		total += n
	}
	return total, nil
}

// Start schedules PruneOnce on the cron schedule until ctx is cancelled. With
// unlimited retention no job is scheduled at all.
func (p *Pruner) Start(ctx context.Context) error {
	if p.retention.Unlimited() {
		p.logger.Info("result retention unlimited, pruning disabled")
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(p.schedule, func() {
		removed, err := p.PruneOnce(ctx)
		if err != nil {
			p.logger.Warn("result pruning failed", zap.Error(err))
			return
		}
		p.logger.Debug("pruned results", zap.Int64("removed", removed), zap.Stringer("retention", p.retention))
	})
	if err != nil {
		return fmt.Errorf("prune schedule %q: %w", p.schedule, err)
	}

	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
