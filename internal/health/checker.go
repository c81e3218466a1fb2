package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/irisetthq/irisett/internal/metrics"
)

const (
	defaultTickStale = 30 * time.Second
	pingTimeout      = 2 * time.Second
)

// Pinger reports whether the persistence backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker evaluates readiness of the engine.
type Checker struct {
	store      Pinger
	recorder   metrics.ReadinessRecorder
	staleAfter time.Duration

	mu          sync.RWMutex
	initialized bool
	lastTick    time.Time
}

// NewChecker builds a readiness checker. staleAfter bounds how old the last
// scheduler tick may be before the engine counts as stalled.
func NewChecker(store Pinger, recorder metrics.ReadinessRecorder, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultTickStale
	}
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Checker{store: store, recorder: recorder, staleAfter: staleAfter}
}

// MarkInitialized records that definitions were loaded into the registry.
func (c *Checker) MarkInitialized() {
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
}

// ObserveTick records a completed scheduler tick.
func (c *Checker) ObserveTick(at time.Time) {
	c.mu.Lock()
	if at.After(c.lastTick) {
		c.lastTick = at
	}
	c.mu.Unlock()
}

// Ready returns the overall status and the reasons it is not ready.
func (c *Checker) Ready(ctx context.Context, now time.Time) (bool, []string) {
	var reasons []string

	c.mu.RLock()
	initialized := c.initialized
	lastTick := c.lastTick
	c.mu.RUnlock()

	if !initialized {
		reasons = append(reasons, "monitors not yet loaded")
	}
	if lastTick.IsZero() {
		reasons = append(reasons, "scheduler not yet ticking")
	} else if age := now.Sub(lastTick); age > c.staleAfter {
		reasons = append(reasons, fmt.Sprintf("scheduler stalled (%s since last tick)", age.Round(time.Second)))
	}
	if c.store != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := c.store.Ping(pctx)
		cancel()
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("store unreachable: %v", err))
		}
	}

	ready := len(reasons) == 0
	c.recorder.ObserveReadiness(ready)
	return ready, reasons
}
