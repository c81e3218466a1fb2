package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/irisetthq/irisett/internal/registry"
	"github.com/irisetthq/irisett/internal/worker"
	"github.com/irisetthq/irisett/pkg/types"
)

type fakeExecutor struct {
	accept int
	jobs   []worker.Job
}

func (f *fakeExecutor) Submit(job worker.Job) bool {
	if f.accept >= 0 && len(f.jobs) >= f.accept {
		return false
	}
	f.jobs = append(f.jobs, job)
	return true
}

func monitor(id string, interval time.Duration) types.MonitorDefinition {
	return types.MonitorDefinition{ID: id, CheckType: "tcp", Interval: interval, DownThreshold: 3, Enabled: true}
}

func TestTickSubmitsDueMonitors(t *testing.T) {
	start := time.Unix(1000, 0)
	reg := registry.New()
	_ = reg.Add(monitor("a", 50*time.Second), start.Add(50*time.Second))
	exec := &fakeExecutor{accept: -1}
	s := New(reg, exec)

	if res := s.Tick(start.Add(40 * time.Second)); res.Submitted != 0 {
		t.Fatalf("unexpected submission before due: %+v", res)
	}
	if res := s.Tick(start.Add(50 * time.Second)); res.Submitted != 1 {
		t.Fatalf("expected one submission at due time: %+v", res)
	}
	if exec.jobs[0].Claim.Definition.ID != "a" || exec.jobs[0].Claim.ScheduledFor.IsZero() {
		t.Fatalf("unexpected job: %+v", exec.jobs[0])
	}
}

func TestTickDoesNotDoubleSubmitInFlight(t *testing.T) {
	start := time.Unix(1000, 0)
	reg := registry.New()
	_ = reg.Add(monitor("a", time.Second), start)
	exec := &fakeExecutor{accept: -1}
	s := New(reg, exec)

	for i := 0; i < 10; i++ {
		s.Tick(start.Add(time.Duration(i) * time.Second))
	}
	if len(exec.jobs) != 1 {
		t.Fatalf("expected one submission while the check is in flight, got %d", len(exec.jobs))
	}

	reg.Complete(exec.jobs[0].Claim, func(st types.MonitorRuntimeState) types.MonitorRuntimeState { return st })
	s.Tick(start.Add(20 * time.Second))
	if len(exec.jobs) != 2 {
		t.Fatalf("expected resubmission after completion, got %d", len(exec.jobs))
	}
}

func TestTickReleasesRefusedClaims(t *testing.T) {
	start := time.Unix(1000, 0)
	reg := registry.New()
	_ = reg.Add(monitor("a", time.Minute), start)
	_ = reg.Add(monitor("b", time.Minute), start)
	exec := &fakeExecutor{accept: 1}
	s := New(reg, exec)

	res := s.Tick(start)
	if res.Submitted != 1 || res.Refused != 1 {
		t.Fatalf("unexpected tick result: %+v", res)
	}

	exec.accept = -1
	res = s.Tick(start.Add(time.Second))
	if res.Submitted != 1 {
		t.Fatalf("expected refused monitor retried on next tick: %+v", res)
	}
	if exec.jobs[1].Claim.Definition.ID != "b" {
		t.Fatalf("expected monitor b retried, got %s", exec.jobs[1].Claim.Definition.ID)
	}
}

func TestTickSkipsDisabledAndRemoved(t *testing.T) {
	start := time.Unix(1000, 0)
	reg := registry.New()
	disabled := monitor("off", time.Second)
	disabled.Enabled = false
	_ = reg.Add(disabled, start)
	_ = reg.Add(monitor("gone", time.Second), start)
	_ = reg.Remove("gone")
	exec := &fakeExecutor{accept: -1}

	if res := New(reg, exec).Tick(start.Add(time.Hour)); res.Submitted != 0 {
		t.Fatalf("expected nothing submitted: %+v", res)
	}
}

func TestTickUsesDefaultInterval(t *testing.T) {
	start := time.Unix(1000, 0)
	reg := registry.New()
	_ = reg.Add(monitor("a", 0), start)
	s := New(reg, &fakeExecutor{accept: -1}, WithDefaultInterval(30*time.Second))

	s.Tick(start)
	entry, _ := reg.Get("a")
	if want := start.Add(30 * time.Second); !entry.State.NextDue.Equal(want) {
		t.Fatalf("next due = %s, want %s", entry.State.NextDue, want)
	}
}

func TestRunNow(t *testing.T) {
	start := time.Unix(1000, 0)
	reg := registry.New()
	_ = reg.Add(monitor("a", time.Hour), start.Add(time.Hour))
	exec := &fakeExecutor{accept: 1}
	s := New(reg, exec)

	if err := s.RunNow("a", start); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if err := s.RunNow("a", start); !errors.Is(err, registry.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if err := s.RunNow("missing", start); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = reg.Add(monitor("b", time.Hour), start.Add(time.Hour))
	if err := s.RunNow("b", start); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	entry, _ := reg.Get("b")
	if entry.InFlight {
		t.Fatalf("refused run-now left the monitor in flight")
	}
}
