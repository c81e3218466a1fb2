package state

import (
	"testing"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

func outcomeAt(pass bool, ts time.Time, msg string) types.CheckOutcome {
	return types.CheckOutcome{Pass: pass, Timestamp: ts, Message: msg}
}

func TestFailuresBelowThresholdDoNotAlert(t *testing.T) {
	def := types.MonitorDefinition{ID: "mon1", DownThreshold: 5}
	for _, initial := range []types.Status{types.StatusPending, types.StatusUp} {
		st := types.MonitorRuntimeState{Status: initial}
		now := time.Unix(0, 0)
		for i := 1; i < def.DownThreshold; i++ {
			var evt *types.TransitionEvent
			st, evt = Apply(def, st, outcomeAt(false, now, "refused"))
			if evt != nil {
				t.Fatalf("unexpected event after %d failures from %s: %+v", i, initial, evt)
			}
			if st.Status == types.StatusDown {
				t.Fatalf("went DOWN after %d failures from %s", i, initial)
			}
			if st.ConsecutiveFailures != i {
				t.Fatalf("expected %d failures, got %d", i, st.ConsecutiveFailures)
			}
			now = now.Add(time.Second)
		}
	}
}

func TestThresholdScenario(t *testing.T) {
	def := types.MonitorDefinition{ID: "M", DownThreshold: 3, Description: "web"}
	st := types.NewRuntimeState(time.Time{})
	now := time.Unix(1000, 0)

	var events []*types.TransitionEvent
	step := func(pass bool) {
		var evt *types.TransitionEvent
		st, evt = Apply(def, st, outcomeAt(pass, now, "msg"))
		if evt != nil {
			events = append(events, evt)
		}
		now = now.Add(time.Minute)
	}

	step(false)
	step(false)
	if len(events) != 0 {
		t.Fatalf("expected no events after two failures, got %d", len(events))
	}
	step(false)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event after third failure, got %d", len(events))
	}
	if events[0].Previous != types.StatusPending || events[0].Current != types.StatusDown {
		t.Fatalf("unexpected transition: %+v", events[0])
	}
	if events[0].MonitorID != "M" || events[0].Description != "web" {
		t.Fatalf("unexpected event identity: %+v", events[0])
	}

	step(false)
	if len(events) != 1 {
		t.Fatalf("fourth failure must not emit, got %d events", len(events))
	}
	if st.ConsecutiveFailures != 4 {
		t.Fatalf("expected 4 consecutive failures, got %d", st.ConsecutiveFailures)
	}

	step(true)
	if len(events) != 2 {
		t.Fatalf("expected recovery event, got %d events", len(events))
	}
	if events[1].Previous != types.StatusDown || events[1].Current != types.StatusUp {
		t.Fatalf("unexpected recovery transition: %+v", events[1])
	}
	if st.ConsecutiveFailures != 0 || st.ConsecutiveSuccesses != 1 {
		t.Fatalf("unexpected counters after recovery: %+v", st)
	}
}

func TestUpToDownCarriesPreviousStatus(t *testing.T) {
	def := types.MonitorDefinition{ID: "mon1", DownThreshold: 2}
	st := types.MonitorRuntimeState{Status: types.StatusUp, ConsecutiveSuccesses: 7}
	now := time.Unix(0, 0)

	st, evt := Apply(def, st, outcomeAt(false, now, "a"))
	if evt != nil {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if st.ConsecutiveSuccesses != 0 {
		t.Fatalf("success counter not reset: %d", st.ConsecutiveSuccesses)
	}
	_, evt = Apply(def, st, outcomeAt(false, now, "b"))
	if evt == nil || evt.Previous != types.StatusUp || evt.Current != types.StatusDown {
		t.Fatalf("expected UP->DOWN, got %+v", evt)
	}
	if evt.Message != "b" {
		t.Fatalf("expected last diagnostic on event, got %q", evt.Message)
	}
}

func TestSinglePassRecoversRegardlessOfFailureCount(t *testing.T) {
	def := types.MonitorDefinition{ID: "mon1", DownThreshold: 1}
	st := types.MonitorRuntimeState{Status: types.StatusDown, ConsecutiveFailures: 500}

	next, evt := Apply(def, st, outcomeAt(true, time.Unix(5, 0), "ok"))
	if evt == nil || evt.Current != types.StatusUp {
		t.Fatalf("expected DOWN->UP event, got %+v", evt)
	}
	if next.Status != types.StatusUp || next.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected state: %+v", next)
	}
	if !next.LastTransition.Equal(time.Unix(5, 0)) {
		t.Fatalf("unexpected transition time: %s", next.LastTransition)
	}
}

func TestFirstPassFromPendingIsSilent(t *testing.T) {
	def := types.MonitorDefinition{ID: "mon1", DownThreshold: 3}
	next, evt := Apply(def, types.NewRuntimeState(time.Time{}), outcomeAt(true, time.Unix(1, 0), ""))
	if evt != nil {
		t.Fatalf("baseline pass must not notify: %+v", evt)
	}
	if next.Status != types.StatusUp {
		t.Fatalf("expected UP, got %s", next.Status)
	}
}

func TestPassWhileUpKeepsStatus(t *testing.T) {
	def := types.MonitorDefinition{ID: "mon1", DownThreshold: 3}
	st := types.MonitorRuntimeState{Status: types.StatusUp, ConsecutiveFailures: 2, LastTransition: time.Unix(1, 0)}
	next, evt := Apply(def, st, outcomeAt(true, time.Unix(9, 0), "fine"))
	if evt != nil {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if next.ConsecutiveFailures != 0 {
		t.Fatalf("failure counter not reset: %d", next.ConsecutiveFailures)
	}
	if !next.LastTransition.Equal(time.Unix(1, 0)) {
		t.Fatalf("transition time should not move: %s", next.LastTransition)
	}
	if next.LastMessage != "fine" || !next.LastCheck.Equal(time.Unix(9, 0)) {
		t.Fatalf("last check fields not updated: %+v", next)
	}
}

func TestTimeoutOutcomeTreatedAsFailure(t *testing.T) {
	def := types.MonitorDefinition{ID: "mon1", DownThreshold: 1}
	st := types.MonitorRuntimeState{Status: types.StatusUp}
	next, evt := Apply(def, st, outcomeAt(false, time.Unix(1, 0), "timeout after 5s"))
	if evt == nil || next.Status != types.StatusDown {
		t.Fatalf("expected DOWN on timeout, got %+v %+v", next, evt)
	}
}

func TestZeroThresholdBehavesAsOne(t *testing.T) {
	def := types.MonitorDefinition{ID: "mon1"}
	_, evt := Apply(def, types.MonitorRuntimeState{Status: types.StatusUp}, outcomeAt(false, time.Unix(1, 0), ""))
	if evt == nil {
		t.Fatalf("expected event with threshold clamped to 1")
	}
}
