// Package state implements the per-monitor up/down state machine.
//
// Failures are debounced: a monitor only goes DOWN once its consecutive failure
// count reaches the down threshold. Recovery is immediate: the first passing
// check after DOWN returns the monitor to UP.
package state

import (
	"github.com/irisetthq/irisett/pkg/types"
)

// Apply folds a check outcome into the previous runtime state of def and returns the new
// state together with the transition event, if the status changed in a way that notifies.
func Apply(def types.MonitorDefinition, prev types.MonitorRuntimeState, outcome types.CheckOutcome) (types.MonitorRuntimeState, *types.TransitionEvent) {
	next := prev
	next.LastCheck = outcome.Timestamp
	next.LastMessage = outcome.Message

	threshold := def.DownThreshold
	if threshold < 1 {
		threshold = 1
	}

	if outcome.Pass {
		next.ConsecutiveSuccesses++
		next.ConsecutiveFailures = 0
		switch prev.Status {
		case types.StatusDown:
			next.Status = types.StatusUp
			next.LastTransition = outcome.Timestamp
			return next, newEvent(def, prev.Status, next)
		case types.StatusPending, "":
			// The first observation sets the baseline without notifying.
			next.Status = types.StatusUp
			next.LastTransition = outcome.Timestamp
		}
		return next, nil
	}

	next.ConsecutiveFailures++
	next.ConsecutiveSuccesses = 0
	if prev.Status == "" {
		next.Status = types.StatusPending
	}
	if next.ConsecutiveFailures >= threshold && prev.Status != types.StatusDown {
		next.Status = types.StatusDown
		next.LastTransition = outcome.Timestamp
		previous := prev.Status
		if previous == "" {
			previous = types.StatusPending
		}
		return next, newEvent(def, previous, next)
	}
	return next, nil
}

func newEvent(def types.MonitorDefinition, previous types.Status, next types.MonitorRuntimeState) *types.TransitionEvent {
	return &types.TransitionEvent{
		MonitorID:   def.ID,
		Description: def.Description,
		Previous:    previous,
		Current:     next.Status,
		Timestamp:   next.LastCheck,
		Message:     next.LastMessage,
	}
}
