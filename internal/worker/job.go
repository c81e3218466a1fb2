package worker

import (
	"time"

	"github.com/irisetthq/irisett/internal/registry"
	"github.com/irisetthq/irisett/pkg/types"
)

// Job is one claimed check awaiting execution.
type Job struct {
	Claim registry.Claim
}

func (j Job) MonitorID() string { return j.Claim.Definition.ID }

// Completion carries a finished job back to the owner of the registry.
// Cancelled jobs were interrupted by shutdown; their outcome says nothing
// about the monitored target.
type Completion struct {
	Claim     registry.Claim
	Outcome   types.CheckOutcome
	TimedOut  bool
	Cancelled bool
	Started   time.Time
}
