// Package events fans monitor transitions out to interested consumers.
package events

import (
	"go.uber.org/zap"

	"github.com/irisetthq/irisett/pkg/types"
)

// Recorder consumes transition events. Implementations must not block the caller
// for longer than it takes to hand the event off.
type Recorder interface {
	Record(event types.TransitionEvent)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(types.TransitionEvent) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.TransitionEvent) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes every transition to a structured logger at info level.
type LogRecorder struct {
	Logger *zap.Logger
}

func (l LogRecorder) Record(event types.TransitionEvent) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("monitor state changed",
		zap.String("monitor_id", event.MonitorID),
		zap.String("previous", string(event.Previous)),
		zap.String("current", string(event.Current)),
		zap.String("message", event.Message),
	)
}
