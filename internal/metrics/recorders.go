package metrics

import "time"

type QueueRecorder interface {
	ObserveQueueDepth(depth int)
	IncQueueDrops()
}

type ExecutorRecorder interface {
	ObserveExecutor(running, queued int)
	IncJobsRejected()
	IncJobTimeouts()
	ObserveCheck(checkType string, pass bool, d time.Duration)
}

type EngineRecorder interface {
	IncTransitions(status string)
	ObserveMonitors(counts map[string]int)
	ObserveTick(at time.Time)
}

type PersistenceRecorder interface {
	IncPersistenceErrors(op string)
}

type DeliveryRecorder interface {
	IncDeliveries(channel string, ok bool)
}

type ReadinessRecorder interface {
	ObserveReadiness(ready bool)
}

// Noop satisfies every recorder interface and discards observations.
type Noop struct{}

func (Noop) ObserveQueueDepth(int)                    {}
func (Noop) IncQueueDrops()                           {}
func (Noop) ObserveExecutor(int, int)                 {}
func (Noop) IncJobsRejected()                         {}
func (Noop) IncJobTimeouts()                          {}
func (Noop) ObserveCheck(string, bool, time.Duration) {}
func (Noop) IncTransitions(string)                    {}
func (Noop) ObserveMonitors(map[string]int)           {}
func (Noop) ObserveTick(time.Time)                    {}
func (Noop) IncPersistenceErrors(string)              {}
func (Noop) IncDeliveries(string, bool)               {}
func (Noop) ObserveReadiness(bool)                    {}
