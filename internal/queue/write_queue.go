// Package queue buffers pending persistence writes between the engine loop and
// the store writer.
package queue

import (
	"sync"

	"github.com/irisetthq/irisett/internal/metrics"
	"github.com/irisetthq/irisett/pkg/types"
)

type Kind int

const (
	KindResult Kind = iota + 1
	KindAlert
)

// Item is one pending write: a check result or an alert history entry.
type Item struct {
	Kind   Kind
	Result types.ResultRecord
	Alert  types.TransitionEvent
}

func (i Item) MonitorID() string {
	if i.Kind == KindAlert {
		return i.Alert.MonitorID
	}
	return i.Result.MonitorID
}

// WriteQueue is a bounded FIFO that drops its oldest item when full so the
// producer never blocks.
type WriteQueue struct {
	mu       sync.Mutex
	capacity int
	items    []Item
	dropped  uint64
	metrics  metrics.QueueRecorder
}

func NewWriteQueue(capacity int) *WriteQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &WriteQueue{
		capacity: capacity,
		items:    make([]Item, 0, min(capacity, 1024)),
		metrics:  metrics.Noop{},
	}
}

func (q *WriteQueue) SetMetricsRecorder(rec metrics.QueueRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec != nil {
		q.metrics = rec
	}
}

// Enqueue appends item, evicting the oldest entry when the queue is full.
func (q *WriteQueue) Enqueue(item Item) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items[0] = Item{}
		q.items = q.items[1:]
		dropped = true
		q.dropped++
		q.metrics.IncQueueDrops()
	}
	q.items = append(q.items, item)
	q.metrics.ObserveQueueDepth(len(q.items))
	return dropped
}

// Requeue puts items back at the head of the queue, preserving their order.
// Items that no longer fit are discarded and counted as dropped.
func (q *WriteQueue) Requeue(items []Item) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	room := q.capacity - len(q.items)
	if room < len(items) {
		lost := len(items) - max(room, 0)
		q.dropped += uint64(lost)
		for i := 0; i < lost; i++ {
			q.metrics.IncQueueDrops()
		}
		items = items[lost:]
	}
	merged := make([]Item, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	merged = append(merged, q.items...)
	q.items = merged
	q.metrics.ObserveQueueDepth(len(q.items))
}

// Drain removes and returns up to max items; max <= 0 drains everything.
func (q *WriteQueue) Drain(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	drained := make([]Item, n)
	copy(drained, q.items[:n])
	for i := 0; i < n; i++ {
		q.items[i] = Item{}
	}
	q.items = q.items[n:]
	q.metrics.ObserveQueueDepth(len(q.items))
	return drained
}

func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type Stats struct {
	Len     int    `json:"len"`
	Dropped uint64 `json:"dropped"`
}

func (q *WriteQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Len: len(q.items), Dropped: q.dropped}
}
