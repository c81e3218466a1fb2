// Package results persists check results and alert history off the engine's
// critical path and enforces result retention.
package results

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/irisetthq/irisett/internal/metrics"
	"github.com/irisetthq/irisett/internal/queue"
	"github.com/irisetthq/irisett/pkg/types"
)

// Sink is the subset of the store the writer needs.
type Sink interface {
	InsertResult(ctx context.Context, rec types.ResultRecord) error
	InsertAlertHistory(ctx context.Context, ev types.TransitionEvent) error
}

type Option func(*Writer)

func WithBatchSize(size int) Option {
	return func(w *Writer) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithIdleSleep(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.idleSleep = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(rec metrics.PersistenceRecorder) Option {
	return func(w *Writer) {
		if rec != nil {
			w.metrics = rec
		}
	}
}

// Writer drains the write queue into the store. Enqueueing never blocks; a
// failed write is logged, counted and dropped.
type Writer struct {
	queue     *queue.WriteQueue
	sink      Sink
	batchSize int
	idleSleep time.Duration
	logger    *zap.Logger
	metrics   metrics.PersistenceRecorder
}

func NewWriter(q *queue.WriteQueue, sink Sink, opts ...Option) *Writer {
	w := &Writer{
		queue:     q,
		sink:      sink,
		batchSize: 256,
		idleSleep: 100 * time.Millisecond,
		logger:    zap.NewNop(),
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RecordResult schedules a check result for persistence.
func (w *Writer) RecordResult(rec types.ResultRecord) {
	w.queue.Enqueue(queue.Item{Kind: queue.KindResult, Result: rec})
}

// Record schedules an alert history entry; it makes Writer an events.Recorder.
func (w *Writer) Record(ev types.TransitionEvent) {
	w.queue.Enqueue(queue.Item{Kind: queue.KindAlert, Alert: ev})
}

// Run blocks until ctx is cancelled, writing batches as they accumulate.
func (w *Writer) Run(ctx context.Context) error {
	if w.queue == nil || w.sink == nil {
		return errors.New("results writer requires a queue and a sink")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.flushBatch(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.idleSleep):
		}
	}
}

// Flush writes everything currently queued, stopping early when ctx expires.
func (w *Writer) Flush(ctx context.Context) error {
	for w.flushBatch(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (w *Writer) flushBatch(ctx context.Context) bool {
	batch := w.queue.Drain(w.batchSize)
	if len(batch) == 0 {
		return false
	}
	for i, item := range batch {
		if err := w.write(ctx, item); err != nil {
			if ctx.Err() != nil {
				w.queue.Requeue(batch[i:])
				return false
			}
			op := "insert_result"
			if item.Kind == queue.KindAlert {
				op = "insert_alert"
			}
			w.metrics.IncPersistenceErrors(op)
			w.logger.Warn("persistence write failed",
				zap.String("op", op),
				zap.String("monitor_id", item.MonitorID()),
				zap.Error(err))
		}
	}
	return true
}

func (w *Writer) write(ctx context.Context, item queue.Item) error {
	switch item.Kind {
	case queue.KindAlert:
		return w.sink.InsertAlertHistory(ctx, item.Alert)
	default:
		return w.sink.InsertResult(ctx, item.Result)
	}
}
