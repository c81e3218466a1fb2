package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/irisetthq/irisett/internal/metrics"
	"github.com/irisetthq/irisett/pkg/types"
)

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
	DefaultRatePerSecond  = 10
)

// ContactSource resolves the contacts that should hear about a monitor.
type ContactSource interface {
	ListContactsForMonitor(ctx context.Context, monitorID string) ([]types.Contact, error)
	ResolveContacts(ctx context.Context, def types.MonitorDefinition) ([]types.Contact, error)
}

// Target is one (channel, address) delivery destination.
type Target struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
}

type Option func(*Dispatcher)

func WithRetry(maxAttempts int, initial, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if initial > 0 {
			d.initialBackoff = initial
		}
		if maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithRateLimit caps outgoing deliveries per second across all channels.
// Deliveries wait for a token; none are discarded.
func WithRateLimit(perSecond float64) Option {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(rec metrics.DeliveryRecorder) Option {
	return func(d *Dispatcher) {
		if rec != nil {
			d.metrics = rec
		}
	}
}

// Dispatcher fans transitions out to contacts. Events for one monitor are
// delivered strictly in order; different monitors proceed concurrently.
// Record never blocks the caller.
type Dispatcher struct {
	channels       *Channels
	contacts       ContactSource
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	limiter        *rate.Limiter
	logger         *zap.Logger
	metrics        metrics.DeliveryRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*monitorQueue
	closed bool
}

type monitorQueue struct {
	pending []delivery
}

// delivery is a queued event. def is the definition as it was when the event
// fired; nil means contacts are looked up by monitor ID.
type delivery struct {
	ev  types.TransitionEvent
	def *types.MonitorDefinition
}

func NewDispatcher(channels *Channels, contacts ContactSource, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		channels:       channels,
		contacts:       contacts,
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		limiter:        rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultRatePerSecond),
		logger:         zap.NewNop(),
		metrics:        metrics.Noop{},
		ctx:            ctx,
		cancel:         cancel,
		queues:         make(map[string]*monitorQueue),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Record queues ev for delivery. It makes Dispatcher an events.Recorder.
// Contacts are resolved from the stored definition at delivery time.
func (d *Dispatcher) Record(ev types.TransitionEvent) {
	d.enqueue(delivery{ev: ev})
}

// Notify queues ev and resolves its contacts from def, so the event still
// reaches its contacts when the monitor is deleted before delivery.
func (d *Dispatcher) Notify(def types.MonitorDefinition, ev types.TransitionEvent) {
	def = def.Clone()
	d.enqueue(delivery{ev: ev, def: &def})
}

func (d *Dispatcher) enqueue(item delivery) {
	ev := item.ev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("notification dropped after shutdown", zap.String("monitor_id", ev.MonitorID))
		return
	}
	q, running := d.queues[ev.MonitorID]
	if !running {
		q = &monitorQueue{}
		d.queues[ev.MonitorID] = q
	}
	q.pending = append(q.pending, item)
	if !running {
		d.wg.Add(1)
		go d.drain(ev.MonitorID, q)
	}
}

// drain delivers a monitor's queued events in order and exits once the queue is
// empty; the next Record for that monitor starts a fresh goroutine.
func (d *Dispatcher) drain(monitorID string, q *monitorQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, monitorID)
			d.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending[0] = delivery{}
		q.pending = q.pending[1:]
		d.mu.Unlock()

		d.deliver(d.ctx, item)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item delivery) {
	ev := item.ev
	var contacts []types.Contact
	var err error
	if item.def != nil {
		contacts, err = d.contacts.ResolveContacts(ctx, *item.def)
	} else {
		contacts, err = d.contacts.ListContactsForMonitor(ctx, ev.MonitorID)
	}
	if err != nil {
		d.logger.Warn("contact resolution failed", zap.String("monitor_id", ev.MonitorID), zap.Error(err))
		return
	}
	msg := MessageFromEvent(ev)
	for _, target := range targetsOf(contacts) {
		ch, err := d.channels.Get(target.Channel)
		if err != nil {
			d.logger.Debug("no channel configured for contact address",
				zap.String("monitor_id", ev.MonitorID), zap.String("channel", target.Channel))
			continue
		}
		if err := d.sendWithRetry(ctx, ch, target, msg); err != nil {
			d.logger.Error("notification dropped after retries",
				zap.String("monitor_id", ev.MonitorID),
				zap.String("channel", target.Channel),
				zap.String("address", target.Address),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, ch Channel, target Target, msg Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialBackoff
	policy.MaxInterval = d.maxBackoff
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = policy
	if d.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(d.maxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	return backoff.RetryNotify(func() error {
		err := d.send(ctx, ch, target, msg)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		d.logger.Debug("notification attempt failed",
			zap.String("channel", target.Channel),
			zap.String("address", target.Address),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	})
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, target Target, msg Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := ch.Send(ctx, target.Address, msg)
	d.metrics.IncDeliveries(target.Channel, err == nil)
	return err
}

// targetsOf returns the deduplicated (channel, address) pairs of the active
// contacts in a stable order.
func targetsOf(contacts []types.Contact) []Target {
	seen := make(map[Target]struct{})
	var out []Target
	for _, c := range contacts {
		if !c.Active {
			continue
		}
		for channel, address := range c.Addresses {
			if address == "" {
				continue
			}
			t := Target{Channel: channel, Address: address}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel == out[j].Channel {
			return out[i].Address < out[j].Address
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// TestResult reports the outcome of one test delivery.
type TestResult struct {
	Target
	Error string `json:"error,omitempty"`
}

// SendTest delivers a synthetic message once to every resolved target of def,
// without retries, and reports each outcome.
func (d *Dispatcher) SendTest(ctx context.Context, def types.MonitorDefinition) ([]TestResult, error) {
	contacts, err := d.contacts.ResolveContacts(ctx, def)
	if err != nil {
		return nil, err
	}
	targets := targetsOf(contacts)
	msg := Message{
		MonitorID:   def.ID,
		Description: def.Description,
		Timestamp:   time.Now().UTC(),
		Test:        true,
	}
	results := make([]TestResult, 0, len(targets))
	for _, target := range targets {
		res := TestResult{Target: target}
		ch, err := d.channels.Get(target.Channel)
		if err == nil {
			err = d.send(ctx, ch, target, msg)
		}
		if err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				err = perm.Err
			}
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

// Pending reports how many events are queued or being delivered.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q.pending) + 1
	}
	return n
}

// Shutdown stops accepting events and waits for queued deliveries. When ctx
// expires first, in-progress retries are cancelled and ctx.Err is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
