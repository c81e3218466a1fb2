package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/irisetthq/irisett/internal/notify"
	"github.com/irisetthq/irisett/internal/queue"
	"github.com/irisetthq/irisett/internal/registry"
	"github.com/irisetthq/irisett/internal/store"
	"github.com/irisetthq/irisett/internal/worker"
	"github.com/irisetthq/irisett/pkg/types"
)

// ErrInvalidDefinition wraps every reason a definition or contact is rejected.
var ErrInvalidDefinition = errors.New("invalid definition")

// MonitorView is a monitor definition together with its live state.
type MonitorView struct {
	Definition types.MonitorDefinition   `json:"definition"`
	State      types.MonitorRuntimeState `json:"state"`
	InFlight   bool                      `json:"in_flight"`
}

func viewOf(e registry.Entry) MonitorView {
	return MonitorView{Definition: e.Definition, State: e.State, InFlight: e.InFlight}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

// normalize fills defaults and validates def against the check registry.
func (r *Runtime) normalize(def types.MonitorDefinition) (types.MonitorDefinition, error) {
	def = def.Clone()
	def.ID = strings.TrimSpace(def.ID)
	def.CheckType = strings.TrimSpace(def.CheckType)
	if def.ID == "" {
		return def, invalid("id is required")
	}
	if def.Interval < 0 {
		return def, invalid("interval must not be negative")
	}
	if def.Interval == 0 {
		def.Interval = r.defaultInterval
	}
	if def.DownThreshold < 0 {
		return def, invalid("down_threshold must not be negative")
	}
	if def.DownThreshold == 0 {
		def.DownThreshold = r.defaultThreshold
	}
	if err := r.checks.Validate(def.CheckType, def.Params); err != nil {
		return def, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return def, nil
}

// AddMonitor validates, persists and schedules a new monitor. An empty ID is
// replaced by a generated one. The first check is due immediately.
func (r *Runtime) AddMonitor(ctx context.Context, def types.MonitorDefinition) (types.MonitorDefinition, error) {
	if strings.TrimSpace(def.ID) == "" {
		def.ID = uuid.NewString()
	}
	def, err := r.normalize(def)
	if err != nil {
		return def, err
	}

	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	if _, ok := r.registry.Get(def.ID); ok {
		return def, registry.ErrExists
	}
	if err := r.store.SaveDefinition(ctx, def); err != nil {
		return def, fmt.Errorf("save monitor %s: %w", def.ID, err)
	}
	if err := r.registry.Add(def, r.now()); err != nil {
		return def, err
	}
	r.logger.Info("monitor added", zap.String("monitor_id", def.ID), zap.String("check_type", def.CheckType))
	return def, nil
}

// UpdateMonitor replaces the definition of an existing monitor. A check already
// in flight finishes with the definition it was started with.
func (r *Runtime) UpdateMonitor(ctx context.Context, id string, def types.MonitorDefinition) (types.MonitorDefinition, error) {
	def.ID = id
	def, err := r.normalize(def)
	if err != nil {
		return def, err
	}

	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	if _, ok := r.registry.Get(def.ID); !ok {
		return def, registry.ErrNotFound
	}
	if err := r.store.SaveDefinition(ctx, def); err != nil {
		return def, fmt.Errorf("save monitor %s: %w", def.ID, err)
	}
	if err := r.registry.Update(def.ID, def); err != nil {
		return def, err
	}
	r.logger.Info("monitor updated", zap.String("monitor_id", def.ID))
	return def, nil
}

// RemoveMonitor stops scheduling id and discards its runtime state. The
// result of a check in flight at that moment is dropped.
func (r *Runtime) RemoveMonitor(ctx context.Context, id string) error {
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	if _, ok := r.registry.Get(id); !ok {
		return registry.ErrNotFound
	}
	if err := r.store.DeleteDefinition(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete monitor %s: %w", id, err)
	}
	if err := r.registry.Remove(id); err != nil {
		return err
	}
	if err := r.dropFromMonitorGroups(ctx, id); err != nil {
		r.logger.Warn("monitor group cleanup failed", zap.String("monitor_id", id), zap.Error(err))
	}
	r.logger.Info("monitor removed", zap.String("monitor_id", id))
	return nil
}

func (r *Runtime) dropFromMonitorGroups(ctx context.Context, id string) error {
	groups, err := r.store.ListMonitorGroups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		kept := g.MonitorIDs[:0]
		for _, mid := range g.MonitorIDs {
			if mid != id {
				kept = append(kept, mid)
			}
		}
		if len(kept) == len(g.MonitorIDs) {
			continue
		}
		g.MonitorIDs = kept
		if err := r.store.SaveMonitorGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) GetMonitor(id string) (MonitorView, error) {
	e, ok := r.registry.Get(id)
	if !ok {
		return MonitorView{}, registry.ErrNotFound
	}
	return viewOf(e), nil
}

func (r *Runtime) ListMonitors() []MonitorView {
	entries := r.registry.List()
	out := make([]MonitorView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewOf(e))
	}
	return out
}

// ActiveAlerts lists the monitors that are currently DOWN.
func (r *Runtime) ActiveAlerts() []MonitorView {
	var out []MonitorView
	for _, e := range r.registry.List() {
		if e.State.Status == types.StatusDown {
			out = append(out, viewOf(e))
		}
	}
	return out
}

// RunNow queues an immediate check of id. It fails with registry.ErrInFlight
// while a check of the monitor is already running.
func (r *Runtime) RunNow(id string) error {
	return r.scheduler.RunNow(id, r.now())
}

// SendTest delivers a test notification to every contact of id.
func (r *Runtime) SendTest(ctx context.Context, id string) ([]notify.TestResult, error) {
	e, ok := r.registry.Get(id)
	if !ok {
		return nil, registry.ErrNotFound
	}
	return r.dispatcher.SendTest(ctx, e.Definition)
}

// SaveContact validates and stores c. Every address must name a registered
// notification channel.
func (r *Runtime) SaveContact(ctx context.Context, c types.Contact) (types.Contact, error) {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.NewString()
	}
	for channel, address := range c.Addresses {
		if _, err := r.channels.Get(channel); err != nil {
			return c, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
		if strings.TrimSpace(address) == "" {
			return c, invalid("empty address for channel %s", channel)
		}
	}
	if err := r.store.SaveContact(ctx, c); err != nil {
		return c, fmt.Errorf("save contact %s: %w", c.ID, err)
	}
	return c, nil
}

func (r *Runtime) SaveContactGroup(ctx context.Context, g types.ContactGroup) (types.ContactGroup, error) {
	if strings.TrimSpace(g.ID) == "" {
		g.ID = uuid.NewString()
	}
	if strings.TrimSpace(g.Name) == "" {
		return g, invalid("contact group name is required")
	}
	if err := r.store.SaveContactGroup(ctx, g); err != nil {
		return g, fmt.Errorf("save contact group %s: %w", g.ID, err)
	}
	return g, nil
}

// SaveMonitorGroup creates or replaces a monitor group. Every member must be a
// known monitor; duplicates are collapsed.
func (r *Runtime) SaveMonitorGroup(ctx context.Context, g types.MonitorGroup) (types.MonitorGroup, error) {
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	if strings.TrimSpace(g.ID) == "" {
		g.ID = uuid.NewString()
	}
	if strings.TrimSpace(g.Name) == "" {
		return g, invalid("monitor group name is required")
	}
	seen := make(map[string]struct{}, len(g.MonitorIDs))
	members := make([]string, 0, len(g.MonitorIDs))
	for _, id := range g.MonitorIDs {
		if _, ok := r.registry.Get(id); !ok {
			return g, invalid("unknown monitor %q", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	g.MonitorIDs = members
	if err := r.store.SaveMonitorGroup(ctx, g); err != nil {
		return g, fmt.Errorf("save monitor group %s: %w", g.ID, err)
	}
	return g, nil
}

// Stats is a snapshot of engine load for the statistics endpoint.
type Stats struct {
	Monitors             int            `json:"monitors"`
	ByStatus             map[string]int `json:"by_status"`
	InFlight             int            `json:"in_flight"`
	Executor             worker.Stats   `json:"executor"`
	WriteQueue           queue.Stats    `json:"write_queue"`
	PendingNotifications int            `json:"pending_notifications"`
	EventSubscribers     int            `json:"event_subscribers"`
	EventsDropped        uint64         `json:"events_dropped"`
}

func (r *Runtime) Stats() Stats {
	entries := r.registry.List()
	st := Stats{
		Monitors:             len(entries),
		ByStatus:             make(map[string]int),
		Executor:             r.executor.Stats(),
		WriteQueue:           r.writeQueue.Stats(),
		PendingNotifications: r.dispatcher.Pending(),
		EventSubscribers:     r.bus.SubscriberCount(),
		EventsDropped:        r.bus.Dropped(),
	}
	for _, e := range entries {
		st.ByStatus[string(e.State.Status)]++
		if e.InFlight {
			st.InFlight++
		}
	}
	return st
}
