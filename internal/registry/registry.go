// Package registry holds the authoritative in-memory table of monitor definitions
// and their runtime state. It is the scheduler's source of truth.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

var (
	ErrNotFound = errors.New("monitor not found")
	ErrExists   = errors.New("monitor already exists")
	ErrInFlight = errors.New("monitor check already in flight")
)

// Entry is a point-in-time copy of a registered monitor.
type Entry struct {
	Definition types.MonitorDefinition
	State      types.MonitorRuntimeState
	InFlight   bool
}

// Claim is a definition snapshot handed out for one check run. Generation ties the
// claim to a single registration so a completion can detect removal or re-adding.
type Claim struct {
	Definition   types.MonitorDefinition
	Generation   uint64
	ScheduledFor time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	gen     uint64
}

type entry struct {
	def      types.MonitorDefinition
	state    types.MonitorRuntimeState
	inFlight bool
	gen      uint64
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Add registers a new monitor that becomes due at firstDue.
func (r *Registry) Add(def types.MonitorDefinition, firstDue time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[def.ID]; ok {
		return ErrExists
	}
	r.gen++
	r.entries[def.ID] = &entry{
		def:   def.Clone(),
		state: types.NewRuntimeState(firstDue),
		gen:   r.gen,
	}
	return nil
}

// Update replaces the definition of an existing monitor. Runtime state, including
// already-counted failures, is kept; the new interval and threshold apply from the
// next scheduling decision.
func (r *Registry) Update(id string, def types.MonitorDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	def.ID = id
	e.def = def.Clone()
	if !e.inFlight && !e.state.LastCheck.IsZero() && def.Interval > 0 {
		if due := e.state.LastCheck.Add(def.Interval); due.Before(e.state.NextDue) {
			e.state.NextDue = due
		}
	}
	return nil
}

// Remove deletes a monitor. A check in flight for it will find its claim stale on
// completion and its outcome is discarded.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// List returns all monitors ordered by ID.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Definition.ID < out[j].Definition.ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ListDue returns enabled monitors that are due at now and not in flight.
func (r *Registry) ListDue(now time.Time) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.due(now) {
			out = append(out, e.snapshot())
		}
	}
	sortEntries(out)
	return out
}

// ClaimDue marks every due monitor in flight, advances its next due time to
// now+interval and returns the claims in due order.
func (r *Registry) ClaimDue(now time.Time, defaultInterval time.Duration) []Claim {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claims []Claim
	for _, e := range r.entries {
		if !e.due(now) {
			continue
		}
		claims = append(claims, e.claim(now, defaultInterval))
	}
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].ScheduledFor.Equal(claims[j].ScheduledFor) {
			return claims[i].Definition.ID < claims[j].Definition.ID
		}
		return claims[i].ScheduledFor.Before(claims[j].ScheduledFor)
	})
	return claims
}

// Claim marks a single monitor in flight regardless of its due time.
func (r *Registry) Claim(id string, now time.Time, defaultInterval time.Duration) (Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Claim{}, ErrNotFound
	}
	if e.inFlight {
		return Claim{}, ErrInFlight
	}
	return e.claim(now, defaultInterval), nil
}

// Release returns a claim that could not be executed. The monitor stays due at
// its original time so the next tick retries it.
func (r *Registry) Release(c Claim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c.Definition.ID]
	if !ok || e.gen != c.Generation {
		return
	}
	e.inFlight = false
	e.state.NextDue = c.ScheduledFor
}

// Complete applies fn to the runtime state of a claimed monitor and clears its
// in-flight flag. It reports false, without calling fn, when the claim is stale
// because the monitor was removed or re-registered meanwhile.
func (r *Registry) Complete(c Claim, fn func(types.MonitorRuntimeState) types.MonitorRuntimeState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c.Definition.ID]
	if !ok || e.gen != c.Generation {
		return false
	}
	e.inFlight = false
	nextDue := e.state.NextDue
	e.state = fn(e.state)
	e.state.NextDue = nextDue
	return true
}

func (e *entry) due(now time.Time) bool {
	return e.def.Enabled && !e.inFlight && !now.Before(e.state.NextDue)
}

func (e *entry) claim(now time.Time, defaultInterval time.Duration) Claim {
	scheduled := e.state.NextDue
	if scheduled.IsZero() || scheduled.After(now) {
		scheduled = now
	}
	interval := e.def.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	e.inFlight = true
	e.state.NextDue = now.Add(interval)
	return Claim{
		Definition:   e.def.Clone(),
		Generation:   e.gen,
		ScheduledFor: scheduled,
	}
}

func (e *entry) snapshot() Entry {
	return Entry{
		Definition: e.def.Clone(),
		State:      e.state,
		InFlight:   e.inFlight,
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].State.NextDue, entries[j].State.NextDue
		if a.Equal(b) {
			return entries[i].Definition.ID < entries[j].Definition.ID
		}
		return a.Before(b)
	})
}
