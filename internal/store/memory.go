package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

// NewMemoryStore returns a Store that keeps everything in process memory.
func NewMemoryStore() Store {
	return &memoryStore{
		definitions: map[string]types.MonitorDefinition{},
		results:     map[string][]types.ResultRecord{},
		contacts:    map[string]types.Contact{},
		groups:      map[string]types.ContactGroup{},
		monGroups:   map[string]types.MonitorGroup{},
	}
}

type memoryStore struct {
	mu          sync.RWMutex
	definitions map[string]types.MonitorDefinition
	results     map[string][]types.ResultRecord
	alerts      []types.TransitionEvent
	contacts    map[string]types.Contact
	groups      map[string]types.ContactGroup
	monGroups   map[string]types.MonitorGroup
}

func (m *memoryStore) Ping(context.Context) error { return nil }
func (m *memoryStore) Close() error               { return nil }

func (m *memoryStore) LoadAllDefinitions(context.Context) ([]types.MonitorDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.MonitorDefinition, 0, len(m.definitions))
	for _, def := range m.definitions {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) SaveDefinition(_ context.Context, def types.MonitorDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def.Clone()
	return nil
}

func (m *memoryStore) DeleteDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[id]; !ok {
		return ErrNotFound
	}
	delete(m.definitions, id)
	return nil
}

func (m *memoryStore) InsertResult(_ context.Context, rec types.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[rec.MonitorID] = append(m.results[rec.MonitorID], rec)
	return nil
}

func (m *memoryStore) ListResults(_ context.Context, monitorID string, limit int) ([]types.ResultRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.results[monitorID]
	limit = normalizeLimit(limit)
	out := make([]types.ResultRecord, 0, min(limit, len(recs)))
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (m *memoryStore) PruneResultsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, recs := range m.results {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		m.results[id] = kept
	}
	return removed, nil
}

func (m *memoryStore) PruneResultsBeyondCount(_ context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, recs := range m.results {
		if excess := len(recs) - keep; excess > 0 {
			removed += int64(excess)
			m.results[id] = append([]types.ResultRecord(nil), recs[excess:]...)
		}
	}
	return removed, nil
}

func (m *memoryStore) InsertAlertHistory(_ context.Context, ev types.TransitionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, ev)
	return nil
}

func (m *memoryStore) ListAlertHistory(_ context.Context, monitorID string, limit int) ([]types.TransitionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = normalizeLimit(limit)
	var out []types.TransitionEvent
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if monitorID == "" || m.alerts[i].MonitorID == monitorID {
			out = append(out, m.alerts[i])
		}
	}
	return out, nil
}

func (m *memoryStore) ListContactsForMonitor(_ context.Context, monitorID string) ([]types.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[monitorID]
	if !ok {
		return nil, ErrNotFound
	}
	return resolveContacts(def, m.contacts, m.groups), nil
}

func (m *memoryStore) ResolveContacts(_ context.Context, def types.MonitorDefinition) ([]types.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return resolveContacts(def, m.contacts, m.groups), nil
}

func (m *memoryStore) SaveContact(_ context.Context, c types.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c.Clone()
	return nil
}

func (m *memoryStore) DeleteContact(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(m.contacts, id)
	return nil
}

func (m *memoryStore) ListContacts(context.Context) ([]types.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) SaveContactGroup(_ context.Context, g types.ContactGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ContactIDs = append([]string(nil), g.ContactIDs...)
	m.groups[g.ID] = g
	return nil
}

func (m *memoryStore) DeleteContactGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *memoryStore) ListContactGroups(context.Context) ([]types.ContactGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ContactGroup, 0, len(m.groups))
	for _, g := range m.groups {
		g.ContactIDs = append([]string(nil), g.ContactIDs...)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) SaveMonitorGroup(_ context.Context, g types.MonitorGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monGroups[g.ID] = g.Clone()
	return nil
}

func (m *memoryStore) DeleteMonitorGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.monGroups[id]; !ok {
		return ErrNotFound
	}
	delete(m.monGroups, id)
	return nil
}

func (m *memoryStore) ListMonitorGroups(context.Context) ([]types.MonitorGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.MonitorGroup, 0, len(m.monGroups))
	for _, g := range m.monGroups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
