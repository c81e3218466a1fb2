// Package store persists monitor definitions, check results, alert history and
// contacts. Every implementation is safe for concurrent use.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

var ErrNotFound = errors.New("record not found")

const defaultListLimit = 100

type Store interface {
	Ping(ctx context.Context) error
	Close() error

	LoadAllDefinitions(ctx context.Context) ([]types.MonitorDefinition, error)
	SaveDefinition(ctx context.Context, def types.MonitorDefinition) error
	DeleteDefinition(ctx context.Context, id string) error

	InsertResult(ctx context.Context, rec types.ResultRecord) error
	ListResults(ctx context.Context, monitorID string, limit int) ([]types.ResultRecord, error)
	PruneResultsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// PruneResultsBeyondCount keeps the newest keep results of every monitor.
	PruneResultsBeyondCount(ctx context.Context, keep int) (int64, error)

	InsertAlertHistory(ctx context.Context, ev types.TransitionEvent) error
	// ListAlertHistory returns newest first; an empty monitorID lists every monitor.
	ListAlertHistory(ctx context.Context, monitorID string, limit int) ([]types.TransitionEvent, error)

	// ListContactsForMonitor resolves the monitor's direct contacts and the
	// members of its active groups to a set of active contacts.
	ListContactsForMonitor(ctx context.Context, monitorID string) ([]types.Contact, error)
	// ResolveContacts does the same for a definition snapshot, so it works for
	// monitors that have since been deleted.
	ResolveContacts(ctx context.Context, def types.MonitorDefinition) ([]types.Contact, error)
	SaveContact(ctx context.Context, c types.Contact) error
	DeleteContact(ctx context.Context, id string) error
	ListContacts(ctx context.Context) ([]types.Contact, error)
	SaveContactGroup(ctx context.Context, g types.ContactGroup) error
	DeleteContactGroup(ctx context.Context, id string) error
	ListContactGroups(ctx context.Context) ([]types.ContactGroup, error)

	SaveMonitorGroup(ctx context.Context, g types.MonitorGroup) error
	DeleteMonitorGroup(ctx context.Context, id string) error
	ListMonitorGroups(ctx context.Context) ([]types.MonitorGroup, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// resolveContacts expands direct contacts and group members, skipping inactive
// groups, inactive contacts and dangling references. Output is sorted by ID.
func resolveContacts(def types.MonitorDefinition, contacts map[string]types.Contact, groups map[string]types.ContactGroup) []types.Contact {
	seen := make(map[string]struct{})
	var out []types.Contact
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		c, ok := contacts[id]
		if !ok || !c.Active {
			return
		}
		seen[id] = struct{}{}
		out = append(out, c.Clone())
	}
	for _, id := range def.Contacts {
		add(id)
	}
	for _, gid := range def.ContactGroups {
		g, ok := groups[gid]
		if !ok || !g.Active {
			continue
		}
		for _, id := range g.ContactIDs {
			add(id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
