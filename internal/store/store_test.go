package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/irisetthq/irisett/pkg/types"
)

func newSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "irisett.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLite(t),
	}
}

func TestDefinitionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			def := types.MonitorDefinition{
				ID:            "web",
				CheckType:     "http",
				Params:        map[string]string{"url": "https://example.com"},
				Interval:      90 * time.Second,
				DownThreshold: 2,
				Contacts:      []string{"alice"},
				ContactGroups: []string{"ops"},
				Enabled:       true,
				Description:   "frontend",
			}
			if err := s.SaveDefinition(ctx, def); err != nil {
				t.Fatalf("SaveDefinition: %v", err)
			}
			def.Description = "frontend (edited)"
			if err := s.SaveDefinition(ctx, def); err != nil {
				t.Fatalf("SaveDefinition upsert: %v", err)
			}

			defs, err := s.LoadAllDefinitions(ctx)
			if err != nil {
				t.Fatalf("LoadAllDefinitions: %v", err)
			}
			if len(defs) != 1 {
				t.Fatalf("expected 1 definition, got %d", len(defs))
			}
			got := defs[0]
			if got.Description != "frontend (edited)" || got.Interval != 90*time.Second || got.Params["url"] != "https://example.com" || !got.Enabled {
				t.Fatalf("unexpected definition: %+v", got)
			}

			if err := s.DeleteDefinition(ctx, "web"); err != nil {
				t.Fatalf("DeleteDefinition: %v", err)
			}
			if err := s.DeleteDefinition(ctx, "web"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestResultsListAndPrune(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				for _, id := range []string{"a", "b"} {
					rec := types.ResultRecord{MonitorID: id, Timestamp: base.Add(time.Duration(i) * time.Minute), Pass: i%2 == 0, Message: "ok", Duration: 15 * time.Millisecond}
					if err := s.InsertResult(ctx, rec); err != nil {
						t.Fatalf("InsertResult: %v", err)
					}
				}
			}

			recs, err := s.ListResults(ctx, "a", 2)
			if err != nil {
				t.Fatalf("ListResults: %v", err)
			}
			if len(recs) != 2 || !recs[0].Timestamp.Equal(base.Add(4*time.Minute)) || recs[0].Duration != 15*time.Millisecond {
				t.Fatalf("unexpected newest results: %+v", recs)
			}

			removed, err := s.PruneResultsBeyondCount(ctx, 3)
			if err != nil {
				t.Fatalf("PruneResultsBeyondCount: %v", err)
			}
			if removed != 4 {
				t.Fatalf("expected 4 pruned by count, got %d", removed)
			}

			removed, err = s.PruneResultsOlderThan(ctx, base.Add(3*time.Minute))
			if err != nil {
				t.Fatalf("PruneResultsOlderThan: %v", err)
			}
			if removed != 2 {
				t.Fatalf("expected 2 pruned by age, got %d", removed)
			}
			recs, _ = s.ListResults(ctx, "b", 0)
			if len(recs) != 2 {
				t.Fatalf("expected 2 remaining results for b, got %d", len(recs))
			}
		})
	}
}

func TestAlertHistory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			events := []types.TransitionEvent{
				{MonitorID: "a", Previous: types.StatusUp, Current: types.StatusDown, Timestamp: base, Message: "refused"},
				{MonitorID: "b", Previous: types.StatusPending, Current: types.StatusDown, Timestamp: base.Add(time.Minute)},
				{MonitorID: "a", Previous: types.StatusDown, Current: types.StatusUp, Timestamp: base.Add(2 * time.Minute)},
			}
			for _, ev := range events {
				if err := s.InsertAlertHistory(ctx, ev); err != nil {
					t.Fatalf("InsertAlertHistory: %v", err)
				}
			}

			all, err := s.ListAlertHistory(ctx, "", 0)
			if err != nil {
				t.Fatalf("ListAlertHistory: %v", err)
			}
			if len(all) != 3 || all[0].Current != types.StatusUp {
				t.Fatalf("unexpected history: %+v", all)
			}
			forA, _ := s.ListAlertHistory(ctx, "a", 0)
			if len(forA) != 2 || forA[1].Message != "refused" || forA[1].Previous != types.StatusUp {
				t.Fatalf("unexpected history for a: %+v", forA)
			}
		})
	}
}

func TestListContactsForMonitorResolvesGroups(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			contacts := []types.Contact{
				{ID: "alice", Name: "Alice", Active: true, Addresses: map[string]string{"email": "alice@example.com"}},
				{ID: "bob", Name: "Bob", Active: true, Addresses: map[string]string{"slack": "https://hooks.example/bob"}},
				{ID: "carol", Name: "Carol", Active: false},
				{ID: "dave", Name: "Dave", Active: true},
			}
			for _, c := range contacts {
				if err := s.SaveContact(ctx, c); err != nil {
					t.Fatalf("SaveContact: %v", err)
				}
			}
			_ = s.SaveContactGroup(ctx, types.ContactGroup{ID: "ops", Active: true, ContactIDs: []string{"alice", "bob", "carol"}})
			_ = s.SaveContactGroup(ctx, types.ContactGroup{ID: "muted", Active: false, ContactIDs: []string{"dave"}})
			_ = s.SaveDefinition(ctx, types.MonitorDefinition{
				ID: "web", CheckType: "http", Enabled: true,
				Contacts:      []string{"alice", "ghost"},
				ContactGroups: []string{"ops", "muted"},
			})

			got, err := s.ListContactsForMonitor(ctx, "web")
			if err != nil {
				t.Fatalf("ListContactsForMonitor: %v", err)
			}
			if len(got) != 2 || got[0].ID != "alice" || got[1].ID != "bob" {
				t.Fatalf("unexpected contacts: %+v", got)
			}
			if got[0].Addresses["email"] != "alice@example.com" {
				t.Fatalf("addresses not preserved: %+v", got[0])
			}

			if _, err := s.ListContactsForMonitor(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := s.DeleteContactGroup(ctx, "muted"); err != nil {
				t.Fatalf("DeleteContactGroup: %v", err)
			}
			if err := s.DeleteContact(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			groups, _ := s.ListContactGroups(ctx)
			if len(groups) != 1 || len(groups[0].ContactIDs) != 3 {
				t.Fatalf("unexpected groups: %+v", groups)
			}
		})
	}
}

func TestResolveContactsForDeletedMonitor(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.SaveContact(ctx, types.Contact{ID: "alice", Active: true, Addresses: map[string]string{"email": "alice@example.com"}})
			_ = s.SaveContactGroup(ctx, types.ContactGroup{ID: "ops", Active: true, ContactIDs: []string{"alice"}})
			def := types.MonitorDefinition{ID: "gone", CheckType: "http", ContactGroups: []string{"ops"}}

			got, err := s.ResolveContacts(ctx, def)
			if err != nil {
				t.Fatalf("ResolveContacts: %v", err)
			}
			if len(got) != 1 || got[0].ID != "alice" {
				t.Fatalf("unexpected contacts: %+v", got)
			}
		})
	}
}

func TestListContactsReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveContact(ctx, types.Contact{ID: "alice", Active: true, Addresses: map[string]string{"email": "alice@example.com"}})
	_ = s.SaveContactGroup(ctx, types.ContactGroup{ID: "ops", Active: true, ContactIDs: []string{"alice"}})
	_ = s.SaveDefinition(ctx, types.MonitorDefinition{ID: "web", CheckType: "http", Contacts: []string{"alice"}})

	listed, _ := s.ListContacts(ctx)
	listed[0].Addresses["email"] = "mallory@example.com"
	resolved, _ := s.ListContactsForMonitor(ctx, "web")
	resolved[0].Addresses["slack"] = "https://hooks.example/x"
	groups, _ := s.ListContactGroups(ctx)
	groups[0].ContactIDs[0] = "mallory"

	again, _ := s.ListContacts(ctx)
	if len(again[0].Addresses) != 1 || again[0].Addresses["email"] != "alice@example.com" {
		t.Fatalf("stored contact mutated through a returned value: %+v", again[0])
	}
	groups, _ = s.ListContactGroups(ctx)
	if groups[0].ContactIDs[0] != "alice" {
		t.Fatalf("stored group mutated through a returned value: %+v", groups[0])
	}
}

func TestMonitorGroups(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SaveMonitorGroup(ctx, types.MonitorGroup{ID: "edge", Name: "Edge", MonitorIDs: []string{"web", "dns"}}); err != nil {
				t.Fatalf("SaveMonitorGroup: %v", err)
			}
			_ = s.SaveMonitorGroup(ctx, types.MonitorGroup{ID: "core", Name: "Core"})
			if err := s.SaveMonitorGroup(ctx, types.MonitorGroup{ID: "edge", Name: "Edge nodes", MonitorIDs: []string{"web"}}); err != nil {
				t.Fatalf("SaveMonitorGroup update: %v", err)
			}

			groups, err := s.ListMonitorGroups(ctx)
			if err != nil {
				t.Fatalf("ListMonitorGroups: %v", err)
			}
			if len(groups) != 2 || groups[0].ID != "core" || groups[1].Name != "Edge nodes" || len(groups[1].MonitorIDs) != 1 {
				t.Fatalf("unexpected groups: %+v", groups)
			}

			if err := s.DeleteMonitorGroup(ctx, "core"); err != nil {
				t.Fatalf("DeleteMonitorGroup: %v", err)
			}
			if err := s.DeleteMonitorGroup(ctx, "core"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestSQLiteConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		id := fmt.Sprintf("m%d", w)
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				rec := types.ResultRecord{MonitorID: id, Timestamp: base.Add(time.Duration(i) * time.Second), Pass: true}
				if err := s.InsertResult(ctx, rec); err != nil {
					return fmt.Errorf("insert %s/%d: %w", id, i, err)
				}
				if i%20 == 0 {
					if _, err := s.PruneResultsBeyondCount(ctx, 50); err != nil {
						return fmt.Errorf("prune %s/%d: %w", id, i, err)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent writes: %v", err)
	}

	recs, err := s.ListResults(ctx, "m0", 1000)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(recs) == 0 || len(recs) > 200 {
		t.Fatalf("unexpected result count %d", len(recs))
	}
}

func TestOpenRejectsUnknownType(t *testing.T) {
	if _, err := Open(context.Background(), Options{Type: "oracle"}); err == nil {
		t.Fatalf("expected unknown type rejected")
	}
	s, err := Open(context.Background(), Options{Type: "memory"})
	if err != nil || s == nil {
		t.Fatalf("expected memory store, got %v", err)
	}
}
