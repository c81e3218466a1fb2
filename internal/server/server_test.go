package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irisetthq/irisett/internal/check"
	"github.com/irisetthq/irisett/internal/runtime"
	"github.com/irisetthq/irisett/internal/store"
	"github.com/irisetthq/irisett/pkg/types"
)

type okChecker struct{}

func (okChecker) Type() string                     { return "ok" }
func (okChecker) DefaultTimeout() time.Duration    { return time.Second }
func (okChecker) Validate(map[string]string) error { return nil }
func (okChecker) Check(context.Context, map[string]string) (types.CheckOutcome, error) {
	return types.CheckOutcome{Pass: true}, nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *runtime.Runtime) {
	t.Helper()
	rt, err := runtime.New(runtime.Dependencies{
		Store:  store.NewMemoryStore(),
		Checks: check.NewRegistry(okChecker{}),
	})
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	return New(cfg, Dependencies{Engine: rt}), rt
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestMonitorLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodPost, "/api/v1/monitors", `{"check_type":"ok","interval":30,"description":"web"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rr.Code, rr.Body.String())
	}
	var created monitorResponse
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Interval != 30 || !created.Enabled {
		t.Fatalf("unexpected monitor: %+v", created)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/monitors/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status %d", rr.Code)
	}
	var got monitorResponse
	_ = json.NewDecoder(rr.Body).Decode(&got)
	if got.State == nil || got.State.Status != types.StatusPending {
		t.Fatalf("expected pending state, got %+v", got.State)
	}

	rr = do(t, srv, http.MethodPut, "/api/v1/monitors/"+created.ID, `{"check_type":"ok","interval":60,"down_threshold":4,"enabled":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rr.Code, rr.Body.String())
	}
	var updated monitorResponse
	_ = json.NewDecoder(rr.Body).Decode(&updated)
	if updated.DownThreshold != 4 || updated.Enabled {
		t.Fatalf("unexpected update: %+v", updated)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/monitors", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), created.ID) {
		t.Fatalf("list missing monitor: %d %s", rr.Code, rr.Body.String())
	}

	if rr = do(t, srv, http.MethodDelete, "/api/v1/monitors/"+created.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rr.Code)
	}
	if rr = do(t, srv, http.MethodGet, "/api/v1/monitors/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	if rr := do(t, srv, http.MethodPost, "/api/v1/monitors", `{"check_type":"smtp"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown check type, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/monitors", `{not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/monitors", `{"id":"a","check_type":"ok"}`); rr.Code != http.StatusCreated {
		t.Fatalf("create status %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/monitors", `{"id":"a","check_type":"ok"}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/monitors/missing/run", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for run of missing monitor, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/monitors/a/run", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for run, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/monitors/a/run", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", rr.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t, Config{Username: "admin", Password: "secret"})

	if rr := do(t, srv, http.MethodGet, "/api/v1/monitors", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/monitors", nil)
	req.SetBasicAuth("admin", "secret")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz must not require auth, got %d", rr.Code)
	}
}

func TestReadyzBeforeStart(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	rr := do(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "not yet") {
		t.Fatalf("expected 503 before start, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestContactsAndStatistics(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodPost, "/api/v1/contact-groups", `{"name":"oncall","active":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("save group status %d: %s", rr.Code, rr.Body.String())
	}
	var group types.ContactGroup
	_ = json.NewDecoder(rr.Body).Decode(&group)
	if group.ID == "" {
		t.Fatalf("expected generated group id")
	}
	if rr = do(t, srv, http.MethodPost, "/api/v1/contacts", `{"name":"ops","addresses":{"pager":"1"}}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown channel rejected, got %d", rr.Code)
	}
	if rr = do(t, srv, http.MethodGet, "/api/v1/contact-groups", ""); !strings.Contains(rr.Body.String(), "oncall") {
		t.Fatalf("group missing from list: %s", rr.Body.String())
	}
	if rr = do(t, srv, http.MethodDelete, "/api/v1/contact-groups/"+group.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete group status %d", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/statistics", "")
	var stats runtime.Stats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil || rr.Code != http.StatusOK {
		t.Fatalf("statistics: %d %v", rr.Code, err)
	}
	if stats.Executor.Capacity != 200 {
		t.Fatalf("unexpected executor capacity: %+v", stats.Executor)
	}
}

func TestMonitorGroups(t *testing.T) {
	srv, rt := newTestServer(t, Config{})
	ctx := context.Background()
	web, err := rt.AddMonitor(ctx, types.MonitorDefinition{ID: "web", CheckType: "ok"})
	if err != nil {
		t.Fatalf("AddMonitor: %v", err)
	}
	_, _ = rt.AddMonitor(ctx, types.MonitorDefinition{ID: "dns", CheckType: "ok"})

	if rr := do(t, srv, http.MethodPost, "/api/v1/monitor-groups", `{"name":"edge","monitor_ids":["web","ghost"]}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown member rejected, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/v1/monitor-groups", `{"monitor_ids":["web"]}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected missing name rejected, got %d", rr.Code)
	}

	rr := do(t, srv, http.MethodPost, "/api/v1/monitor-groups", `{"name":"edge","monitor_ids":["web","dns","web"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("save group status %d: %s", rr.Code, rr.Body.String())
	}
	var group types.MonitorGroup
	_ = json.NewDecoder(rr.Body).Decode(&group)
	if group.ID == "" || len(group.MonitorIDs) != 2 {
		t.Fatalf("unexpected group: %+v", group)
	}

	if err := rt.RemoveMonitor(ctx, web.ID); err != nil {
		t.Fatalf("RemoveMonitor: %v", err)
	}
	rr = do(t, srv, http.MethodGet, "/api/v1/monitor-groups", "")
	var list struct {
		Items []types.MonitorGroup `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil || len(list.Items) != 1 {
		t.Fatalf("list groups: %d %v %+v", rr.Code, err, list)
	}
	if members := list.Items[0].MonitorIDs; len(members) != 1 || members[0] != "dns" {
		t.Fatalf("expected removed monitor dropped from group, got %v", members)
	}

	if rr = do(t, srv, http.MethodDelete, "/api/v1/monitor-groups/"+group.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete group status %d", rr.Code)
	}
	if rr = do(t, srv, http.MethodDelete, "/api/v1/monitor-groups/"+group.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestEventsFeed(t *testing.T) {
	srv, rt := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for rt.Bus().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rt.Bus().Record(types.TransitionEvent{MonitorID: "web", Previous: types.StatusUp, Current: types.StatusDown})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev types.TransitionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.MonitorID != "web" || ev.Current != types.StatusDown {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
