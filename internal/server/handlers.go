package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/irisetthq/irisett/internal/runtime"
	"github.com/irisetthq/irisett/pkg/types"
)

// monitorRequest is the create/replace body. Interval is in seconds and an
// omitted enabled flag means enabled.
type monitorRequest struct {
	ID            string            `json:"id"`
	CheckType     string            `json:"check_type"`
	Params        map[string]string `json:"params"`
	Interval      float64           `json:"interval"`
	DownThreshold int               `json:"down_threshold"`
	Contacts      []string          `json:"contacts"`
	ContactGroups []string          `json:"contact_groups"`
	Enabled       *bool             `json:"enabled"`
	Description   string            `json:"description"`
}

func (m monitorRequest) definition() types.MonitorDefinition {
	enabled := true
	if m.Enabled != nil {
		enabled = *m.Enabled
	}
	return types.MonitorDefinition{
		ID:            m.ID,
		CheckType:     m.CheckType,
		Params:        m.Params,
		Interval:      time.Duration(m.Interval * float64(time.Second)),
		DownThreshold: m.DownThreshold,
		Contacts:      m.Contacts,
		ContactGroups: m.ContactGroups,
		Enabled:       enabled,
		Description:   m.Description,
	}
}

type monitorResponse struct {
	ID            string                     `json:"id"`
	CheckType     string                     `json:"check_type"`
	Params        map[string]string          `json:"params,omitempty"`
	Interval      float64                    `json:"interval"`
	DownThreshold int                        `json:"down_threshold"`
	Contacts      []string                   `json:"contacts,omitempty"`
	ContactGroups []string                   `json:"contact_groups,omitempty"`
	Enabled       bool                       `json:"enabled"`
	Description   string                     `json:"description,omitempty"`
	State         *types.MonitorRuntimeState `json:"state,omitempty"`
	InFlight      bool                       `json:"in_flight"`
}

func responseFor(def types.MonitorDefinition) monitorResponse {
	return monitorResponse{
		ID:            def.ID,
		CheckType:     def.CheckType,
		Params:        def.Params,
		Interval:      def.Interval.Seconds(),
		DownThreshold: def.DownThreshold,
		Contacts:      def.Contacts,
		ContactGroups: def.ContactGroups,
		Enabled:       def.Enabled,
		Description:   def.Description,
	}
}

func responseForView(v runtime.MonitorView) monitorResponse {
	resp := responseFor(v.Definition)
	st := v.State
	resp.State = &st
	resp.InFlight = v.InFlight
	return resp
}

func responsesFor(views []runtime.MonitorView) []monitorResponse {
	out := make([]monitorResponse, 0, len(views))
	for _, v := range views {
		out = append(out, responseForView(v))
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) listMonitors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Items []monitorResponse `json:"items"`
	}{Items: responsesFor(s.deps.Engine.ListMonitors())})
}

func (s *Server) createMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if !decode(w, r, &req) {
		return
	}
	def, err := s.deps.Engine.AddMonitor(r.Context(), req.definition())
	if err != nil {
		s.writeError(w, "create monitor", err)
		return
	}
	writeJSON(w, http.StatusCreated, responseFor(def))
}

func (s *Server) getMonitor(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Engine.GetMonitor(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "get monitor", err)
		return
	}
	writeJSON(w, http.StatusOK, responseForView(view))
}

func (s *Server) updateMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if !decode(w, r, &req) {
		return
	}
	def, err := s.deps.Engine.UpdateMonitor(r.Context(), mux.Vars(r)["id"], req.definition())
	if err != nil {
		s.writeError(w, "update monitor", err)
		return
	}
	writeJSON(w, http.StatusOK, responseFor(def))
}

func (s *Server) deleteMonitor(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.RemoveMonitor(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, "delete monitor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runMonitor(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.RunNow(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, "run monitor", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) testNotification(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.SendTest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "test notification", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items any `json:"items"`
	}{Items: res})
}

func (s *Server) monitorResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.deps.Engine.GetMonitor(id); err != nil {
		s.writeError(w, "list results", err)
		return
	}
	recs, err := s.deps.Engine.Store().ListResults(r.Context(), id, limitParam(r))
	if err != nil {
		s.writeError(w, "list results", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		MonitorID string               `json:"monitor_id"`
		Items     []types.ResultRecord `json:"items"`
	}{MonitorID: id, Items: recs})
}

func (s *Server) monitorAlerts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	evs, err := s.deps.Engine.Store().ListAlertHistory(r.Context(), id, limitParam(r))
	if err != nil {
		s.writeError(w, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		MonitorID string                  `json:"monitor_id"`
		Items     []types.TransitionEvent `json:"items"`
	}{MonitorID: id, Items: evs})
}

func (s *Server) activeAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Items []monitorResponse `json:"items"`
	}{Items: responsesFor(s.deps.Engine.ActiveAlerts())})
}

func (s *Server) alertHistory(w http.ResponseWriter, r *http.Request) {
	evs, err := s.deps.Engine.Store().ListAlertHistory(r.Context(), "", limitParam(r))
	if err != nil {
		s.writeError(w, "alert history", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []types.TransitionEvent `json:"items"`
	}{Items: evs})
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.deps.Engine.Store().ListContacts(r.Context())
	if err != nil {
		s.writeError(w, "list contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []types.Contact `json:"items"`
	}{Items: contacts})
}

func (s *Server) saveContact(w http.ResponseWriter, r *http.Request) {
	var c types.Contact
	if !decode(w, r, &c) {
		return
	}
	saved, err := s.deps.Engine.SaveContact(r.Context(), c)
	if err != nil {
		s.writeError(w, "save contact", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Store().DeleteContact(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, "delete contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listContactGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Engine.Store().ListContactGroups(r.Context())
	if err != nil {
		s.writeError(w, "list contact groups", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []types.ContactGroup `json:"items"`
	}{Items: groups})
}

func (s *Server) saveContactGroup(w http.ResponseWriter, r *http.Request) {
	var g types.ContactGroup
	if !decode(w, r, &g) {
		return
	}
	saved, err := s.deps.Engine.SaveContactGroup(r.Context(), g)
	if err != nil {
		s.writeError(w, "save contact group", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteContactGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Store().DeleteContactGroup(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, "delete contact group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMonitorGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Engine.Store().ListMonitorGroups(r.Context())
	if err != nil {
		s.writeError(w, "list monitor groups", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Items []types.MonitorGroup `json:"items"`
	}{Items: groups})
}

func (s *Server) saveMonitorGroup(w http.ResponseWriter, r *http.Request) {
	var g types.MonitorGroup
	if !decode(w, r, &g) {
		return
	}
	saved, err := s.deps.Engine.SaveMonitorGroup(r.Context(), g)
	if err != nil {
		s.writeError(w, "save monitor group", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteMonitorGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.Store().DeleteMonitorGroup(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, "delete monitor group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) statistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Stats())
}
