// Package server exposes the admin JSON API over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/irisetthq/irisett/internal/events"
	"github.com/irisetthq/irisett/internal/health"
	"github.com/irisetthq/irisett/internal/notify"
	"github.com/irisetthq/irisett/internal/registry"
	"github.com/irisetthq/irisett/internal/runtime"
	"github.com/irisetthq/irisett/internal/scheduler"
	"github.com/irisetthq/irisett/internal/store"
	"github.com/irisetthq/irisett/pkg/types"
)

const defaultListLimit = 50

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Username and Password enable basic auth on /api. Both empty disables it.
	Username string
	Password string
}

// Engine is the part of the runtime the API drives.
type Engine interface {
	AddMonitor(ctx context.Context, def types.MonitorDefinition) (types.MonitorDefinition, error)
	UpdateMonitor(ctx context.Context, id string, def types.MonitorDefinition) (types.MonitorDefinition, error)
	RemoveMonitor(ctx context.Context, id string) error
	GetMonitor(id string) (runtime.MonitorView, error)
	ListMonitors() []runtime.MonitorView
	ActiveAlerts() []runtime.MonitorView
	RunNow(id string) error
	SendTest(ctx context.Context, id string) ([]notify.TestResult, error)
	SaveContact(ctx context.Context, c types.Contact) (types.Contact, error)
	SaveContactGroup(ctx context.Context, g types.ContactGroup) (types.ContactGroup, error)
	SaveMonitorGroup(ctx context.Context, g types.MonitorGroup) (types.MonitorGroup, error)
	Stats() runtime.Stats
	Store() store.Store
	Bus() *events.Bus
	Health() *health.Checker
}

type Dependencies struct {
	Logger *zap.Logger
	Engine Engine
}

type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":10000"
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.basicAuth)
	api.HandleFunc("/monitors", s.listMonitors).Methods(http.MethodGet)
	api.HandleFunc("/monitors", s.createMonitor).Methods(http.MethodPost)
	api.HandleFunc("/monitors/{id}", s.getMonitor).Methods(http.MethodGet)
	api.HandleFunc("/monitors/{id}", s.updateMonitor).Methods(http.MethodPut)
	api.HandleFunc("/monitors/{id}", s.deleteMonitor).Methods(http.MethodDelete)
	api.HandleFunc("/monitors/{id}/run", s.runMonitor).Methods(http.MethodPost)
	api.HandleFunc("/monitors/{id}/test-notification", s.testNotification).Methods(http.MethodPost)
	api.HandleFunc("/monitors/{id}/results", s.monitorResults).Methods(http.MethodGet)
	api.HandleFunc("/monitors/{id}/alerts", s.monitorAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/active", s.activeAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/history", s.alertHistory).Methods(http.MethodGet)
	api.HandleFunc("/contacts", s.listContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts", s.saveContact).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{id}", s.deleteContact).Methods(http.MethodDelete)
	api.HandleFunc("/contact-groups", s.listContactGroups).Methods(http.MethodGet)
	api.HandleFunc("/contact-groups", s.saveContactGroup).Methods(http.MethodPost)
	api.HandleFunc("/contact-groups/{id}", s.deleteContactGroup).Methods(http.MethodDelete)
	api.HandleFunc("/monitor-groups", s.listMonitorGroups).Methods(http.MethodGet)
	api.HandleFunc("/monitor-groups", s.saveMonitorGroup).Methods(http.MethodPost)
	api.HandleFunc("/monitor-groups/{id}", s.deleteMonitorGroup).Methods(http.MethodDelete)
	api.HandleFunc("/events", s.eventsFeed).Methods(http.MethodGet)
	api.HandleFunc("/statistics", s.statistics).Methods(http.MethodGet)

	s.Server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Username == "" && s.cfg.Password == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="irisett"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready, reasons := s.deps.Engine.Health().Ready(r.Context(), time.Now())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Ready   bool     `json:"ready"`
		Reasons []string `json:"reasons,omitempty"`
	}{Ready: ready, Reasons: reasons})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps package sentinels to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrExists), errors.Is(err, registry.ErrInFlight):
		status = http.StatusConflict
	case errors.Is(err, runtime.ErrInvalidDefinition):
		status = http.StatusBadRequest
	case errors.Is(err, scheduler.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.deps.Logger.Error("api request failed", zap.String("op", op), zap.Error(err))
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultListLimit
}
