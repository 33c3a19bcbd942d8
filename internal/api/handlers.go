package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/enslite/enslite/internal/auth"
	"github.com/enslite/enslite/internal/models"
	"github.com/enslite/enslite/internal/store"
)

// Handlers serves the CRUD/query API over the store.
type Handlers struct {
	store  store.Store
	auth   *auth.Service
	logger *slog.Logger
}

// NewHandlers creates the API handler set.
func NewHandlers(st store.Store, authService *auth.Service, logger *slog.Logger) *Handlers {
	return &Handlers{store: st, auth: authService, logger: logger}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Login issues a JWT for the configured admin user.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := DecodeJSON[auth.LoginRequest](w, r)
	if !ok {
		return
	}

	resp, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			SendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid username or password", nil)
			return
		}
		SendError(w, r, http.StatusInternalServerError, "AUTH_ERROR", "Login failed", nil)
		return
	}

	SendJSON(w, http.StatusOK, resp)
}

// ListEventTypes returns all event types.
func (h *Handlers) ListEventTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.store.ListEventTypes(r.Context())
	if HandleStoreError(w, r, err, "Event types") {
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"data": types, "total": len(types)})
}

type createEventTypeRequest struct {
	Name        string `json:"name" validate:"required,min=1"`
	Description string `json:"description"`
}

// CreateEventType creates (or returns the existing) event type by name.
func (h *Handlers) CreateEventType(w http.ResponseWriter, r *http.Request) {
	req, ok := DecodeJSON[createEventTypeRequest](w, r)
	if !ok {
		return
	}

	et, err := h.store.CreateEventType(r.Context(), models.EventType{
		Name:        req.Name,
		Description: req.Description,
	})
	if HandleStoreError(w, r, err, "Event type") {
		return
	}
	SendJSON(w, http.StatusCreated, et)
}

// ListEvents returns all emergency events, newest first.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListEvents(r.Context())
	if HandleStoreError(w, r, err, "Events") {
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"data": events, "total": len(events)})
}

// ActiveEvents returns only the currently active events.
func (h *Handlers) ActiveEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ActiveEvents(r.Context())
	if HandleStoreError(w, r, err, "Events") {
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"data": events, "total": len(events)})
}

// GetEvent returns one emergency event by id.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIDParam(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.GetEvent(r.Context(), id)
	if HandleStoreError(w, r, err, "Event") {
		return
	}
	SendJSON(w, http.StatusOK, event)
}

// DeactivateEvent clears the active flag on an event. Deactivated events
// drop out of the subscriber snapshot but are never deleted here.
func (h *Handlers) DeactivateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIDParam(w, r, "id")
	if !ok {
		return
	}

	if HandleStoreError(w, r, h.store.SetEventActive(r.Context(), id, false), "Event") {
		return
	}

	h.logger.Info("Event deactivated", "event_id", id)
	SendJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": false})
}

type serverRequest struct {
	Name      string `json:"name" validate:"required,min=1"`
	IPAddress string `json:"ip_address" validate:"required,min=1"`
	Port      int    `json:"port" validate:"required,min=1,max=65535"`
	IsActive  *bool  `json:"is_active"`
}

func (req serverRequest) model() models.Server {
	srv := models.Server{
		Name:      req.Name,
		IPAddress: req.IPAddress,
		Port:      req.Port,
		IsActive:  true,
	}
	if req.IsActive != nil {
		srv.IsActive = *req.IsActive
	}
	return srv
}

// ListServers returns all registered reporting servers.
func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context())
	if HandleStoreError(w, r, err, "Servers") {
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"data": servers, "total": len(servers)})
}

// CreateServer registers a reporting server.
func (h *Handlers) CreateServer(w http.ResponseWriter, r *http.Request) {
	req, ok := DecodeJSON[serverRequest](w, r)
	if !ok {
		return
	}

	srv, err := h.store.CreateServer(r.Context(), req.model())
	if HandleStoreError(w, r, err, "Server") {
		return
	}

	h.logger.Info("Server registered", "server_id", srv.ID, "name", srv.Name)
	SendJSON(w, http.StatusCreated, srv)
}

// GetServer returns one registered server by id.
func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIDParam(w, r, "id")
	if !ok {
		return
	}

	srv, err := h.store.GetServer(r.Context(), id)
	if HandleStoreError(w, r, err, "Server") {
		return
	}
	SendJSON(w, http.StatusOK, srv)
}

// UpdateServer replaces a registered server's settings.
func (h *Handlers) UpdateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIDParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := DecodeJSON[serverRequest](w, r)
	if !ok {
		return
	}

	srv := req.model()
	srv.ID = id
	srv, err := h.store.UpdateServer(r.Context(), srv)
	if HandleStoreError(w, r, err, "Server") {
		return
	}
	SendJSON(w, http.StatusOK, srv)
}

// DeleteServer removes a registered server.
func (h *Handlers) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseIDParam(w, r, "id")
	if !ok {
		return
	}

	if HandleStoreError(w, r, h.store.DeleteServer(r.Context(), id), "Server") {
		return
	}

	h.logger.Info("Server removed", "server_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListTelemetry returns telemetry records, optionally filtered by drone.
func (h *Handlers) ListTelemetry(w http.ResponseWriter, r *http.Request) {
	droneID := r.URL.Query().Get("drone_id")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			SendError(w, r, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	records, err := h.store.ListTelemetry(r.Context(), droneID, limit)
	if HandleStoreError(w, r, err, "Telemetry") {
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"data": records, "total": len(records)})
}

// LatestTelemetry returns the most recent record per drone.
func (h *Handlers) LatestTelemetry(w http.ResponseWriter, r *http.Request) {
	latest, err := h.store.LatestTelemetry(r.Context())
	if HandleStoreError(w, r, err, "Telemetry") {
		return
	}
	SendJSON(w, http.StatusOK, latest)
}

// Statistics returns event totals broken down by severity.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Statistics(r.Context())
	if HandleStoreError(w, r, err, "Statistics") {
		return
	}
	SendJSON(w, http.StatusOK, stats)
}
