package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

// Sessions is the session lifecycle the HTTP binding exposes
type Sessions interface {
	StartSession(ctx context.Context, req models.StartRequest) (*models.TimeEntry, error)
	StopSession(ctx context.Context, req models.StopRequest) (*models.TimeEntry, error)
	GetActiveSession(ctx context.Context, employeeID string) (*models.TimeEntry, error)
	GetSession(ctx context.Context, employeeID, id string) (*models.TimeEntry, error)
	ListSessions(ctx context.Context, employeeID string, limit, offset int) ([]*models.TimeEntry, error)
	UpdateDescription(ctx context.Context, employeeID, id string, description *string) (*models.TimeEntry, error)
}

type TimeEntryHandler struct {
	sessions Sessions
	logger   *zap.Logger
}

func NewTimeEntryHandler(sessions Sessions, logger *zap.Logger) *TimeEntryHandler {
	return &TimeEntryHandler{
		sessions: sessions,
		logger:   logger,
	}
}

func (h *TimeEntryHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.EmployeeID = employeeFrom(r)

	entry, err := h.sessions.StartSession(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *TimeEntryHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req models.StopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.EmployeeID = employeeFrom(r)

	entry, err := h.sessions.StopSession(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Active responds with the active entry or a JSON null
func (h *TimeEntryHandler) Active(w http.ResponseWriter, r *http.Request) {
	entry, err := h.sessions.GetActiveSession(r.Context(), employeeFrom(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *TimeEntryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	entries, err := h.sessions.ListSessions(r.Context(), employeeFrom(r), limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.TimeEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *TimeEntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.sessions.GetSession(r.Context(), employeeFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *TimeEntryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateDescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	entry, err := h.sessions.UpdateDescription(r.Context(), employeeFrom(r), r.PathValue("id"), req.Description)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validation("invalid " + name + " parameter")
	}
	return v, nil
}
