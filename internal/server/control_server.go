package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

// Controller is the agent as seen by the local control endpoint
type Controller interface {
	StartSession(ctx context.Context, projectID, taskID string, description *string) (*models.TimeEntry, error)
	StopSession(ctx context.Context, description *string) (*models.TimeEntry, error)
	Status(ctx context.Context) (*models.AgentStatus, error)
}

// StartRequest is the body of POST /api/v1/session/start
type StartRequest struct {
	ProjectID   string  `json:"projectId"`
	TaskID      string  `json:"taskId"`
	Description *string `json:"description,omitempty"`
}

// StopRequest is the body of POST /api/v1/session/stop
type StopRequest struct {
	Description *string `json:"description,omitempty"`
}

// ControlServer lets the desktop UI and the CLI drive the running agent
// over localhost
type ControlServer struct {
	agent  Controller
	clock  func() time.Time
	logger *zap.Logger
}

// NewControlServer creates a new control server
func NewControlServer(agent Controller, logger *zap.Logger) *ControlServer {
	return &ControlServer{
		agent:  agent,
		clock:  time.Now,
		logger: logger,
	}
}

// ServeHTTP implements http.Handler
func (s *ControlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Enable CORS for the local UI
	s.setCORSHeaders(w)

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Route requests
	switch r.URL.Path {
	case "/api/v1/session/start":
		if r.Method == http.MethodPost {
			s.handleStart(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "/api/v1/session/stop":
		if r.Method == http.MethodPost {
			s.handleStop(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "/api/v1/session/status":
		if r.Method == http.MethodGet {
			s.handleStatus(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "/api/v1/health":
		if r.Method == http.MethodGet {
			s.handleHealth(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

// setCORSHeaders sets CORS headers for the local UI
func (s *ControlServer) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *ControlServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("Failed to decode start request", zap.Error(err))
		s.writeError(w, apperr.Validation("invalid request body"))
		return
	}

	entry, err := s.agent.StartSession(r.Context(), req.ProjectID, req.TaskID, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *ControlServer) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.logger.Warn("Failed to decode stop request", zap.Error(err))
			s.writeError(w, apperr.Validation("invalid request body"))
			return
		}
	}

	entry, err := s.agent.StopSession(r.Context(), req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.agent.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleHealth provides a health check endpoint
func (s *ControlServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.clock().Unix(),
	})
}

func (s *ControlServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *ControlServer) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Control request failed", zap.Error(err))
	} else {
		s.logger.Info("Control request rejected", zap.Error(err))
	}

	code := "INTERNAL"
	if e, ok := apperr.As(err); ok {
		code = e.Code
	}
	s.writeJSON(w, status, errorEnvelope{Error: errorBody{
		Kind:    apperr.KindOf(err).String(),
		Code:    code,
		Message: apperr.UserMessage(err),
	}})
}

type errorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}
