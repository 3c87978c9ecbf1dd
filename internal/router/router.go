package router

import (
	"net/http"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/auth"
	"Mansoor88-6/time-tracking/internal/handler"
)

type Handlers struct {
	TimeEntries *handler.TimeEntryHandler
	Screenshots *handler.ScreenshotHandler
	Events      *handler.EventsHandler
}

func New(h Handlers, authn *auth.TokenAuthenticator, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	api := http.NewServeMux()

	// Time entry endpoints
	api.HandleFunc("POST /api/v1/time-entries/start", h.TimeEntries.Start)
	api.HandleFunc("POST /api/v1/time-entries/stop", h.TimeEntries.Stop)
	api.HandleFunc("GET /api/v1/time-entries/active", h.TimeEntries.Active)
	api.HandleFunc("GET /api/v1/time-entries", h.TimeEntries.List)
	api.HandleFunc("GET /api/v1/time-entries/{id}", h.TimeEntries.Get)
	api.HandleFunc("PATCH /api/v1/time-entries/{id}", h.TimeEntries.Update)
	api.HandleFunc("GET /api/v1/time-entries/{id}/screenshots", h.Screenshots.List)

	api.HandleFunc("POST /api/v1/screenshots", h.Screenshots.Upload)
	api.HandleFunc("GET /api/v1/screenshots/{id}", h.Screenshots.Image)

	api.HandleFunc("GET /api/v1/events", h.Events.Stream)

	mux.Handle("/api/", handler.RequireEmployee(api, authn, logger))

	return handler.Logging(mux, logger)
}
