package handler

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/auth"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logging middleware
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Logging logs every request with its status and latency
func Logging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// RequireEmployee rejects requests without a known bearer token and
// stores the employee id on the request context
func RequireEmployee(next http.Handler, authn *auth.TokenAuthenticator, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		employeeID, ok := authn.Authenticate(r)
		if !ok {
			logger.Warn("Unauthenticated request",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeJSON(w, http.StatusUnauthorized, map[string]errorBody{"error": {
				Kind:    apperr.KindForbidden.String(),
				Code:    "UNAUTHENTICATED",
				Message: "missing or invalid bearer token",
			}})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithEmployee(r.Context(), employeeID)))
	})
}

func employeeFrom(r *http.Request) string {
	id, _ := auth.EmployeeID(r.Context())
	return id
}
