package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error":{kind,code,message}}. Caller mistakes
// are logged quietly, system failures at error level.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)

	body := errorBody{
		Kind:    kind.String(),
		Code:    "INTERNAL",
		Message: apperr.UserMessage(err),
	}
	if e, ok := apperr.As(err); ok {
		body.Code = e.Code
	} else if kind == apperr.KindTransientIO {
		body.Code = "TRANSIENT_IO"
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", body.Code),
		zap.Error(err),
	}
	switch kind {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindConflict:
		logger.Info("Request rejected", fields...)
	case apperr.KindForbidden:
		logger.Warn("Request forbidden", fields...)
	default:
		logger.Error("Request failed", fields...)
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}
