package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

// multipart overhead allowed on top of the image itself
const formOverhead = 1 << 20

type Screenshots interface {
	Upload(ctx context.Context, employeeID string, up *models.ScreenshotUpload) (*models.Screenshot, error)
	Get(ctx context.Context, employeeID, id string) (*models.Screenshot, error)
	List(ctx context.Context, employeeID, timeEntryID string) ([]*models.Screenshot, error)
}

type ScreenshotHandler struct {
	screenshots Screenshots
	maxBytes    int64
	logger      *zap.Logger
}

func NewScreenshotHandler(screenshots Screenshots, maxBytes int64, logger *zap.Logger) *ScreenshotHandler {
	return &ScreenshotHandler{
		screenshots: screenshots,
		maxBytes:    maxBytes,
		logger:      logger,
	}
}

func (h *ScreenshotHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverhead)
	up, err := parseUpload(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	shot, err := h.screenshots.Upload(r.Context(), employeeFrom(r), up)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, shot)
}

// Image streams the stored image back to its owner
func (h *ScreenshotHandler) Image(w http.ResponseWriter, r *http.Request) {
	shot, err := h.screenshots.Get(r.Context(), employeeFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", shot.MimeType)
	http.ServeFile(w, r, shot.StoragePath)
}

// List returns the metadata of a time entry's screenshots
func (h *ScreenshotHandler) List(w http.ResponseWriter, r *http.Request) {
	shots, err := h.screenshots.List(r.Context(), employeeFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shots)
}

func parseUpload(r *http.Request) (*models.ScreenshotUpload, error) {
	if err := r.ParseMultipartForm(formOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("upload too large")
		}
		return nil, apperr.Validation("invalid multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.Validation("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.Validation("failed to read file")
	}

	up := &models.ScreenshotUpload{
		ID:          r.FormValue("id"),
		TimeEntryID: r.FormValue("timeEntryId"),
		ProjectID:   r.FormValue("projectId"),
		TaskID:      r.FormValue("taskId"),
		MimeType:    header.Header.Get("Content-Type"),
		Data:        data,
	}
	if up.MimeType == "" || up.MimeType == "application/octet-stream" {
		up.MimeType = r.FormValue("mimeType")
	}

	if up.TakenAt, err = time.Parse(time.RFC3339Nano, r.FormValue("takenAt")); err != nil {
		return nil, apperr.Validation("takenAt must be an RFC 3339 timestamp")
	}
	if up.Width, err = optionalInt(r.FormValue("width")); err != nil {
		return nil, apperr.Validation("invalid width")
	}
	if up.Height, err = optionalInt(r.FormValue("height")); err != nil {
		return nil, apperr.Validation("invalid height")
	}
	if raw := r.FormValue("hasPermission"); raw != "" {
		if up.HasPermission, err = strconv.ParseBool(raw); err != nil {
			return nil, apperr.Validation("invalid hasPermission")
		}
	}
	return up, nil
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
