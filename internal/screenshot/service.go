// Package screenshot persists uploaded screenshot artifacts on the server:
// the image goes to blob storage, the metadata to the screenshots table,
// and the id is appended to the owning time entry.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/models"
)

// Sessions is the slice of the session manager the service needs
type Sessions interface {
	GetSession(ctx context.Context, employeeID, id string) (*models.TimeEntry, error)
	AppendScreenshot(ctx context.Context, sessionID, screenshotID string) error
}

type Records interface {
	Insert(ctx context.Context, s *models.Screenshot) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Screenshot, error)
	ListByTimeEntry(ctx context.Context, timeEntryID string) ([]*models.Screenshot, error)
}

type Service struct {
	sessions Sessions
	records  Records
	blobDir  string
	maxBytes int64
	clock    clock.Clock
	logger   *zap.Logger
}

func NewService(sessions Sessions, records Records, blobDir string, maxBytes int64, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		sessions: sessions,
		records:  records,
		blobDir:  blobDir,
		maxBytes: maxBytes,
		clock:    clk,
		logger:   logger,
	}
}

// Upload stores one artifact for a time entry owned by employeeID. The
// producer assigns the id, so repeating an upload returns the original
// record without duplicating anything. Uploads for stopped entries are
// accepted.
func (s *Service) Upload(ctx context.Context, employeeID string, up *models.ScreenshotUpload) (*models.Screenshot, error) {
	if err := s.validate(up); err != nil {
		return nil, err
	}

	entry, err := s.sessions.GetSession(ctx, employeeID, up.TimeEntryID)
	if err != nil {
		return nil, err
	}
	if up.ProjectID != "" && up.ProjectID != entry.ProjectID {
		return nil, apperr.Validation("projectId does not match the time entry")
	}
	if up.TaskID != "" && up.TaskID != entry.TaskID {
		return nil, apperr.Validation("taskId does not match the time entry")
	}

	path, err := s.writeBlob(entry.ID, up)
	if err != nil {
		s.logger.Error("Failed to write screenshot blob",
			zap.String("screenshot_id", up.ID),
			zap.Error(err),
		)
		return nil, apperr.TransientIO("write screenshot blob", err)
	}

	record := &models.Screenshot{
		ID:            up.ID,
		TimeEntryID:   entry.ID,
		EmployeeID:    employeeID,
		ProjectID:     entry.ProjectID,
		TaskID:        entry.TaskID,
		MimeType:      up.MimeType,
		Size:          int64(len(up.Data)),
		Width:         up.Width,
		Height:        up.Height,
		TakenAt:       models.TruncateMillis(up.TakenAt),
		HasPermission: up.HasPermission,
		StoragePath:   path,
		CreatedAt:     models.TruncateMillis(s.clock.Now()),
	}

	created, err := s.records.Insert(ctx, record)
	if err != nil {
		return nil, apperr.TransientIO("insert screenshot", err)
	}
	if !created {
		existing, err := s.records.GetByID(ctx, up.ID)
		if err != nil {
			return nil, err
		}
		if existing.EmployeeID != employeeID || existing.TimeEntryID != entry.ID {
			return nil, apperr.New(apperr.KindConflict, "SCREENSHOT_ID_TAKEN", "screenshot id already used")
		}
		record = existing
	}

	if err := s.sessions.AppendScreenshot(ctx, entry.ID, record.ID); err != nil {
		return nil, err
	}

	s.logger.Info("Screenshot stored",
		zap.String("screenshot_id", record.ID),
		zap.String("time_entry_id", entry.ID),
		zap.Int64("size", record.Size),
		zap.Bool("duplicate", !created),
	)
	return record, nil
}

// Get returns a screenshot record owned by employeeID
func (s *Service) Get(ctx context.Context, employeeID, id string) (*models.Screenshot, error) {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.EmployeeID != employeeID {
		return nil, apperr.NotFound("screenshot", id)
	}
	return record, nil
}

// List returns the screenshots of one of the employee's time entries in
// capture order
func (s *Service) List(ctx context.Context, employeeID, timeEntryID string) ([]*models.Screenshot, error) {
	if _, err := s.sessions.GetSession(ctx, employeeID, timeEntryID); err != nil {
		return nil, err
	}
	shots, err := s.records.ListByTimeEntry(ctx, timeEntryID)
	if err != nil {
		return nil, apperr.TransientIO("list screenshots", err)
	}
	return shots, nil
}

func (s *Service) validate(up *models.ScreenshotUpload) error {
	if _, err := uuid.Parse(up.ID); err != nil {
		return apperr.Validation("id must be a uuid")
	}
	if up.TimeEntryID == "" {
		return apperr.Validation("timeEntryId is required")
	}
	if len(up.Data) == 0 {
		return apperr.Validation("file is empty")
	}
	if s.maxBytes > 0 && int64(len(up.Data)) > s.maxBytes {
		return apperr.Validation(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}
	if extension(up.MimeType) == "" {
		return apperr.Validation("unsupported mime type " + up.MimeType)
	}
	return nil
}

// writeBlob writes via a temp file and rename so readers never see a
// partial image
func (s *Service) writeBlob(timeEntryID string, up *models.ScreenshotUpload) (string, error) {
	dir := filepath.Join(s.blobDir, filepath.Base(timeEntryID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	path := filepath.Join(dir, up.ID+extension(up.MimeType))
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(up.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move blob into place: %w", err)
	}
	return path, nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
