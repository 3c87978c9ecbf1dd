package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

const screenshotColumns = `id, time_entry_id, employee_id, project_id, task_id, mime_type, size,
	width, height, taken_at, has_permission, storage_path, created_at`

type ScreenshotRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewScreenshotRepository(db *sql.DB, logger *zap.Logger) *ScreenshotRepository {
	return &ScreenshotRepository{db: db, logger: logger}
}

// Insert stores the record unless one with the same id already exists.
// It reports whether a new row was written.
func (r *ScreenshotRepository) Insert(ctx context.Context, s *models.Screenshot) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO screenshots (`+screenshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		s.ID,
		s.TimeEntryID,
		s.EmployeeID,
		s.ProjectID,
		s.TaskID,
		s.MimeType,
		s.Size,
		s.Width,
		s.Height,
		s.TakenAt.UnixMilli(),
		boolInt(s.HasPermission),
		s.StoragePath,
		s.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert screenshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *ScreenshotRepository) GetByID(ctx context.Context, id string) (*models.Screenshot, error) {
	s, err := scanScreenshot(r.db.QueryRowContext(ctx,
		`SELECT `+screenshotColumns+` FROM screenshots WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("screenshot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screenshot: %w", err)
	}
	return s, nil
}

func (r *ScreenshotRepository) ListByTimeEntry(ctx context.Context, timeEntryID string) ([]*models.Screenshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+screenshotColumns+` FROM screenshots WHERE time_entry_id = ? ORDER BY taken_at`,
		timeEntryID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	shots := []*models.Screenshot{}
	for rows.Next() {
		s, err := scanScreenshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan screenshot: %w", err)
		}
		shots = append(shots, s)
	}
	return shots, rows.Err()
}

func scanScreenshot(row rowScanner) (*models.Screenshot, error) {
	var (
		s                  models.Screenshot
		takenAt, createdAt int64
		permission         int
	)
	if err := row.Scan(
		&s.ID,
		&s.TimeEntryID,
		&s.EmployeeID,
		&s.ProjectID,
		&s.TaskID,
		&s.MimeType,
		&s.Size,
		&s.Width,
		&s.Height,
		&takenAt,
		&permission,
		&s.StoragePath,
		&createdAt,
	); err != nil {
		return nil, err
	}
	s.TakenAt = models.MillisTime(takenAt)
	s.CreatedAt = models.MillisTime(createdAt)
	s.HasPermission = permission == 1
	return &s, nil
}
