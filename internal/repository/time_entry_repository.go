package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

const timeEntryColumns = `id, employee_id, project_id, task_id, description, start_time, end_time,
	duration_ms, is_active, screenshot_interval_ms, device_info, created_at, updated_at`

// TimeEntryRepository is the durable session store. The partial unique
// index on (employee_id) WHERE is_active = 1 is the final word on the
// one-active-session rule.
type TimeEntryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTimeEntryRepository(db *sql.DB, logger *zap.Logger) *TimeEntryRepository {
	return &TimeEntryRepository{db: db, logger: logger}
}

// Insert persists a new active entry. A second active entry for the same
// employee is rejected as a conflict.
func (r *TimeEntryRepository) Insert(ctx context.Context, entry *models.TimeEntry) error {
	if !entry.IsActive || entry.EndTime != nil {
		return apperr.Validation("only active entries can be inserted")
	}

	device, err := json.Marshal(entry.DeviceInfo)
	if err != nil {
		return fmt.Errorf("failed to encode device info: %w", err)
	}

	query := `
		INSERT INTO time_entries (id, employee_id, project_id, task_id, description, start_time,
			duration_ms, is_active, screenshot_interval_ms, device_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.EmployeeID,
		entry.ProjectID,
		entry.TaskID,
		nullString(entry.Description),
		entry.StartTime.UnixMilli(),
		entry.ScreenshotIntervalMs,
		string(device),
		entry.CreatedAt.UnixMilli(),
		entry.UpdatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return apperr.AlreadyTracking(entry.EmployeeID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert time entry: %w", err)
	}
	return nil
}

// FindActiveByEmployee returns every active entry of the employee. More
// than one means the store is corrupt; callers treat that as fatal. At
// most two rows are read.
func (r *TimeEntryRepository) FindActiveByEmployee(ctx context.Context, employeeID string) ([]*models.TimeEntry, error) {
	query := `SELECT ` + timeEntryColumns + `
		FROM time_entries
		WHERE employee_id = ? AND is_active = 1
		ORDER BY start_time DESC
		LIMIT 2`
	return r.queryEntries(ctx, query, employeeID)
}

func (r *TimeEntryRepository) FindByID(ctx context.Context, id string) (*models.TimeEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE id = ?`

	entry, err := scanTimeEntry(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("time entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get time entry: %w", err)
	}
	if err := r.loadScreenshots(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Finalize stops the entry if, and only if, it is still active and owned by
// employeeID. The check and the write are one statement, so concurrent
// stops cannot both succeed. A nil description keeps the current one.
func (r *TimeEntryRepository) Finalize(ctx context.Context, id, employeeID string, endTime time.Time, description *string) (*models.TimeEntry, error) {
	end := endTime.UnixMilli()
	query := `
		UPDATE time_entries
		SET end_time = MAX(?, start_time),
			duration_ms = MAX(? - start_time, 0),
			is_active = 0,
			description = COALESCE(?, description),
			updated_at = ?
		WHERE id = ? AND employee_id = ? AND is_active = 1
		RETURNING ` + timeEntryColumns

	entry, err := scanTimeEntry(r.db.QueryRowContext(ctx, query,
		end, end, nullString(description), end, id, employeeID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("active time entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize time entry: %w", err)
	}
	if err := r.loadScreenshots(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendScreenshot adds screenshotID to the entry's ordered list. Repeating
// the same pair is a no-op. Appending to a stopped entry is allowed so that
// late uploads still land.
func (r *TimeEntryRepository) AppendScreenshot(ctx context.Context, timeEntryID, screenshotID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE time_entries SET updated_at = ? WHERE id = ?`,
		at.UnixMilli(), timeEntryID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch time entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("time entry", timeEntryID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO time_entry_screenshots (time_entry_id, screenshot_id, appended_at)
		VALUES (?, ?, ?)`,
		timeEntryID, screenshotID, at.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to append screenshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit screenshot append: %w", err)
	}
	return nil
}

// UpdateDescription replaces the description of an entry owned by
// employeeID, active or not.
func (r *TimeEntryRepository) UpdateDescription(ctx context.Context, id, employeeID string, description *string, at time.Time) (*models.TimeEntry, error) {
	query := `
		UPDATE time_entries SET description = ?, updated_at = ?
		WHERE id = ? AND employee_id = ?
		RETURNING ` + timeEntryColumns

	entry, err := scanTimeEntry(r.db.QueryRowContext(ctx, query,
		nullString(description), at.UnixMilli(), id, employeeID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("time entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update time entry: %w", err)
	}
	if err := r.loadScreenshots(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByEmployee pages through an employee's entries, newest first
func (r *TimeEntryRepository) ListByEmployee(ctx context.Context, employeeID string, limit, offset int) ([]*models.TimeEntry, error) {
	query := `SELECT ` + timeEntryColumns + `
		FROM time_entries
		WHERE employee_id = ?
		ORDER BY start_time DESC
		LIMIT ? OFFSET ?`
	return r.queryEntries(ctx, query, employeeID, limit, offset)
}

func (r *TimeEntryRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*models.TimeEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}

	entries := []*models.TimeEntry{}
	for rows.Next() {
		entry, err := scanTimeEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	// release the connection before the per-entry screenshot lookups
	rows.Close()

	for _, entry := range entries {
		if err := r.loadScreenshots(ctx, entry); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *TimeEntryRepository) loadScreenshots(ctx context.Context, entry *models.TimeEntry) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT screenshot_id FROM time_entry_screenshots WHERE time_entry_id = ? ORDER BY seq`,
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	entry.Screenshots = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan screenshot id: %w", err)
		}
		entry.Screenshots = append(entry.Screenshots, id)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTimeEntry(row rowScanner) (*models.TimeEntry, error) {
	var (
		entry                         models.TimeEntry
		description                   sql.NullString
		endTime                       sql.NullInt64
		startTime, createdAt, updated int64
		isActive                      int
		device                        string
	)
	err := row.Scan(
		&entry.ID,
		&entry.EmployeeID,
		&entry.ProjectID,
		&entry.TaskID,
		&description,
		&startTime,
		&endTime,
		&entry.Duration,
		&isActive,
		&entry.ScreenshotIntervalMs,
		&device,
		&createdAt,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		d := description.String
		entry.Description = &d
	}
	entry.StartTime = models.MillisTime(startTime)
	if endTime.Valid {
		t := models.MillisTime(endTime.Int64)
		entry.EndTime = &t
	}
	entry.IsActive = isActive == 1
	entry.CreatedAt = models.MillisTime(createdAt)
	entry.UpdatedAt = models.MillisTime(updated)
	entry.Screenshots = []string{}

	if err := json.Unmarshal([]byte(device), &entry.DeviceInfo); err != nil {
		return nil, fmt.Errorf("failed to decode device info: %w", err)
	}
	return &entry, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
