package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/models"
)

const (
	baseBackoff = 30 * time.Second
	maxBackoff  = 30 * time.Minute
)

// Pending is one queued upload as read back from disk
type Pending struct {
	RowID      int64
	Upload     models.ScreenshotUpload
	RetryCount int
	CreatedAt  time.Time
}

// UploadQueue holds screenshots the agent could not deliver yet. Rows are
// keyed by screenshot id so queueing the same artifact twice is a no-op.
type UploadQueue struct {
	db     *sql.DB
	clock  clock.Clock
	logger *zap.Logger
}

// NewUploadQueue creates a new upload queue
func NewUploadQueue(db *sql.DB, clk clock.Clock, logger *zap.Logger) *UploadQueue {
	return &UploadQueue{
		db:     db,
		clock:  clk,
		logger: logger,
	}
}

// Enqueue adds uploads to the queue
func (q *UploadQueue) Enqueue(ctx context.Context, uploads ...models.ScreenshotUpload) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_uploads (screenshot_id, metadata, payload, created_at, retry_count, next_attempt)
		VALUES (?, ?, ?, ?, 0, 0)
		ON CONFLICT(screenshot_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := q.clock.Now().UnixMilli()
	for _, up := range uploads {
		metadata, err := json.Marshal(up)
		if err != nil {
			return fmt.Errorf("failed to marshal upload %s: %w", up.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, up.ID, string(metadata), up.Data, now); err != nil {
			return fmt.Errorf("failed to enqueue upload %s: %w", up.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	q.logger.Debug("Uploads enqueued", zap.Int("count", len(uploads)))
	return nil
}

// Due returns up to limit uploads whose backoff has elapsed, oldest first
func (q *UploadQueue) Due(ctx context.Context, limit int) ([]Pending, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, metadata, payload, retry_count, created_at
		FROM pending_uploads
		WHERE next_attempt <= ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, q.clock.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending uploads: %w", err)
	}

	var (
		pending []Pending
		corrupt []int64
	)
	for rows.Next() {
		var (
			p        Pending
			metadata string
			payload  []byte
			created  int64
		)
		if err := rows.Scan(&p.RowID, &metadata, &payload, &p.RetryCount, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pending upload: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &p.Upload); err != nil {
			q.logger.Error("Failed to unmarshal upload", zap.Error(err), zap.Int64("id", p.RowID))
			corrupt = append(corrupt, p.RowID)
			continue
		}
		p.Upload.Data = payload
		p.CreatedAt = models.MillisTime(created)
		pending = append(pending, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate pending uploads: %w", err)
	}

	if len(corrupt) > 0 {
		if err := q.Remove(ctx, corrupt...); err != nil {
			q.logger.Warn("Failed to drop corrupt uploads", zap.Error(err))
		}
	}
	return pending, nil
}

// Remove removes uploads from the queue by their row ids
func (q *UploadQueue) Remove(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args := inClause("DELETE FROM pending_uploads WHERE id IN ", ids)
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to remove uploads: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	q.logger.Debug("Uploads removed from queue", zap.Int64("count", rowsAffected))
	return nil
}

// MarkFailed bumps the retry count and pushes the next attempt out with
// exponential backoff
func (q *UploadQueue) MarkFailed(ctx context.Context, p Pending) error {
	now := q.clock.Now()
	next := now.Add(Backoff(p.RetryCount + 1))

	_, err := q.db.ExecContext(ctx, `
		UPDATE pending_uploads
		SET retry_count = retry_count + 1, last_attempt = ?, next_attempt = ?
		WHERE id = ?
	`, now.UnixMilli(), next.UnixMilli(), p.RowID)
	if err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}
	return nil
}

// Count returns the number of queued uploads
func (q *UploadQueue) Count(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_uploads`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

// CleanupOld removes uploads older than olderThan that have exhausted
// their retries
func (q *UploadQueue) CleanupOld(ctx context.Context, olderThan time.Duration, maxRetries int) (int64, error) {
	cutoff := q.clock.Now().Add(-olderThan).UnixMilli()
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM pending_uploads
		WHERE created_at < ? AND retry_count > ?
	`, cutoff, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old uploads: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		q.logger.Info("Cleaned up old uploads", zap.Int64("count", rowsAffected))
	}
	return rowsAffected, nil
}

// Backoff is the delay before the given attempt: 30s doubling up to 30m
func Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return baseBackoff
	}
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func inClause(prefix string, ids []int64) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("(")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		args[i] = id
	}
	b.WriteString(")")
	return b.String(), args
}
