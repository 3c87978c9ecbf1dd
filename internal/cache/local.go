package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/models"
)

// Well-known keys of the agent's durable cache
const (
	KeyActiveTimeEntry    = "activeTimeEntry"
	KeyScreenshotInterval = "settings.screenshotInterval"
	KeyDeviceID           = "device.id"
)

// ErrMiss is returned when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Local is the agent's durable key/value cache. It survives restarts so
// the agent can reconcile a session it was tracking before it went down.
type Local struct {
	mu     sync.RWMutex
	db     *sql.DB
	clock  clock.Clock
	logger *zap.Logger
}

func NewLocal(db *sql.DB, clk clock.Clock, logger *zap.Logger) *Local {
	return &Local{db: db, clock: clk, logger: logger}
}

// Set stores value under key. A positive ttl makes the row expire.
func (l *Local) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var expires interface{}
	if ttl > 0 {
		expires = now.Add(ttl).UnixMilli()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, updated_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		key, value, now.UnixMilli(), expires,
	)
	if err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Get returns ErrMiss for absent or expired keys
func (l *Local) Get(ctx context.Context, key string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		value   string
		expires sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	if expires.Valid && l.clock.Now().UnixMilli() >= expires.Int64 {
		return "", ErrMiss
	}
	return value, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// PurgeExpired drops expired rows and reports how many went
func (l *Local) PurgeExpired(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		l.clock.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.Debug("Purged expired cache entries", zap.Int64("count", n))
	}
	return n, nil
}

// ActiveEntry returns the cached active session, or nil when none is
// cached. An unreadable row is dropped and treated as absent.
func (l *Local) ActiveEntry(ctx context.Context) (*models.TimeEntry, error) {
	raw, err := l.Get(ctx, KeyActiveTimeEntry)
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry models.TimeEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		l.logger.Warn("Dropping corrupt cached time entry", zap.Error(err))
		if err := l.Delete(ctx, KeyActiveTimeEntry); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &entry, nil
}

func (l *Local) SetActiveEntry(ctx context.Context, entry *models.TimeEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode time entry: %w", err)
	}
	return l.Set(ctx, KeyActiveTimeEntry, string(data), 0)
}

func (l *Local) ClearActiveEntry(ctx context.Context) error {
	return l.Delete(ctx, KeyActiveTimeEntry)
}

// ScreenshotInterval returns the cached interval setting, ok=false if unset
func (l *Local) ScreenshotInterval(ctx context.Context) (time.Duration, bool, error) {
	raw, err := l.Get(ctx, KeyScreenshotInterval)
	if errors.Is(err, ErrMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cached screenshot interval %q: %w", raw, err)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

func (l *Local) SetScreenshotInterval(ctx context.Context, d time.Duration) error {
	return l.Set(ctx, KeyScreenshotInterval, strconv.FormatInt(d.Milliseconds(), 10), 0)
}
