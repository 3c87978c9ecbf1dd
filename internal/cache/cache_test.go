package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/database"
	"Mansoor88-6/time-tracking/internal/models"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func TestMemoryExpiry(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewMemory[int](30*time.Second, 0, clk, zap.NewNop())
	defer m.Stop()

	m.Set("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(31 * time.Second)
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, m.sweep())
}

func TestMemoryDeleteAndClear(t *testing.T) {
	m := NewMemory[string](time.Minute, 0, clock.Fake(epoch), zap.NewNop())
	defer m.Stop()

	m.Set("a", "x")
	m.Set("b", "y")
	m.Delete("a")
	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Clear()
	_, ok = m.Get("b")
	assert.False(t, ok)
}

func TestMemorySweepLoop(t *testing.T) {
	clk := clock.Fake(epoch)
	m := NewMemory[int](time.Second, 10*time.Second, clk, zap.NewNop())

	m.Set("a", 1)
	clk.WaitForTimers(1)
	clk.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.items) == 0
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func newLocal(t *testing.T, clk clock.Clock) *Local {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), database.AgentSchema, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLocal(db.DB, clk, zap.NewNop())
}

func TestLocalSetGetTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(epoch)
	l := newLocal(t, clk)

	_, err := l.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, l.Set(ctx, "k", "v1", 0))
	require.NoError(t, l.Set(ctx, "k", "v2", time.Minute))
	v, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	clk.Advance(time.Minute)
	_, err = l.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	n, err := l.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLocalActiveEntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t, clock.Fake(epoch))

	got, err := l.ActiveEntry(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	entry := &models.TimeEntry{ID: "te1", EmployeeID: "e1", StartTime: models.MillisTime(epoch.UnixMilli()), IsActive: true, ScreenshotIntervalMs: 60_000}
	require.NoError(t, l.SetActiveEntry(ctx, entry))

	got, err = l.ActiveEntry(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "te1", got.ID)
	assert.Equal(t, time.Minute, got.ScreenshotInterval())

	require.NoError(t, l.ClearActiveEntry(ctx))
	got, err = l.ActiveEntry(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocalCorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t, clock.Fake(epoch))

	require.NoError(t, l.Set(ctx, KeyActiveTimeEntry, "{not json", 0))
	got, err := l.ActiveEntry(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = l.Get(ctx, KeyActiveTimeEntry)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestLocalScreenshotInterval(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t, clock.Fake(epoch))

	_, ok, err := l.ScreenshotInterval(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.SetScreenshotInterval(ctx, 2*time.Minute))
	d, ok, err := l.ScreenshotInterval(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)
}

func TestLocalSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := database.New(path, database.AgentSchema, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, NewLocal(db.DB, clock.Fake(epoch), zap.NewNop()).Set(ctx, KeyDeviceID, "dev-1", 0))
	require.NoError(t, db.Close())

	db, err = database.New(path, database.AgentSchema, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	v, err := NewLocal(db.DB, clock.Fake(epoch), zap.NewNop()).Get(ctx, KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", v)
}
