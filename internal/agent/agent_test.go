package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/cache"
	"Mansoor88-6/time-tracking/internal/capture"
	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/database"
	"Mansoor88-6/time-tracking/internal/models"
	"Mansoor88-6/time-tracking/internal/queue"
	"Mansoor88-6/time-tracking/internal/repository"
	"Mansoor88-6/time-tracking/internal/screenshot"
	"Mansoor88-6/time-tracking/internal/session"
)

var epoch = time.UnixMilli(1_700_000_000_000).UTC()

const waitFor = 2 * time.Second

// network stands between the agent and an in-process server and can be
// unplugged
type network struct {
	manager *session.Manager
	shots   *screenshot.Service
	down    atomic.Bool
	calls   atomic.Int32
}

func (n *network) fail() error {
	n.calls.Add(1)
	if n.down.Load() {
		return apperr.TransientIO("dial server", errors.New("connection refused"))
	}
	return nil
}

func (n *network) StartSession(ctx context.Context, req models.StartRequest) (*models.TimeEntry, error) {
	if err := n.fail(); err != nil {
		return nil, err
	}
	return n.manager.StartSession(ctx, req)
}

func (n *network) StopSession(ctx context.Context, req models.StopRequest) (*models.TimeEntry, error) {
	if err := n.fail(); err != nil {
		return nil, err
	}
	return n.manager.StopSession(ctx, req)
}

func (n *network) GetActiveSession(ctx context.Context, employeeID string) (*models.TimeEntry, error) {
	if err := n.fail(); err != nil {
		return nil, err
	}
	return n.manager.GetActiveSession(ctx, employeeID)
}

func (n *network) UploadScreenshot(ctx context.Context, up models.ScreenshotUpload) error {
	if err := n.fail(); err != nil {
		return err
	}
	_, err := n.shots.Upload(ctx, "e1", &up)
	return err
}

func (n *network) HealthCheck(context.Context) error {
	return n.fail()
}

type fakeCapturer struct {
	clock clock.Clock
	calls atomic.Int32
}

func (c *fakeCapturer) Capture(context.Context) (*capture.Artifact, error) {
	c.calls.Add(1)
	return &capture.Artifact{
		Data:          []byte("jpeg"),
		MimeType:      capture.MimeJPEG,
		Width:         1920,
		Height:        1080,
		Size:          4,
		TakenAt:       c.clock.Now(),
		HasPermission: true,
	}, nil
}

type eventFeed struct {
	ch chan models.Event
}

func (f *eventFeed) FollowEvents(ctx context.Context, onEvent func(models.Event)) error {
	for {
		select {
		case ev := <-f.ch:
			onEvent(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type fixture struct {
	clock    *clock.FakeClock
	net      *network
	manager  *session.Manager
	cache    *cache.Local
	queue    *queue.UploadQueue
	capturer *fakeCapturer
	feed     *eventFeed
	agentDB  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := database.New(filepath.Join(t.TempDir(), "server.db"), database.ServerSchema, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := repository.NewDirectoryRepository(db.DB, logger)
	require.NoError(t, dir.Apply(ctx, &repository.Seed{
		Employees: []models.Employee{{ID: "e1"}},
		Projects: []repository.ProjectSeed{
			{Project: models.Project{ID: "p1", Name: "Apollo", ScreenshotsEnabled: true, ScreenshotIntervalMs: 60_000}, Members: []string{"e1"}},
			{Project: models.Project{ID: "p2", Name: "Gemini"}, Members: []string{"e1"}},
		},
		Tasks: []repository.TaskSeed{
			{Task: models.Task{ID: "t1", ProjectID: "p1", Name: "Build"}, Members: []string{"e1"}},
			{Task: models.Task{ID: "t2", ProjectID: "p2", Name: "Plan"}, Members: []string{"e1"}},
		},
	}))

	clk := clock.Fake(epoch)
	manager := session.NewManager(session.Deps{
		Store:     repository.NewTimeEntryRepository(db.DB, logger),
		Directory: dir,
		Clock:     clk,
	}, session.Options{}, logger)
	t.Cleanup(manager.Close)

	shots := screenshot.NewService(manager, repository.NewScreenshotRepository(db.DB, logger),
		filepath.Join(t.TempDir(), "blobs"), 1<<20, clk, logger)

	f := &fixture{
		clock:    clk,
		net:      &network{manager: manager, shots: shots},
		manager:  manager,
		capturer: &fakeCapturer{clock: clk},
		feed:     &eventFeed{ch: make(chan models.Event, 8)},
		agentDB:  filepath.Join(t.TempDir(), "agent.db"),
	}
	return f
}

// newAgent opens the agent database, as a fresh process would
func (f *fixture) newAgent(t *testing.T) *Agent {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(f.agentDB, database.AgentSchema, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f.cache = cache.NewLocal(db.DB, f.clock, logger)
	f.queue = queue.NewUploadQueue(db.DB, f.clock, logger)

	a := New(Deps{
		Server:   f.net,
		Uploader: f.net,
		Pinger:   f.net,
		Events:   f.feed,
		Capturer: f.capturer,
		Cache:    f.cache,
		Queue:    f.queue,
		Clock:    f.clock,
	}, Options{EmployeeID: "e1", DeviceID: "dev-1"}, logger)
	t.Cleanup(a.Stop)
	return a
}

func (f *fixture) screenshotCount(t *testing.T, id string) int {
	entry, err := f.manager.GetSession(context.Background(), "e1", id)
	require.NoError(t, err)
	return len(entry.Screenshots)
}

func (f *fixture) waitScreenshots(t *testing.T, id string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.screenshotCount(t, id) == n }, waitFor, 5*time.Millisecond)
}

func TestStartCaptureStopScenario(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t)
	ctx := context.Background()

	entry, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	assert.True(t, entry.IsActive)
	assert.Equal(t, entry.ID, a.scheduler.SessionID())

	cached, err := f.cache.ActiveEntry(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, entry.ID, cached.ID)

	f.clock.Advance(60 * time.Second)
	f.waitScreenshots(t, entry.ID, 1)
	f.clock.Advance(60 * time.Second)
	f.waitScreenshots(t, entry.ID, 2)
	f.clock.Advance(5 * time.Second)

	stopped, err := a.StopSession(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(125_000), stopped.Duration)
	assert.False(t, stopped.IsActive)
	assert.False(t, a.scheduler.Running())

	f.clock.Advance(120 * time.Second)
	a.scheduler.Wait()
	assert.Equal(t, 2, f.screenshotCount(t, entry.ID))
	assert.Equal(t, int32(2), f.capturer.calls.Load())

	cached, err = f.cache.ActiveEntry(ctx)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestStartWithoutCapture(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t)

	entry, err := a.StartSession(context.Background(), "p2", "t2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.ScreenshotIntervalMs)
	assert.False(t, a.scheduler.Running())
}

func TestStartConflictKeepsRunningSession(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t)
	ctx := context.Background()

	first, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)

	_, err = a.StartSession(ctx, "p2", "t2", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)
	assert.Equal(t, first.ID, a.scheduler.SessionID())
}

func TestStartWhileOfflineIsRetryable(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t)

	f.net.down.Store(true)
	_, err := a.StartSession(context.Background(), "p1", "t1", nil)
	assert.True(t, apperr.Retryable(err))
	assert.False(t, a.scheduler.Running())
}

func TestStopWhenStoppedElsewhere(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t)
	ctx := context.Background()

	entry, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	_, err = f.manager.StopSession(ctx, models.StopRequest{EmployeeID: "e1", TimeEntryID: entry.ID})
	require.NoError(t, err)

	_, err = a.StopSession(ctx, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
	assert.False(t, a.scheduler.Running())

	cached, err := f.cache.ActiveEntry(ctx)
	require.NoError(t, err)
	assert.Nil(t, cached)

	_, err = a.StopSession(ctx, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestActiveSession(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t)
	ctx := context.Background()

	none, err := a.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	entry, err := f.manager.StartSession(ctx, models.StartRequest{EmployeeID: "e1", ProjectID: "p2", TaskID: "t2"})
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	got, err := a.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, int64(90_000), got.Duration)

	// served from the cache once the server is gone
	f.net.down.Store(true)
	f.clock.Advance(10 * time.Second)
	got, err = a.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), got.Duration)
}

func TestReconcileResumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newAgent(t)
	entry, err := first.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	first.Stop()

	restarted := f.newAgent(t)
	outcome, err := restarted.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResumed, outcome)
	assert.Equal(t, entry.ID, restarted.scheduler.SessionID())
	assert.Equal(t, time.Minute, restarted.scheduler.Interval())

	active, err := f.manager.ListSessions(ctx, "e1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	f.clock.Advance(time.Minute)
	f.waitScreenshots(t, entry.ID, 1)
}

func TestReconcileCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newAgent(t)
	entry, err := first.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	first.Stop()

	_, err = f.manager.StopSession(ctx, models.StopRequest{EmployeeID: "e1", TimeEntryID: entry.ID})
	require.NoError(t, err)

	restarted := f.newAgent(t)
	outcome, err := restarted.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileCleared, outcome)
	assert.False(t, restarted.scheduler.Running())

	cached, err := f.cache.ActiveEntry(ctx)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestReconcileDegradedThenRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newAgent(t)
	entry, err := first.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	first.Stop()

	f.net.down.Store(true)
	restarted := f.newAgent(t)
	outcome, err := restarted.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResumedDegraded, outcome)
	assert.True(t, restarted.Degraded())
	assert.Equal(t, entry.ID, restarted.scheduler.SessionID())

	// captures land in the queue without touching the network
	calls := f.net.calls.Load()
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		n, err := f.queue.Count(ctx)
		return err == nil && n == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, calls, f.net.calls.Load())

	// still down: the queue processor only pings
	restarted.processQueue(ctx)
	assert.True(t, restarted.Degraded())

	f.net.down.Store(false)
	restarted.processQueue(ctx)
	assert.False(t, restarted.Degraded())
	assert.Equal(t, entry.ID, restarted.scheduler.SessionID())

	n, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, f.screenshotCount(t, entry.ID))
}

func TestReconcileDegradedWithoutCacheFails(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t)

	f.net.down.Store(true)
	outcome, err := a.ReconcileOnStartup(context.Background())
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, ReconcileIdle, outcome)
	assert.False(t, a.scheduler.Running())
}

func TestReconcileAdoptsAndIdles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAgent(t)

	outcome, err := a.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileIdle, outcome)

	// started from the web dashboard while the agent was down
	entry, err := f.manager.StartSession(ctx, models.StartRequest{EmployeeID: "e1", ProjectID: "p1", TaskID: "t1"})
	require.NoError(t, err)

	outcome, err = a.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileAdopted, outcome)
	assert.Equal(t, entry.ID, a.scheduler.SessionID())

	cached, err := f.cache.ActiveEntry(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, cached.ID)
}

func TestReconcileReplacesStaleCachedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newAgent(t)
	stale, err := first.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	first.Stop()

	_, err = f.manager.StopSession(ctx, models.StopRequest{EmployeeID: "e1", TimeEntryID: stale.ID})
	require.NoError(t, err)
	fresh, err := f.manager.StartSession(ctx, models.StartRequest{EmployeeID: "e1", ProjectID: "p1", TaskID: "t1"})
	require.NoError(t, err)

	restarted := f.newAgent(t)
	outcome, err := restarted.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileAdopted, outcome)
	assert.Equal(t, fresh.ID, restarted.scheduler.SessionID())
}

func TestUploadFailureQueuesArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAgent(t)

	entry, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)

	sink := &uploadSink{agent: a}
	f.net.down.Store(true)
	id, err := sink.Persist(ctx, entry.ID, &capture.Artifact{Data: []byte("x"), MimeType: capture.MimeJPEG, TakenAt: f.clock.Now()})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	due, err := f.queue.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "p1", due[0].Upload.ProjectID)
	assert.Equal(t, "t1", due[0].Upload.TaskID)

	// a failed retry is pushed out by the backoff
	assert.Equal(t, 0, a.drainQueue(ctx))
	due, err = f.queue.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	f.net.down.Store(false)
	f.clock.Advance(queue.Backoff(1))
	assert.Equal(t, 1, a.drainQueue(ctx))
	assert.Equal(t, 1, f.screenshotCount(t, entry.ID))
}

func TestUndeliverableUploadsAreDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAgent(t)

	require.NoError(t, f.queue.Enqueue(ctx, models.ScreenshotUpload{
		ID:          uuid.NewString(),
		TimeEntryID: "gone",
		MimeType:    capture.MimeJPEG,
		TakenAt:     f.clock.Now(),
		Data:        []byte("x"),
	}))

	assert.Equal(t, 0, a.drainQueue(ctx))
	n, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEventsStopAndAdopt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAgent(t)
	a.Start(ctx)

	entry, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)

	stopped, err := f.manager.StopSession(ctx, models.StopRequest{EmployeeID: "e1", TimeEntryID: entry.ID})
	require.NoError(t, err)
	f.feed.ch <- models.Event{Type: models.EventStopped, Entry: stopped}
	f.feed.ch <- models.Event{Type: models.EventStopped, Entry: stopped}

	require.Eventually(t, func() bool { return !a.scheduler.Running() }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		cached, err := f.cache.ActiveEntry(ctx)
		return err == nil && cached == nil
	}, waitFor, 5*time.Millisecond)

	started, err := f.manager.StartSession(ctx, models.StartRequest{EmployeeID: "e1", ProjectID: "p1", TaskID: "t1"})
	require.NoError(t, err)
	f.feed.ch <- models.Event{Type: models.EventStarted, Entry: started}

	require.Eventually(t, func() bool { return a.scheduler.SessionID() == started.ID }, waitFor, 5*time.Millisecond)

	// other employees' events are ignored
	other := started.Clone()
	other.ID = "someone-else"
	other.EmployeeID = "e9"
	f.feed.ch <- models.Event{Type: models.EventStopped, Entry: other}
	f.feed.ch <- models.Event{Type: models.EventStopped, Entry: &models.TimeEntry{ID: started.ID, EmployeeID: "e9"}}
	assert.Never(t, func() bool { return a.scheduler.SessionID() != started.ID }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestApplySettingsRaisesFloorForNextSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAgent(t)

	assert.True(t, apperr.IsKind(a.ApplySettings(ctx, 0), apperr.KindValidation))

	first, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	require.NoError(t, a.ApplySettings(ctx, 2*time.Minute))
	assert.Equal(t, time.Minute, a.scheduler.Interval())

	_, err = a.StopSession(ctx, nil)
	require.NoError(t, err)
	_, err = a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, a.scheduler.Interval())
	assert.NotEqual(t, first.ID, a.scheduler.SessionID())
}

func TestStartReplacesLeftoverScheduleWithoutRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAgent(t)

	leftover := uuid.NewString()
	require.NoError(t, a.scheduler.Start(leftover, time.Minute))

	entry, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, a.scheduler.SessionID())

	active, err := f.manager.GetActiveSession(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, entry.ID, active.ID)

	list, err := f.manager.ListSessions(ctx, "e1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAgent(t)

	entry, err := a.StartSession(ctx, "p1", "t1", nil)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", status.EmployeeID)
	assert.Equal(t, "dev-1", status.DeviceID)
	require.NotNil(t, status.Active)
	assert.Equal(t, entry.ID, status.Active.ID)
	assert.Equal(t, int64(30_000), status.Active.Duration)
	assert.True(t, status.Capturing)
	assert.False(t, status.Degraded)
	assert.Equal(t, int64(60_000), status.ScreenshotIntervalMs)
	assert.Zero(t, status.IdleMs)
}

func TestReconcileOutcomeString(t *testing.T) {
	assert.Equal(t, "idle", ReconcileIdle.String())
	assert.Equal(t, "resumed", ReconcileResumed.String())
	assert.Equal(t, "cleared", ReconcileCleared.String())
	assert.Equal(t, "resumed_degraded", ReconcileResumedDegraded.String())
	assert.Equal(t, "adopted", ReconcileAdopted.String())
}
