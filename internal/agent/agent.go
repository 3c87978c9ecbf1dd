// Package agent runs the desktop side of time tracking: it drives the
// capture scheduler for the employee's active session, keeps a durable
// local copy of that session, and survives restarts and network loss.
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/cache"
	"Mansoor88-6/time-tracking/internal/capture"
	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/models"
	"Mansoor88-6/time-tracking/internal/queue"
)

// Server is the session store of record. client.APIClient implements it
// over HTTP and session.Manager in-process.
type Server interface {
	StartSession(ctx context.Context, req models.StartRequest) (*models.TimeEntry, error)
	StopSession(ctx context.Context, req models.StopRequest) (*models.TimeEntry, error)
	GetActiveSession(ctx context.Context, employeeID string) (*models.TimeEntry, error)
}

type Uploader interface {
	UploadScreenshot(ctx context.Context, up models.ScreenshotUpload) error
}

type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// EventSource delivers the server's lifecycle events until ctx is done or
// the connection drops
type EventSource interface {
	FollowEvents(ctx context.Context, onEvent func(models.Event)) error
}

type DeviceProbe interface {
	Probe(ctx context.Context) models.DeviceInfo
}

type idleReporter interface {
	IdleTime() time.Duration
}

// Deps are the agent's collaborators. Events and Probe are optional.
type Deps struct {
	Server   Server
	Uploader Uploader
	Pinger   Pinger
	Events   EventSource
	Probe    DeviceProbe
	Capturer capture.Capturer
	Cache    *cache.Local
	Queue    *queue.UploadQueue
	Clock    clock.Clock
}

type Options struct {
	EmployeeID      string
	DeviceID        string
	QueueInterval   time.Duration
	UploadBatchSize int
	QueueMaxAge     time.Duration
	QueueMaxRetries int
	ReconnectDelay  time.Duration
	CallTimeout     time.Duration
	Scheduler       capture.SchedulerOptions
}

// Agent owns the capture scheduler for one employee on one device
type Agent struct {
	server    Server
	uploader  Uploader
	pinger    Pinger
	events    EventSource
	probe     DeviceProbe
	cache     *cache.Local
	queue     *queue.UploadQueue
	scheduler *capture.Scheduler
	clock     clock.Clock
	opts      Options
	logger    *zap.Logger

	// serialises lifecycle transitions on this device
	mu       sync.Mutex
	degraded atomic.Bool

	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(deps Deps, opts Options, logger *zap.Logger) *Agent {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if opts.QueueInterval <= 0 {
		opts.QueueInterval = time.Minute
	}
	if opts.UploadBatchSize <= 0 {
		opts.UploadBatchSize = 20
	}
	if opts.QueueMaxAge <= 0 {
		opts.QueueMaxAge = 7 * 24 * time.Hour
	}
	if opts.QueueMaxRetries <= 0 {
		opts.QueueMaxRetries = 10
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}

	a := &Agent{
		server:   deps.Server,
		uploader: deps.Uploader,
		pinger:   deps.Pinger,
		events:   deps.Events,
		probe:    deps.Probe,
		cache:    deps.Cache,
		queue:    deps.Queue,
		clock:    deps.Clock,
		opts:     opts,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	a.scheduler = capture.NewScheduler(deps.Capturer, &uploadSink{agent: a}, deps.Clock, opts.Scheduler, logger)
	return a
}

// StartSession opens a session on the server and starts capturing when the
// entry carries an interval. If capture cannot start the entry is stopped
// again so no active session is left without a scheduler.
func (a *Agent) StartSession(ctx context.Context, projectID, taskID string, description *string) (*models.TimeEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := models.StartRequest{
		EmployeeID:  a.opts.EmployeeID,
		ProjectID:   projectID,
		TaskID:      taskID,
		Description: description,
	}
	if a.probe != nil {
		info := a.probe.Probe(ctx)
		req.DeviceInfo = &info
	}

	entry, err := a.server.StartSession(ctx, req)
	if err != nil {
		a.logger.Warn("Server refused to start session",
			zap.String("project_id", projectID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return nil, err
	}

	// startCapture replaces a schedule left from another session, so with a
	// server-issued id and interval it does not fail. The rollback below
	// leaves a zero-length stopped entry; entries are never deleted.
	if err := a.startCapture(ctx, entry); err != nil {
		a.logger.Error("Failed to start capture, rolling back session",
			zap.String("time_entry_id", entry.ID),
			zap.Error(err),
		)
		if _, stopErr := a.server.StopSession(ctx, models.StopRequest{EmployeeID: a.opts.EmployeeID, TimeEntryID: entry.ID}); stopErr != nil {
			a.logger.Error("Failed to roll back session", zap.String("time_entry_id", entry.ID), zap.Error(stopErr))
		}
		return nil, err
	}

	if err := a.cache.SetActiveEntry(ctx, entry); err != nil {
		a.logger.Warn("Failed to cache active session", zap.Error(err))
	}

	a.logger.Info("Session started",
		zap.String("time_entry_id", entry.ID),
		zap.String("project_id", entry.ProjectID),
		zap.Int64("screenshot_interval_ms", entry.ScreenshotIntervalMs),
	)
	return entry, nil
}

// StopSession stops the current session. When the server no longer knows
// it as active, local capture and cache are torn down anyway and the
// NotFound is returned.
func (a *Agent) StopSession(ctx context.Context, description *string) (*models.TimeEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.NotFound("active time entry", a.opts.EmployeeID)
	}

	stopped, err := a.server.StopSession(ctx, models.StopRequest{
		EmployeeID:  a.opts.EmployeeID,
		TimeEntryID: current.ID,
		Description: description,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			a.teardown(ctx, current.ID)
		}
		return nil, err
	}

	a.teardown(ctx, stopped.ID)
	a.logger.Info("Session stopped",
		zap.String("time_entry_id", stopped.ID),
		zap.Int64("duration_ms", stopped.Duration),
	)
	return stopped, nil
}

// ActiveSession returns the current session from the local cache, falling
// back to the server
func (a *Agent) ActiveSession(ctx context.Context) (*models.TimeEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := a.currentSession(ctx)
	if err != nil || entry == nil {
		return nil, err
	}
	out := entry.Clone()
	out.Duration = out.DurationAt(a.clock.Now())
	return out, nil
}

// Status summarises the agent for the control endpoint. It never calls
// the server.
func (a *Agent) Status(ctx context.Context) (*models.AgentStatus, error) {
	entry, err := a.cache.ActiveEntry(ctx)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		entry.Duration = entry.DurationAt(a.clock.Now())
	}
	pending, err := a.queue.Count(ctx)
	if err != nil {
		return nil, err
	}
	var idle time.Duration
	if r, ok := a.probe.(idleReporter); ok {
		idle = r.IdleTime()
	}
	return &models.AgentStatus{
		EmployeeID:           a.opts.EmployeeID,
		DeviceID:             a.opts.DeviceID,
		Active:               entry,
		Capturing:            a.scheduler.Running(),
		Degraded:             a.degraded.Load(),
		PendingUploads:       pending,
		ScreenshotIntervalMs: a.scheduler.Interval().Milliseconds(),
		IdleMs:               idle.Milliseconds(),
	}, nil
}

// ApplySettings records the local capture floor. It applies to sessions
// whose capture starts afterwards; a running schedule keeps its interval.
func (a *Agent) ApplySettings(ctx context.Context, minInterval time.Duration) error {
	if minInterval <= 0 {
		return apperr.Validation("screenshot interval must be positive")
	}
	if err := a.cache.SetScreenshotInterval(ctx, minInterval); err != nil {
		return err
	}
	a.logger.Info("Screenshot interval setting updated", zap.Duration("interval", minInterval))
	return nil
}

// Degraded reports whether the agent is capturing without the server
func (a *Agent) Degraded() bool {
	return a.degraded.Load()
}

// Start launches the queue processor and, when an event source is wired,
// the event follower
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.queueProcessor(ctx)

	if a.events != nil {
		a.wg.Add(1)
		go a.followEvents(ctx)
	}
	a.logger.Info("Agent started", zap.String("employee_id", a.opts.EmployeeID))
}

// Stop ends background work and capture. The server session is left
// running so a restart can resume it. Safe to call repeatedly.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.scheduler.Stop()
		a.scheduler.Wait()
		a.logger.Info("Agent stopped")
	})
}

// currentSession reads the cache, then the server. A server hit is
// cached. Callers hold a.mu.
func (a *Agent) currentSession(ctx context.Context) (*models.TimeEntry, error) {
	entry, err := a.cache.ActiveEntry(ctx)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	entry, err = a.server.GetActiveSession(ctx, a.opts.EmployeeID)
	if err != nil || entry == nil {
		return nil, err
	}
	if err := a.cache.SetActiveEntry(ctx, entry); err != nil {
		a.logger.Warn("Failed to cache active session", zap.Error(err))
	}
	return entry, nil
}

// startCapture binds the scheduler to entry. A schedule left over from a
// session the server no longer tracks is replaced. Callers hold a.mu.
func (a *Agent) startCapture(ctx context.Context, entry *models.TimeEntry) error {
	interval := entry.ScreenshotInterval()
	if interval <= 0 {
		if a.scheduler.Running() {
			a.scheduler.Stop()
		}
		return nil
	}

	floor, ok, err := a.cache.ScreenshotInterval(ctx)
	if err != nil {
		a.logger.Warn("Ignoring unreadable interval setting", zap.Error(err))
	} else if ok && floor > interval {
		interval = floor
	}

	if current := a.scheduler.SessionID(); current != "" && current != entry.ID {
		a.logger.Info("Replacing stale capture schedule",
			zap.String("stale_time_entry_id", current),
			zap.String("time_entry_id", entry.ID),
		)
		a.scheduler.Stop()
	}
	if err := a.scheduler.Start(entry.ID, interval); err != nil {
		return apperr.Capture(err)
	}
	return nil
}

// teardown stops capture and forgets the cached session. Callers hold a.mu.
func (a *Agent) teardown(ctx context.Context, sessionID string) {
	if a.scheduler.SessionID() == sessionID {
		a.scheduler.Stop()
	}
	cached, err := a.cache.ActiveEntry(ctx)
	if err != nil {
		a.logger.Warn("Failed to read cached session", zap.Error(err))
		return
	}
	if cached != nil && cached.ID == sessionID {
		if err := a.cache.ClearActiveEntry(ctx); err != nil {
			a.logger.Warn("Failed to clear cached session", zap.Error(err))
		}
	}
}

// remoteStopped handles a session stopped by another client
func (a *Agent) remoteStopped(ctx context.Context, sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, err := a.cache.ActiveEntry(ctx)
	if err != nil {
		a.logger.Warn("Failed to read cached session", zap.Error(err))
		return
	}
	if cached == nil || cached.ID != sessionID {
		if a.scheduler.SessionID() == sessionID {
			a.scheduler.Stop()
		}
		return
	}

	a.logger.Info("Session stopped elsewhere, ending local capture", zap.String("time_entry_id", sessionID))
	a.teardown(ctx, sessionID)
}

// adopt takes over a session started by another client
func (a *Agent) adopt(ctx context.Context, entry *models.TimeEntry) error {
	if err := a.startCapture(ctx, entry); err != nil {
		return err
	}
	if err := a.cache.SetActiveEntry(ctx, entry); err != nil {
		a.logger.Warn("Failed to cache adopted session", zap.Error(err))
	}
	a.logger.Info("Adopted session started elsewhere", zap.String("time_entry_id", entry.ID))
	return nil
}

func (a *Agent) enterDegraded(reason error) {
	if a.degraded.CompareAndSwap(false, true) {
		a.logger.Warn("Server unreachable, capturing in degraded mode", zap.Error(reason))
	}
}
