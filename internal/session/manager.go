// Package session is the server-side owner of the TimeEntry lifecycle: it
// validates and persists start/stop transitions, keeps the one active
// session per employee rule, and drives an attached capture controller.
package session

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/cache"
	"Mansoor88-6/time-tracking/internal/clock"
	"Mansoor88-6/time-tracking/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store is the durable session store
type Store interface {
	Insert(ctx context.Context, entry *models.TimeEntry) error
	FindActiveByEmployee(ctx context.Context, employeeID string) ([]*models.TimeEntry, error)
	FindByID(ctx context.Context, id string) (*models.TimeEntry, error)
	Finalize(ctx context.Context, id, employeeID string, endTime time.Time, description *string) (*models.TimeEntry, error)
	AppendScreenshot(ctx context.Context, timeEntryID, screenshotID string, at time.Time) error
	UpdateDescription(ctx context.Context, id, employeeID string, description *string, at time.Time) (*models.TimeEntry, error)
	ListByEmployee(ctx context.Context, employeeID string, limit, offset int) ([]*models.TimeEntry, error)
}

// Directory resolves projects, tasks and memberships
type Directory interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	IsProjectMember(ctx context.Context, projectID, employeeID string) (bool, error)
	IsTaskMember(ctx context.Context, taskID, employeeID string) (bool, error)
}

// CaptureController is a capture schedule the manager starts and stops in
// step with the session it belongs to
type CaptureController interface {
	Start(sessionID string, interval time.Duration) error
	Stop()
	SessionID() string
}

type Publisher interface {
	Publish(employeeID string, ev models.Event)
}

type DeviceProbe interface {
	Probe(ctx context.Context) models.DeviceInfo
}

type Options struct {
	DefaultInterval  time.Duration
	MinInterval      time.Duration
	OperationTimeout time.Duration
	ActiveCacheTTL   time.Duration
}

// Deps are the manager's collaborators. Capture, Publisher and Probe are
// optional.
type Deps struct {
	Store     Store
	Directory Directory
	Capture   CaptureController
	Publisher Publisher
	Probe     DeviceProbe
	Clock     clock.Clock
}

type Manager struct {
	store     Store
	directory Directory
	capture   CaptureController
	publisher Publisher
	probe     DeviceProbe
	clock     clock.Clock
	opts      Options
	logger    *zap.Logger

	locks  *employeeLocks
	active *cache.Memory[*models.TimeEntry] // by employee id
}

func NewManager(deps Deps, opts Options, logger *zap.Logger) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Minute
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = 5 * time.Minute
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 5 * time.Second
	}
	if opts.ActiveCacheTTL <= 0 {
		opts.ActiveCacheTTL = 30 * time.Second
	}

	return &Manager{
		store:     deps.Store,
		directory: deps.Directory,
		capture:   deps.Capture,
		publisher: deps.Publisher,
		probe:     deps.Probe,
		clock:     deps.Clock,
		opts:      opts,
		logger:    logger,
		locks:     newEmployeeLocks(),
		active:    cache.NewMemory[*models.TimeEntry](opts.ActiveCacheTTL, opts.ActiveCacheTTL, deps.Clock, logger),
	}
}

// Close stops the cache sweeper
func (m *Manager) Close() {
	m.active.Stop()
}

// StartSession opens a new active session. It either fully succeeds (row
// persisted, capture running when enabled) or leaves nothing behind.
func (m *Manager) StartSession(ctx context.Context, req models.StartRequest) (*models.TimeEntry, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	release, err := m.locks.acquire(ctx, req.EmployeeID)
	if err != nil {
		return nil, apperr.TransientIO("acquire employee lock", err)
	}
	defer release()

	existing, err := m.store.FindActiveByEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, m.storeError("find active session", err)
	}
	switch len(existing) {
	case 0:
	case 1:
		m.logger.Info("Start rejected, session already active",
			zap.String("employee_id", req.EmployeeID),
			zap.String("time_entry_id", existing[0].ID),
		)
		return nil, apperr.AlreadyTracking(req.EmployeeID)
	default:
		return nil, m.consistencyError(req.EmployeeID, len(existing))
	}

	project, err := m.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	interval := m.intervalFor(project)
	now := models.TruncateMillis(m.clock.Now())
	entry := &models.TimeEntry{
		ID:                   uuid.NewString(),
		EmployeeID:           req.EmployeeID,
		ProjectID:            req.ProjectID,
		TaskID:               req.TaskID,
		Description:          req.Description,
		StartTime:            now,
		IsActive:             true,
		Screenshots:          []string{},
		DeviceInfo:           m.deviceInfo(ctx, req.DeviceInfo),
		ScreenshotIntervalMs: interval.Milliseconds(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	captureStarted := false
	if m.capture != nil && interval > 0 {
		if err := m.capture.Start(entry.ID, interval); err != nil {
			m.logger.Error("Failed to start screenshot capture",
				zap.String("employee_id", req.EmployeeID),
				zap.Error(err),
			)
			return nil, apperr.Wrap(err, apperr.KindCapture, "CAPTURE_START_FAILED", "failed to start screenshot capture")
		}
		captureStarted = true
	}

	if err := m.store.Insert(ctx, entry); err != nil {
		if captureStarted {
			m.capture.Stop()
		}
		if apperr.IsKind(err, apperr.KindConflict) {
			m.logger.Info("Start lost race to a concurrent start", zap.String("employee_id", req.EmployeeID))
			return nil, err
		}
		return nil, m.storeError("insert time entry", err)
	}

	m.active.Set(req.EmployeeID, entry.Clone())
	m.publish(req.EmployeeID, models.EventStarted, entry)

	m.logger.Info("Session started",
		zap.String("employee_id", req.EmployeeID),
		zap.String("time_entry_id", entry.ID),
		zap.String("project_id", entry.ProjectID),
		zap.String("task_id", entry.TaskID),
		zap.Int64("screenshot_interval_ms", entry.ScreenshotIntervalMs),
	)
	return entry, nil
}

// StopSession finalizes an active session. Stopping an entry that is not
// active, or not the caller's, is NotFound and changes nothing.
func (m *Manager) StopSession(ctx context.Context, req models.StopRequest) (*models.TimeEntry, error) {
	if req.EmployeeID == "" {
		return nil, apperr.Validation("employee id is required")
	}
	if req.TimeEntryID == "" {
		return nil, apperr.Validation("timeEntryId is required")
	}
	if err := validateDescription(req.Description); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	release, err := m.locks.acquire(ctx, req.EmployeeID)
	if err != nil {
		return nil, apperr.TransientIO("acquire employee lock", err)
	}
	defer release()

	end := models.TruncateMillis(m.clock.Now())
	entry, err := m.store.Finalize(ctx, req.TimeEntryID, req.EmployeeID, end, req.Description)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			m.logger.Info("Stop rejected, no such active session",
				zap.String("employee_id", req.EmployeeID),
				zap.String("time_entry_id", req.TimeEntryID),
			)
			return nil, err
		}
		return nil, m.storeError("finalize time entry", err)
	}

	if m.capture != nil && m.capture.SessionID() == entry.ID {
		m.capture.Stop()
	}
	m.active.Delete(req.EmployeeID)
	m.publish(req.EmployeeID, models.EventStopped, entry)

	m.logger.Info("Session stopped",
		zap.String("employee_id", req.EmployeeID),
		zap.String("time_entry_id", entry.ID),
		zap.Int64("duration_ms", entry.Duration),
	)
	return entry, nil
}

// GetActiveSession returns the employee's active session, or nil when
// there is none. Duration is computed as of now.
func (m *Manager) GetActiveSession(ctx context.Context, employeeID string) (*models.TimeEntry, error) {
	if employeeID == "" {
		return nil, apperr.Validation("employee id is required")
	}

	if cached, ok := m.active.Get(employeeID); ok {
		return m.present(cached), nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	// the fill must not interleave with a stop, or a finalized entry would
	// be cached as active
	release, err := m.locks.acquire(ctx, employeeID)
	if err != nil {
		return nil, apperr.TransientIO("acquire employee lock", err)
	}
	defer release()

	entries, err := m.store.FindActiveByEmployee(ctx, employeeID)
	if err != nil {
		return nil, m.storeError("find active session", err)
	}
	switch len(entries) {
	case 0:
		return nil, nil
	case 1:
		m.active.Set(employeeID, entries[0].Clone())
		return m.present(entries[0]), nil
	default:
		return nil, m.consistencyError(employeeID, len(entries))
	}
}

// GetSession returns one of the employee's sessions. Other employees'
// sessions are reported as not found.
func (m *Manager) GetSession(ctx context.Context, employeeID, id string) (*models.TimeEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	entry, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, m.storeError("get time entry", err)
	}
	if entry.EmployeeID != employeeID {
		return nil, apperr.NotFound("time entry", id)
	}
	return m.present(entry), nil
}

func (m *Manager) ListSessions(ctx context.Context, employeeID string, limit, offset int) ([]*models.TimeEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	entries, err := m.store.ListByEmployee(ctx, employeeID, limit, offset)
	if err != nil {
		return nil, m.storeError("list time entries", err)
	}
	for i, e := range entries {
		entries[i] = m.present(e)
	}
	return entries, nil
}

// UpdateDescription edits the description of an active or stopped session
func (m *Manager) UpdateDescription(ctx context.Context, employeeID, id string, description *string) (*models.TimeEntry, error) {
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	release, err := m.locks.acquire(ctx, employeeID)
	if err != nil {
		return nil, apperr.TransientIO("acquire employee lock", err)
	}
	defer release()

	entry, err := m.store.UpdateDescription(ctx, id, employeeID, description, m.clock.Now())
	if err != nil {
		return nil, m.storeError("update description", err)
	}
	if entry.IsActive {
		m.active.Set(employeeID, entry.Clone())
	}
	return m.present(entry), nil
}

// IsActive reports whether sessionID is still active. Unknown ids are
// simply not active.
func (m *Manager) IsActive(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	entry, err := m.store.FindByID(ctx, sessionID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, m.storeError("get time entry", err)
	}
	return entry.IsActive, nil
}

// AppendScreenshot records screenshotID against the session. Late appends
// to stopped sessions are accepted.
func (m *Manager) AppendScreenshot(ctx context.Context, sessionID, screenshotID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	entry, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return m.storeError("get time entry", err)
	}

	release, err := m.locks.acquire(ctx, entry.EmployeeID)
	if err != nil {
		return apperr.TransientIO("acquire employee lock", err)
	}
	defer release()

	if err := m.store.AppendScreenshot(ctx, sessionID, screenshotID, m.clock.Now()); err != nil {
		return m.storeError("append screenshot", err)
	}

	// the cached copy's screenshot list is now stale
	m.active.Delete(entry.EmployeeID)
	return nil
}

func (m *Manager) authorize(ctx context.Context, req models.StartRequest) (*models.Project, error) {
	project, err := m.directory.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, m.storeError("get project", err)
	}
	member, err := m.directory.IsProjectMember(ctx, project.ID, req.EmployeeID)
	if err != nil {
		return nil, m.storeError("check project membership", err)
	}
	if !member {
		return nil, apperr.Forbidden("not a member of this project").With("project_id", project.ID)
	}

	task, err := m.directory.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, m.storeError("get task", err)
	}
	if task.ProjectID != project.ID {
		return nil, apperr.NotFound("task", req.TaskID).With("project_id", project.ID)
	}
	member, err = m.directory.IsTaskMember(ctx, task.ID, req.EmployeeID)
	if err != nil {
		return nil, m.storeError("check task membership", err)
	}
	if !member {
		return nil, apperr.Forbidden("not a member of this task").With("task_id", task.ID)
	}
	return project, nil
}

// intervalFor returns zero when capture is disabled for the project
func (m *Manager) intervalFor(project *models.Project) time.Duration {
	if !project.ScreenshotsEnabled {
		return 0
	}
	interval := time.Duration(project.ScreenshotIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = m.opts.DefaultInterval
	}
	if interval < m.opts.MinInterval {
		interval = m.opts.MinInterval
	}
	return interval
}

func (m *Manager) deviceInfo(ctx context.Context, supplied *models.DeviceInfo) models.DeviceInfo {
	var info models.DeviceInfo
	if supplied != nil {
		info = *supplied
	}
	if m.probe != nil {
		info = info.Merge(m.probe.Probe(ctx))
	}
	return info.WithDefaults()
}

func (m *Manager) present(e *models.TimeEntry) *models.TimeEntry {
	c := e.Clone()
	c.Duration = c.DurationAt(m.clock.Now())
	return c
}

func (m *Manager) publish(employeeID string, t models.EventType, entry *models.TimeEntry) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(employeeID, models.Event{Type: t, Entry: entry.Clone()})
}

// storeError keeps kinded errors and classifies everything else (I/O
// failures, deadlines) as transient
func (m *Manager) storeError(operation string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	m.logger.Error("Session store operation failed",
		zap.String("operation", operation),
		zap.Error(err),
	)
	return apperr.TransientIO(operation, err)
}

func (m *Manager) consistencyError(employeeID string, n int) error {
	m.logger.Error("Multiple active sessions found",
		zap.String("employee_id", employeeID),
		zap.Int("count", n),
	)
	return apperr.Consistency(fmt.Sprintf("employee %s has %d active sessions", employeeID, n)).
		With("employee_id", employeeID)
}

func validateStart(req models.StartRequest) error {
	if req.EmployeeID == "" {
		return apperr.Validation("employee id is required")
	}
	if req.ProjectID == "" {
		return apperr.Validation("projectId is required")
	}
	if req.TaskID == "" {
		return apperr.Validation("taskId is required")
	}
	return validateDescription(req.Description)
}

func validateDescription(description *string) error {
	if description != nil && utf8.RuneCountInString(*description) > models.MaxDescriptionLength {
		return apperr.Validation(fmt.Sprintf("description must be at most %d characters", models.MaxDescriptionLength))
	}
	return nil
}
