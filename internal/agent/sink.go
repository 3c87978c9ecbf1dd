package agent

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/capture"
	"Mansoor88-6/time-tracking/internal/models"
)

// uploadSink is the scheduler's view of the agent
type uploadSink struct {
	agent *Agent
}

// IsActive asks the server on every tick. Without a server the cached
// session is the answer.
func (s *uploadSink) IsActive(ctx context.Context, sessionID string) (bool, error) {
	a := s.agent

	if !a.degraded.Load() {
		remote, err := a.server.GetActiveSession(ctx, a.opts.EmployeeID)
		if err == nil {
			active := remote != nil && remote.ID == sessionID
			if !active {
				a.remoteStopped(ctx, sessionID)
			}
			return active, nil
		}
		if !apperr.Retryable(err) {
			return false, err
		}
		a.enterDegraded(err)
	}

	cached, err := a.cache.ActiveEntry(ctx)
	if err != nil {
		return false, err
	}
	return cached != nil && cached.ID == sessionID, nil
}

// Persist uploads the artifact, or queues it when the server cannot take
// it right now. A queued artifact counts as persisted.
func (s *uploadSink) Persist(ctx context.Context, sessionID string, artifact *capture.Artifact) (string, error) {
	a := s.agent

	up := models.ScreenshotUpload{
		ID:            uuid.NewString(),
		TimeEntryID:   sessionID,
		MimeType:      artifact.MimeType,
		Width:         artifact.Width,
		Height:        artifact.Height,
		TakenAt:       artifact.TakenAt,
		HasPermission: artifact.HasPermission,
		Data:          artifact.Data,
	}
	if cached, err := a.cache.ActiveEntry(ctx); err == nil && cached != nil && cached.ID == sessionID {
		up.ProjectID = cached.ProjectID
		up.TaskID = cached.TaskID
	}

	if a.degraded.Load() {
		return s.enqueue(ctx, up)
	}

	err := a.uploader.UploadScreenshot(ctx, up)
	if err == nil {
		return up.ID, nil
	}
	if undeliverable(err) {
		return "", err
	}

	a.logger.Warn("Screenshot upload failed, queueing",
		zap.String("screenshot_id", up.ID),
		zap.String("time_entry_id", sessionID),
		zap.Error(err),
	)
	return s.enqueue(ctx, up)
}

func (s *uploadSink) enqueue(ctx context.Context, up models.ScreenshotUpload) (string, error) {
	if err := s.agent.queue.Enqueue(ctx, up); err != nil {
		return "", err
	}
	return up.ID, nil
}

// undeliverable reports errors that no retry can fix
func undeliverable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindForbidden, apperr.KindConflict:
		_, kinded := apperr.As(err)
		return kinded
	default:
		return false
	}
}
