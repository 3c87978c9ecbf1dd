package agent

import (
	"context"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
)

// ReconcileOutcome is what ReconcileOnStartup did
type ReconcileOutcome int

const (
	// ReconcileIdle: nothing cached and nothing active on the server
	ReconcileIdle ReconcileOutcome = iota
	// ReconcileResumed: the cached session is still active; capture resumed
	ReconcileResumed
	// ReconcileCleared: the cached session was stopped elsewhere
	ReconcileCleared
	// ReconcileResumedDegraded: server unreachable; capture resumed from
	// the cache without network calls
	ReconcileResumedDegraded
	// ReconcileAdopted: a session started by another client was taken over
	ReconcileAdopted
)

func (o ReconcileOutcome) String() string {
	switch o {
	case ReconcileResumed:
		return "resumed"
	case ReconcileCleared:
		return "cleared"
	case ReconcileResumedDegraded:
		return "resumed_degraded"
	case ReconcileAdopted:
		return "adopted"
	default:
		return "idle"
	}
}

// ReconcileOnStartup brings local state in line with the server. The cache
// is read before any network call; it never creates a session.
func (a *Agent) ReconcileOnStartup(ctx context.Context) (ReconcileOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cached, err := a.cache.ActiveEntry(ctx)
	if err != nil {
		return ReconcileIdle, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	remote, err := a.server.GetActiveSession(callCtx, a.opts.EmployeeID)
	cancel()

	if err != nil {
		if cached != nil && apperr.Retryable(err) {
			if startErr := a.startCapture(ctx, cached); startErr != nil {
				return ReconcileIdle, startErr
			}
			a.enterDegraded(err)
			a.logger.Info("Resumed cached session without server",
				zap.String("time_entry_id", cached.ID),
			)
			return ReconcileResumedDegraded, nil
		}
		return ReconcileIdle, err
	}
	a.degraded.Store(false)

	if cached != nil {
		if remote != nil && remote.ID == cached.ID {
			if err := a.startCapture(ctx, remote); err != nil {
				return ReconcileIdle, err
			}
			if err := a.cache.SetActiveEntry(ctx, remote); err != nil {
				a.logger.Warn("Failed to refresh cached session", zap.Error(err))
			}
			a.logger.Info("Resumed session", zap.String("time_entry_id", remote.ID))
			return ReconcileResumed, nil
		}

		a.logger.Info("Cached session no longer active, clearing",
			zap.String("time_entry_id", cached.ID),
		)
		a.teardown(ctx, cached.ID)
		if remote == nil {
			return ReconcileCleared, nil
		}
	}

	if remote == nil {
		if a.scheduler.Running() {
			a.scheduler.Stop()
		}
		return ReconcileIdle, nil
	}
	if err := a.adopt(ctx, remote); err != nil {
		return ReconcileIdle, err
	}
	return ReconcileAdopted, nil
}
