package agent

import (
	"context"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

// queueProcessor retries queued uploads in the background
func (a *Agent) queueProcessor(ctx context.Context) {
	defer a.wg.Done()

	ticker := a.clock.NewTicker(a.opts.QueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.processQueue(ctx)
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// processQueue leaves degraded mode once the server answers, then drains
// what is due
func (a *Agent) processQueue(ctx context.Context) {
	if a.degraded.Load() {
		if err := a.pinger.HealthCheck(ctx); err != nil {
			a.logger.Debug("Server still unreachable", zap.Error(err))
			return
		}
		a.logger.Info("Server reachable again, leaving degraded mode")
		outcome, err := a.ReconcileOnStartup(ctx)
		if err != nil {
			a.logger.Warn("Reconciliation after reconnect failed", zap.Error(err))
			return
		}
		a.logger.Info("Reconciled after reconnect", zap.String("outcome", outcome.String()))
	}

	a.drainQueue(ctx)

	if _, err := a.queue.CleanupOld(ctx, a.opts.QueueMaxAge, a.opts.QueueMaxRetries); err != nil {
		a.logger.Error("Failed to cleanup old uploads", zap.Error(err))
	}
	if n, err := a.cache.PurgeExpired(ctx); err != nil {
		a.logger.Error("Failed to purge expired cache rows", zap.Error(err))
	} else if n > 0 {
		a.logger.Debug("Purged expired cache rows", zap.Int64("count", n))
	}
}

// drainQueue sends one batch. A transient failure ends the batch; the rest
// waits for the next pass.
func (a *Agent) drainQueue(ctx context.Context) int {
	due, err := a.queue.Due(ctx, a.opts.UploadBatchSize)
	if err != nil {
		a.logger.Error("Failed to read upload queue", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	a.logger.Debug("Processing queued uploads", zap.Int("due", len(due)))

	sent := 0
	for _, p := range due {
		err := a.uploader.UploadScreenshot(ctx, p.Upload)
		switch {
		case err == nil:
			sent++
			if err := a.queue.Remove(ctx, p.RowID); err != nil {
				a.logger.Error("Failed to remove sent upload from queue", zap.Error(err))
			}
		case undeliverable(err):
			a.logger.Error("Dropping undeliverable screenshot",
				zap.String("screenshot_id", p.Upload.ID),
				zap.String("time_entry_id", p.Upload.TimeEntryID),
				zap.Error(err),
			)
			if err := a.queue.Remove(ctx, p.RowID); err != nil {
				a.logger.Error("Failed to remove upload from queue", zap.Error(err))
			}
		default:
			a.logger.Warn("Failed to send queued screenshot",
				zap.String("screenshot_id", p.Upload.ID),
				zap.Int("retry_count", p.RetryCount),
				zap.Error(err),
			)
			if err := a.queue.MarkFailed(ctx, p); err != nil {
				a.logger.Error("Failed to increment retry count", zap.Error(err))
			}
			if apperr.Retryable(err) {
				return sent
			}
		}
	}

	if sent > 0 {
		a.logger.Info("Successfully sent queued screenshots", zap.Int("count", sent))
	}
	return sent
}

// followEvents keeps a subscription to the server's event channel open,
// reconnecting after a delay when it drops
func (a *Agent) followEvents(ctx context.Context) {
	defer a.wg.Done()

	for {
		err := a.events.FollowEvents(ctx, func(ev models.Event) { a.handleEvent(ctx, ev) })
		if ctx.Err() != nil {
			return
		}
		a.logger.Warn("Event channel closed, reconnecting",
			zap.Duration("delay", a.opts.ReconnectDelay),
			zap.Error(err),
		)

		select {
		case <-a.clock.After(a.opts.ReconnectDelay):
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleEvent applies a server event. Events may repeat; applying one
// twice changes nothing.
func (a *Agent) handleEvent(ctx context.Context, ev models.Event) {
	if ev.Entry == nil {
		return
	}
	if a.opts.EmployeeID != "" && ev.Entry.EmployeeID != a.opts.EmployeeID {
		return
	}

	switch ev.Type {
	case models.EventStopped:
		a.remoteStopped(ctx, ev.Entry.ID)
	case models.EventStarted:
		a.remoteStarted(ctx, ev.Entry)
	}
}

// remoteStarted adopts a session started by another client, such as the
// web dashboard. One running agent per employee is assumed; a second agent
// for the same employee would adopt and capture the session too.
func (a *Agent) remoteStarted(ctx context.Context, entry *models.TimeEntry) {
	if !entry.IsActive {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cached, err := a.cache.ActiveEntry(ctx)
	if err != nil {
		a.logger.Warn("Failed to read cached session", zap.Error(err))
		return
	}
	if cached != nil {
		if cached.ID == entry.ID {
			return
		}
		a.teardown(ctx, cached.ID)
	}
	if err := a.adopt(ctx, entry); err != nil {
		a.logger.Error("Failed to adopt session", zap.String("time_entry_id", entry.ID), zap.Error(err))
	}
}
