package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/clock"
)

// ErrSchedulerBusy is returned by Start while another session is being
// captured
var ErrSchedulerBusy = errors.New("capture scheduler is bound to another session")

// Capturer produces one screenshot artifact
type Capturer interface {
	Capture(ctx context.Context) (*Artifact, error)
}

// Sink is where the scheduler checks session liveness and hands artifacts
type Sink interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
	Persist(ctx context.Context, sessionID string, artifact *Artifact) (string, error)
}

type SchedulerOptions struct {
	MinInterval    time.Duration
	CaptureTimeout time.Duration
}

// Scheduler fires a capture every interval for the one session it is bound
// to. Captures run on their own goroutines so a slow capture never delays
// the next tick, and their failures are logged, never propagated.
type Scheduler struct {
	capturer Capturer
	sink     Sink
	clock    clock.Clock
	opts     SchedulerOptions
	logger   *zap.Logger

	mu        sync.Mutex
	running   bool
	sessionID string
	interval  time.Duration
	ticker    *clock.Ticker
	stopChan  chan struct{}

	loopWg   sync.WaitGroup
	inflight sync.WaitGroup
}

func NewScheduler(capturer Capturer, sink Sink, clk clock.Clock, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Minute
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 30 * time.Second
	}
	return &Scheduler{
		capturer: capturer,
		sink:     sink,
		clock:    clk,
		opts:     opts,
		logger:   logger,
	}
}

// Start binds the scheduler to sessionID. The interval is read once here;
// values below the minimum are raised to it. Starting the session already
// bound is a no-op.
func (s *Scheduler) Start(sessionID string, interval time.Duration) error {
	if sessionID == "" {
		return apperr.Validation("session id is required")
	}
	if interval <= 0 {
		return apperr.Validation("capture interval must be positive")
	}
	if interval < s.opts.MinInterval {
		interval = s.opts.MinInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		if s.sessionID == sessionID {
			return nil
		}
		s.logger.Warn("Refusing to start capture for a second session",
			zap.String("running_session_id", s.sessionID),
			zap.String("requested_session_id", sessionID),
		)
		return ErrSchedulerBusy
	}

	s.running = true
	s.sessionID = sessionID
	s.interval = interval
	s.ticker = s.clock.NewTicker(interval)
	s.stopChan = make(chan struct{})

	s.loopWg.Add(1)
	go s.loop(sessionID, s.ticker, s.stopChan)

	s.logger.Info("Screenshot capture started",
		zap.String("time_entry_id", sessionID),
		zap.Duration("interval", interval),
	)
	return nil
}

// Stop unbinds the scheduler. Once Stop returns no new capture begins;
// captures already in flight may still finish. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	sessionID := s.sessionID
	s.sessionID = ""
	s.interval = 0
	s.ticker.Stop()
	close(s.stopChan)
	s.mu.Unlock()

	s.loopWg.Wait()

	s.logger.Info("Screenshot capture stopped", zap.String("time_entry_id", sessionID))
}

// Wait blocks until in-flight captures finish. Call it after Stop.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// SessionID returns the bound session, empty when idle
func (s *Scheduler) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(sessionID string, ticker *clock.Ticker, stop <-chan struct{}) {
	defer s.loopWg.Done()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.running || s.sessionID != sessionID {
				s.mu.Unlock()
				return
			}
			s.inflight.Add(1)
			s.mu.Unlock()

			go s.captureOnce(sessionID)
		}
	}
}

func (s *Scheduler) captureOnce(sessionID string) {
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CaptureTimeout)
	defer cancel()

	active, err := s.sink.IsActive(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Skipping capture, session state unknown",
			zap.String("time_entry_id", sessionID),
			zap.Error(err),
		)
		return
	}
	if !active {
		s.logger.Info("Skipping capture for inactive session", zap.String("time_entry_id", sessionID))
		return
	}

	artifact, err := s.capturer.Capture(ctx)
	if err != nil {
		s.logger.Error("Screenshot capture failed",
			zap.String("time_entry_id", sessionID),
			zap.Error(err),
		)
		return
	}

	screenshotID, err := s.sink.Persist(ctx, sessionID, artifact)
	if err != nil {
		s.logger.Error("Failed to persist screenshot",
			zap.String("time_entry_id", sessionID),
			zap.Error(err),
		)
		return
	}

	s.logger.Debug("Screenshot captured",
		zap.String("time_entry_id", sessionID),
		zap.String("screenshot_id", screenshotID),
		zap.Int64("size", artifact.Size),
	)
}
