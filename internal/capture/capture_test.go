package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/clock"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type imageGrabber struct {
	img image.Image
	err error
}

func (g imageGrabber) Grab(context.Context) (image.Image, error) { return g.img, g.err }

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 90, A: 255})
		}
	}
	return img
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{"already fits", 1280, 720, 1280, 720},
		{"exact bound", 1920, 1080, 1920, 1080},
		{"4k", 3840, 2160, 1920, 1080},
		{"ultrawide", 5120, 1440, 1920, 540},
		{"portrait", 1080, 2160, 540, 1080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := fitWithin(tt.w, tt.h, 1920, 1080)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestCaptureDownscalesAndEncodesJPEG(t *testing.T) {
	clk := clock.Fake(epoch)
	c := NewScreenCapturer(imageGrabber{img: solid(3840, 2160)}, CapturerOptions{MaxWidth: 1920, MaxHeight: 1080, Quality: 60}, clk, zap.NewNop())

	a, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MimeJPEG, a.MimeType)
	assert.Equal(t, 1920, a.Width)
	assert.Equal(t, 1080, a.Height)
	assert.Equal(t, int64(len(a.Data)), a.Size)
	assert.Equal(t, epoch, a.TakenAt)
	assert.True(t, a.HasPermission)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(a.Data))
	require.NoError(t, err)
	assert.Equal(t, 1920, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
}

func TestCaptureNeverUpscales(t *testing.T) {
	c := NewScreenCapturer(imageGrabber{img: solid(800, 600)}, CapturerOptions{}, clock.Fake(epoch), zap.NewNop())

	a, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 800, a.Width)
	assert.Equal(t, 600, a.Height)
}

func TestCaptureFailureIsCaptureError(t *testing.T) {
	c := NewScreenCapturer(imageGrabber{err: errors.New("permission denied")}, CapturerOptions{}, clock.Fake(epoch), zap.NewNop())

	_, err := c.Capture(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindCapture))

	c = NewScreenCapturer(imageGrabber{img: image.NewRGBA(image.Rect(0, 0, 0, 0))}, CapturerOptions{}, clock.Fake(epoch), zap.NewNop())
	_, err = c.Capture(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindCapture))
}

func TestExpandCommand(t *testing.T) {
	assert.Equal(t, []string{"grim", "/tmp/x.png"}, expandCommand([]string{"grim", filePlaceholder}, "/tmp/x.png"))
	assert.Equal(t, []string{"shot", "-o", "/tmp/x.png"}, expandCommand([]string{"shot", "-o"}, "/tmp/x.png"))
	assert.Equal(t, []string{"sh", "-c", "save '/tmp/x.png'"}, expandCommand([]string{"sh", "-c", "save '{file}'"}, "/tmp/x.png"))
}

func TestCommandGrabberConfiguredCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on cp")
	}

	src := filepath.Join(t.TempDir(), "fixture.png")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solid(64, 32)))
	require.NoError(t, f.Close())

	g := NewCommandGrabber([]string{"cp", src, filePlaceholder}, zap.NewNop())
	img, err := g.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

func TestCommandGrabberMissingTool(t *testing.T) {
	g := NewCommandGrabber([]string{"definitely-not-a-screenshot-tool"}, zap.NewNop())
	_, err := g.Grab(context.Background())
	assert.Error(t, err)
}

// --- scheduler ---

type countingCapturer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingCapturer) Capture(context.Context) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &Artifact{Data: []byte{1}, MimeType: MimeJPEG, Size: 1}, nil
}

func (c *countingCapturer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordingSink struct {
	mu        sync.Mutex
	inactive  map[string]bool
	activeErr error
	persisted []string
}

func (s *recordingSink) IsActive(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeErr != nil {
		return false, s.activeErr
	}
	return !s.inactive[id], nil
}

func (s *recordingSink) Persist(_ context.Context, id string, _ *Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, id)
	return "shot", nil
}

func (s *recordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.persisted)
}

func newTestScheduler(clk *clock.FakeClock, capturer Capturer, sink Sink) *Scheduler {
	return NewScheduler(capturer, sink, clk, SchedulerOptions{MinInterval: time.Minute, CaptureTimeout: time.Second}, zap.NewNop())
}

func waitCount(t *testing.T, sink *recordingSink, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return sink.Count() == n }, 2*time.Second, 2*time.Millisecond)
}

func TestSchedulerScenario(t *testing.T) {
	clk := clock.Fake(epoch)
	sink := &recordingSink{}
	s := newTestScheduler(clk, &countingCapturer{}, sink)

	require.NoError(t, s.Start("te1", 60*time.Second))
	clk.WaitForTimers(1)

	clk.Advance(60 * time.Second)
	waitCount(t, sink, 1)

	clk.Advance(60 * time.Second)
	waitCount(t, sink, 2)

	clk.Advance(5 * time.Second) // t = 125s
	s.Stop()
	s.Wait()
	assert.Empty(t, s.SessionID())
	assert.False(t, s.Running())

	clk.Advance(115 * time.Second) // t = 240s
	time.Sleep(20 * time.Millisecond)
	s.Wait()
	assert.Equal(t, 2, sink.Count())
	assert.Equal(t, []string{"te1", "te1"}, sink.persisted)
}

// runLoop drives one loop with a tick already waiting on the channel
func runLoop(t *testing.T, s *Scheduler, sessionID string, stop chan struct{}) {
	t.Helper()
	ticks := make(chan time.Time, 1)
	ticks <- epoch

	s.loopWg.Add(1)
	done := make(chan struct{})
	go func() {
		s.loop(sessionID, &clock.Ticker{C: ticks}, stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop kept running after stop")
	}
}

func TestSchedulerDropsTickPendingAtStop(t *testing.T) {
	clk := clock.Fake(epoch)
	capturer := &countingCapturer{}
	sink := &recordingSink{}
	s := newTestScheduler(clk, capturer, sink)

	require.NoError(t, s.Start("te1", time.Minute))
	clk.WaitForTimers(1)
	s.Stop()

	for i := 0; i < 20; i++ {
		stop := make(chan struct{})
		if i%2 == 0 {
			close(stop)
		}
		runLoop(t, s, "te1", stop)
	}

	// a late tick of the old schedule must not capture for it once the
	// scheduler is bound to another session
	require.NoError(t, s.Start("te2", time.Minute))
	runLoop(t, s, "te1", make(chan struct{}))
	s.Stop()

	s.Wait()
	assert.Zero(t, capturer.Calls())
	assert.Zero(t, sink.Count())
}

func TestSchedulerStartRules(t *testing.T) {
	clk := clock.Fake(epoch)
	s := newTestScheduler(clk, &countingCapturer{}, &recordingSink{})
	defer s.Stop()

	assert.True(t, apperr.IsKind(s.Start("", time.Minute), apperr.KindValidation))
	assert.True(t, apperr.IsKind(s.Start("te1", 0), apperr.KindValidation))

	require.NoError(t, s.Start("te1", 10*time.Second))
	assert.Equal(t, time.Minute, s.Interval(), "interval is floored at the minimum")

	assert.NoError(t, s.Start("te1", 5*time.Minute), "same session is a no-op")
	assert.Equal(t, time.Minute, s.Interval())

	assert.ErrorIs(t, s.Start("te2", time.Minute), ErrSchedulerBusy)
	assert.Equal(t, "te1", s.SessionID())
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	clk := clock.Fake(epoch)
	sink := &recordingSink{}
	s := newTestScheduler(clk, &countingCapturer{}, sink)

	require.NoError(t, s.Start("te1", time.Minute))
	s.Stop()
	s.Stop()

	require.NoError(t, s.Start("te2", time.Minute))
	defer s.Stop()
	clk.WaitForTimers(1)

	clk.Advance(time.Minute)
	waitCount(t, sink, 1)
	assert.Equal(t, []string{"te2"}, sink.persisted)
}

func TestSchedulerSkipsInactiveSession(t *testing.T) {
	clk := clock.Fake(epoch)
	capturer := &countingCapturer{}
	sink := &recordingSink{inactive: map[string]bool{"te1": true}}
	s := newTestScheduler(clk, capturer, sink)
	defer s.Stop()

	require.NoError(t, s.Start("te1", time.Minute))
	clk.WaitForTimers(1)
	clk.Advance(time.Minute)

	s.Stop()
	s.Wait()
	assert.Zero(t, capturer.Calls())
	assert.Zero(t, sink.Count())
}

func TestSchedulerSwallowsCaptureErrors(t *testing.T) {
	clk := clock.Fake(epoch)
	capturer := &countingCapturer{err: apperr.Capture(errors.New("no display"))}
	sink := &recordingSink{}
	s := newTestScheduler(clk, capturer, sink)
	defer s.Stop()

	require.NoError(t, s.Start("te1", time.Minute))
	clk.WaitForTimers(1)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return capturer.Calls() == 1 }, 2*time.Second, 2*time.Millisecond)
	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return capturer.Calls() == 2 }, 2*time.Second, 2*time.Millisecond)

	assert.True(t, s.Running(), "capture failures never stop the schedule")
	assert.Zero(t, sink.Count())
}
