// Package clock abstracts wall time and tickers so that timer-driven
// components (capture scheduling, queue retries, session durations) can be
// driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package used by the agent and server.
type Clock interface {
	Now() time.Time

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// After delivers the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Ticker wraps a periodic timer. C has capacity 1; slow consumers drop
// ticks rather than queueing them, as with time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
