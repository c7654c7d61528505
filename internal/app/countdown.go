package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"timed-quiz-service/internal/domain"

	"github.com/rs/zerolog"
)

// Tick is one countdown evaluation pushed to subscribers.
type Tick struct {
	RemainingSeconds int    `json:"remainingSeconds"`
	Display          string `json:"display"`
	Submitted        bool   `json:"submitted"`
	AutoSubmitted    bool   `json:"autoSubmitted"`
}

// RemainingSeconds derives the time left from startedAt and duration on
// every call. Nothing is ever decremented: after an arbitrarily long gap
// (page closed, server restart) the value reflects real elapsed wall
// clock, not time the session happened to be watched.
func RemainingSeconds(s domain.Session, now time.Time) int {
	elapsed := int((now.UnixMilli() - s.StartedAt) / 1000)
	return s.DurationSeconds - elapsed
}

// FormatRemaining renders seconds as mm:ss, clamping negatives to 00:00.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Countdown drives the periodic re-evaluation of every live session's
// remaining time, auto-submitting on expiry. At most one runner exists per
// session key no matter how many times Start is called, so re-entering the
// active view never stacks duplicate timers.
type Countdown struct {
	service  *SessionService
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	runners map[string]*runner
}

type runner struct {
	done   chan struct{}
	exited chan struct{}

	mu          sync.Mutex
	finished    bool
	subscribers map[chan Tick]struct{}
}

func NewCountdown(service *SessionService, interval time.Duration, log zerolog.Logger) *Countdown {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Countdown{
		service:  service,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "countdown").Logger(),
		runners:  make(map[string]*runner),
	}
}

// WithClock overrides the runner clock, for deterministic tests.
func (c *Countdown) WithClock(now func() time.Time) *Countdown {
	c.now = now
	return c
}

// Start launches the periodic evaluation for key, unless one is already
// running. The runner stops when the session submits, disappears from the
// store, or ctx is cancelled, and then deregisters itself so a later
// session under the same key gets a fresh runner.
func (c *Countdown) Start(ctx context.Context, key string) {
	c.mu.Lock()
	if _, ok := c.runners[key]; ok {
		c.mu.Unlock()
		return
	}
	r := &runner{
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		subscribers: make(map[chan Tick]struct{}),
	}
	c.runners[key] = r
	c.mu.Unlock()

	go c.run(ctx, key, r)
}

// Stop cancels the runner for key, if any, and waits for it to exit so no
// orphaned tick keeps poking a defunct session after the caller moves on.
func (c *Countdown) Stop(key string) {
	c.mu.Lock()
	r, ok := c.runners[key]
	if ok {
		delete(c.runners, key)
	}
	c.mu.Unlock()
	if ok {
		close(r.done)
		<-r.exited
	}
}

// Subscribe returns a channel receiving ticks for key, starting the runner
// if needed. The caller must invoke the returned cancel function.
func (c *Countdown) Subscribe(ctx context.Context, key string) (<-chan Tick, func()) {
	c.Start(ctx, key)

	c.mu.Lock()
	r := c.runners[key]
	c.mu.Unlock()

	ch := make(chan Tick, 8)
	if r == nil {
		// Runner finished between Start and lookup; hand back a closed channel.
		close(ch)
		return ch, func() {}
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (c *Countdown) run(ctx context.Context, key string, r *runner) {
	defer close(r.exited)
	defer c.remove(key, r)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		// Cancellation beats a simultaneously ready tick.
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}
		if stop := c.evaluate(ctx, key, r); stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
		}
	}
}

// evaluate performs one countdown check and reports whether the runner
// should stop.
func (c *Countdown) evaluate(ctx context.Context, key string, r *runner) bool {
	session, ok, err := c.service.Recover(ctx, key)
	if err != nil {
		c.log.Error().Err(err).Msg("load session")
		return false
	}
	if !ok {
		return true
	}
	if session.Status == domain.StatusSubmitted {
		r.broadcast(Tick{Submitted: true, AutoSubmitted: session.AutoSubmitted, Display: FormatRemaining(0)})
		return true
	}

	remaining := RemainingSeconds(session, c.now())
	r.broadcast(Tick{RemainingSeconds: remaining, Display: FormatRemaining(remaining)})

	if remaining > 0 {
		return false
	}
	// Expired. Submit is idempotent, so late ticks racing a manual submit
	// resolve to exactly one recorded submission.
	submitted, err := c.service.Submit(ctx, key, false)
	if err != nil {
		c.log.Error().Err(err).Msg("auto submit")
		return true
	}
	r.broadcast(Tick{Submitted: true, AutoSubmitted: submitted.AutoSubmitted, Display: FormatRemaining(0)})
	return true
}

func (c *Countdown) remove(key string, r *runner) {
	c.mu.Lock()
	if current, ok := c.runners[key]; ok && current == r {
		delete(c.runners, key)
	}
	c.mu.Unlock()

	r.mu.Lock()
	r.finished = true
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	r.mu.Unlock()
}

func (r *runner) broadcast(t Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subscribers {
		select {
		case ch <- t:
		default:
			// Drop the oldest tick so a slow reader never blocks the loop.
			select {
			case <-ch:
			default:
			}
			ch <- t
		}
	}
}
