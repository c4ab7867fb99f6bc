// Package loop is a small cooperative event loop with one-shot timers.
//
// Everything scheduled on a [Loop] runs on the goroutine calling [Loop.Run]
// (or the test calling [Loop.RunPending] / [Loop.RunExpired]). Other goroutines
// hand work over with [Loop.Post]. Timers do not hold a reference to their
// owner: the loop keeps a table of [TimerID] to [Handler] and a released
// timer is simply absent from it.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrReleased = errors.New("timer has been released")

// Time source used by the loop, can be replaced for testing
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider uses the system clock
type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time { return time.Now() }

// Opaque timer identifier
type TimerID uint64

// Handler is called by the loop when a timer expires
type Handler interface {
	OnTimer(id TimerID)
}

// HandlerFunc adapts a function to [Handler]
type HandlerFunc func(id TimerID)

func (f HandlerFunc) OnTimer(id TimerID) { f(id) }

type timerEntry struct {
	handler  Handler
	duration time.Duration
	deadline time.Time
	armed    bool
}

type Loop struct {
	mu      sync.Mutex
	logger  *log.Entry
	clock   TimeProvider
	nextID  TimerID
	timers  map[TimerID]*timerEntry
	pending []func()
	wake    chan struct{}
}

func New(logger *log.Logger, clock TimeProvider) *Loop {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if clock == nil {
		clock = RealTimeProvider{}
	}
	return &Loop{
		logger: logger.WithField("service", "[LOOP]"),
		clock:  clock,
		timers: make(map[TimerID]*timerEntry),
		wake:   make(chan struct{}, 1),
	}
}

// Current loop time
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post queues fn for execution on the loop goroutine.
// It never blocks and may be called from any goroutine.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RunPending executes every posted function, including the ones
// posted while running, and returns how many were executed.
func (l *Loop) RunPending() int {
	count := 0
	for {
		l.mu.Lock()
		pending := l.pending
		l.pending = nil
		l.mu.Unlock()
		if len(pending) == 0 {
			return count
		}
		for _, fn := range pending {
			fn()
			count++
		}
	}
}

// RunExpired fires every armed timer whose deadline has been reached.
// A timer is disarmed before its handler is called, so the handler may re-arm it.
func (l *Loop) RunExpired() int {
	now := l.clock.Now()
	l.mu.Lock()
	var due []TimerID
	for id, entry := range l.timers {
		if entry.armed && !now.Before(entry.deadline) {
			entry.armed = false
			due = append(due, id)
		}
	}
	l.mu.Unlock()

	fired := 0
	for _, id := range due {
		// Resolve again, an earlier handler may have released this timer
		l.mu.Lock()
		entry, ok := l.timers[id]
		l.mu.Unlock()
		if !ok || entry.handler == nil {
			l.logger.Debugf("dropping expiry of released timer %v", id)
			continue
		}
		entry.handler.OnTimer(id)
		fired++
	}
	return fired
}

// Time until the next armed timer expires, false if none is armed
func (l *Loop) nextDeadline() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var next time.Time
	found := false
	for _, entry := range l.timers {
		if !entry.armed {
			continue
		}
		if !found || entry.deadline.Before(next) {
			next = entry.deadline
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return next.Sub(l.clock.Now()), true
}

// Run processes posted functions and timers until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("starting event loop")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.RunPending()
		l.RunExpired()

		var timeout <-chan time.Time
		var t *time.Timer
		if wait, ok := l.nextDeadline(); ok {
			if wait <= 0 {
				continue
			}
			t = time.NewTimer(wait)
			timeout = t.C
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			l.logger.Debug("exiting event loop")
			return ctx.Err()
		case <-l.wake:
		case <-timeout:
		}
		if t != nil {
			t.Stop()
		}
	}
}

// Number of timers currently registered
func (l *Loop) Timers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}
