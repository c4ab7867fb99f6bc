package loop

import "time"

// Timer is a handle on a one-shot loop timer.
// It must only be used from the loop goroutine.
type Timer struct {
	loop *Loop
	id   TimerID
}

// NewTimer registers handler under a new timer id.
// The timer is created stopped.
func (l *Loop) NewTimer(handler Handler) *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.timers[id] = &timerEntry{handler: handler}
	return &Timer{loop: l, id: id}
}

func (t *Timer) ID() TimerID {
	return t.id
}

// Duration used by the next call to Start
func (t *Timer) SetDuration(d time.Duration) {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	if entry, ok := t.loop.timers[t.id]; ok {
		entry.duration = d
	}
}

// Start arms the timer for its full duration, re-arming it if already running
func (t *Timer) Start() error {
	now := t.loop.clock.Now()
	t.loop.mu.Lock()
	entry, ok := t.loop.timers[t.id]
	if !ok {
		t.loop.mu.Unlock()
		return ErrReleased
	}
	entry.deadline = now.Add(entry.duration)
	entry.armed = true
	t.loop.mu.Unlock()
	t.loop.signal()
	return nil
}

// Stop disarms the timer, it can be started again
func (t *Timer) Stop() error {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	entry, ok := t.loop.timers[t.id]
	if !ok {
		return ErrReleased
	}
	entry.armed = false
	return nil
}

// Armed reports whether the timer is running
func (t *Timer) Armed() bool {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	entry, ok := t.loop.timers[t.id]
	return ok && entry.armed
}

// Release removes the timer from the loop, its id will never fire again
func (t *Timer) Release() {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	delete(t.loop.timers, t.id)
}
