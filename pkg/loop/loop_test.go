package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLoop() (*Loop, *manualClock) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	return New(nil, clock), clock
}

func TestTimerFiresOnce(t *testing.T) {
	l, clock := newTestLoop()
	fired := []TimerID{}
	timer := l.NewTimer(HandlerFunc(func(id TimerID) { fired = append(fired, id) }))
	timer.SetDuration(100 * time.Millisecond)
	assert.Nil(t, timer.Start())
	assert.True(t, timer.Armed())

	clock.Advance(99 * time.Millisecond)
	assert.Equal(t, 0, l.RunExpired())
	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, l.RunExpired())
	assert.Equal(t, []TimerID{timer.ID()}, fired)
	assert.False(t, timer.Armed())

	clock.Advance(time.Second)
	assert.Equal(t, 0, l.RunExpired())
	assert.Len(t, fired, 1)
}

func TestTimerRearm(t *testing.T) {
	l, clock := newTestLoop()
	count := 0
	timer := l.NewTimer(HandlerFunc(func(id TimerID) { count++ }))
	timer.SetDuration(100 * time.Millisecond)
	timer.Start()
	clock.Advance(80 * time.Millisecond)
	// Re-arming restarts the full duration
	timer.Start()
	clock.Advance(80 * time.Millisecond)
	l.RunExpired()
	assert.Equal(t, 0, count)
	clock.Advance(20 * time.Millisecond)
	l.RunExpired()
	assert.Equal(t, 1, count)
}

func TestTimerStop(t *testing.T) {
	l, clock := newTestLoop()
	count := 0
	timer := l.NewTimer(HandlerFunc(func(id TimerID) { count++ }))
	timer.SetDuration(10 * time.Millisecond)
	timer.Start()
	assert.Nil(t, timer.Stop())
	clock.Advance(time.Second)
	l.RunExpired()
	assert.Equal(t, 0, count)
}

func TestReleasedTimerNeverFires(t *testing.T) {
	l, clock := newTestLoop()
	count := 0
	timer := l.NewTimer(HandlerFunc(func(id TimerID) { count++ }))
	timer.SetDuration(10 * time.Millisecond)
	timer.Start()
	timer.Release()
	assert.Equal(t, 0, l.Timers())
	clock.Advance(time.Second)
	l.RunExpired()
	assert.Equal(t, 0, count)
	assert.Equal(t, ErrReleased, timer.Start())
	assert.Equal(t, ErrReleased, timer.Stop())
}

func TestHandlerReleasesOtherTimer(t *testing.T) {
	l, clock := newTestLoop()
	var second *Timer
	count := 0
	first := l.NewTimer(HandlerFunc(func(id TimerID) {
		count++
		second.Release()
	}))
	second = l.NewTimer(HandlerFunc(func(id TimerID) {
		count++
		first.Release()
	}))
	first.SetDuration(time.Millisecond)
	second.SetDuration(time.Millisecond)
	first.Start()
	second.Start()
	clock.Advance(time.Millisecond)
	l.RunExpired()
	// Whichever runs first releases the other one
	assert.Equal(t, 1, count)
}

func TestRunPending(t *testing.T) {
	l, _ := newTestLoop()
	order := []int{}
	l.Post(func() {
		order = append(order, 1)
		l.Post(func() { order = append(order, 3) })
	})
	l.Post(func() { order = append(order, 2) })
	assert.Equal(t, 3, l.RunPending())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestRunRealTime(t *testing.T) {
	l := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan TimerID, 1)
	l.Post(func() {
		timer := l.NewTimer(HandlerFunc(func(id TimerID) { done <- id }))
		timer.SetDuration(20 * time.Millisecond)
		timer.Start()
	})
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	cancel()
	assert.Equal(t, context.Canceled, <-errCh)
}
