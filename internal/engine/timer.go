package engine

import (
	"fmt"
	"sync"
	"time"
)

type TimerState string

const (
	TimerIdle    TimerState = "idle"
	TimerRunning TimerState = "running"
	TimerPaused  TimerState = "paused"
	TimerExpired TimerState = "expired"
	TimerStopped TimerState = "stopped"
)

// Unlimited is the remaining-time value of a timer without a bound.
const Unlimited = -1

const tickInterval = time.Second

// Timer counts a session down in whole seconds.
//
// idle -> running <-> paused -> expired | stopped
//
// onExpire runs at most once, outside the timer's lock, on the goroutine that
// delivered the final tick.
type Timer struct {
	mu        sync.Mutex
	scheduler Scheduler
	allotted  int
	remaining int
	state     TimerState
	onExpire  func()
	fired     bool
	cancel    func()
}

// NewTimer creates an idle timer. allottedSeconds <= 0 produces an unlimited timer.
func NewTimer(scheduler Scheduler, allottedSeconds int, onExpire func()) *Timer {
	t := &Timer{
		scheduler: scheduler,
		state:     TimerIdle,
		onExpire:  onExpire,
	}
	if allottedSeconds > 0 {
		t.allotted = allottedSeconds
		t.remaining = allottedSeconds
	} else {
		t.allotted = Unlimited
		t.remaining = Unlimited
	}
	return t
}

// Restore sets the remaining time of an idle bounded timer, clamped to [0, allotted].
func (t *Timer) Restore(remainingSeconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerIdle || !t.bounded() {
		return
	}
	switch {
	case remainingSeconds < 0:
		t.remaining = 0
	case remainingSeconds > t.allotted:
		t.remaining = t.allotted
	default:
		t.remaining = remainingSeconds
	}
}

func (t *Timer) Start() {
	t.mu.Lock()
	if t.state != TimerIdle {
		t.mu.Unlock()
		return
	}
	t.state = TimerRunning
	if !t.bounded() {
		t.mu.Unlock()
		return
	}
	if t.remaining <= 0 {
		fire := t.expireLocked()
		t.mu.Unlock()
		t.fire(fire)
		return
	}
	t.cancel = t.scheduler.Every(tickInterval, t.tick)
	t.mu.Unlock()
}

func (t *Timer) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.bounded() {
		return ErrPauseUnsupported
	}
	if t.state != TimerRunning {
		return nil
	}
	t.state = TimerPaused
	t.cancelLocked()
	return nil
}

func (t *Timer) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.bounded() {
		return ErrPauseUnsupported
	}
	if t.state != TimerPaused {
		return nil
	}
	t.state = TimerRunning
	t.cancel = t.scheduler.Every(tickInterval, t.tick)
	return nil
}

// Stop halts the timer from any non-terminal state without firing onExpire.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminalLocked() {
		return
	}
	t.state = TimerStopped
	t.cancelLocked()
}

func (t *Timer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining returns whole seconds left, or Unlimited.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Allotted returns the bound in seconds, or Unlimited.
func (t *Timer) Allotted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allotted
}

func (t *Timer) Bounded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bounded()
}

// Elapsed is allotted minus remaining for bounded timers and 0 otherwise.
func (t *Timer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.bounded() {
		return 0
	}
	return t.allotted - t.remaining
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.state != TimerRunning {
		t.mu.Unlock()
		return
	}
	t.remaining--
	fire := false
	if t.remaining <= 0 {
		fire = t.expireLocked()
	}
	t.mu.Unlock()
	t.fire(fire)
}

func (t *Timer) expireLocked() bool {
	t.remaining = 0
	t.state = TimerExpired
	t.cancelLocked()
	if t.fired {
		return false
	}
	t.fired = true
	return true
}

func (t *Timer) fire(ok bool) {
	if ok && t.onExpire != nil {
		t.onExpire()
	}
}

func (t *Timer) cancelLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Timer) bounded() bool {
	return t.allotted != Unlimited
}

func (t *Timer) terminalLocked() bool {
	return t.state == TimerExpired || t.state == TimerStopped
}

// FormatClock renders whole seconds as mm:ss. Minutes are not capped at 59.
func FormatClock(seconds int) string {
	if seconds < 0 {
		return "--:--"
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatDuration truncates d to whole seconds before formatting.
func FormatDuration(d time.Duration) string {
	return FormatClock(int(d / time.Second))
}
