package engine

import (
	"errors"
	"testing"
	"time"
)

func newTestScheduler() *ManualScheduler {
	return NewManualScheduler(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
}

func TestTimer_CountsDownAndFiresOnce(t *testing.T) {
	sched := newTestScheduler()
	fired := 0
	timer := NewTimer(sched, 60, func() { fired++ })

	if timer.State() != TimerIdle {
		t.Fatalf("expected idle, got %s", timer.State())
	}
	timer.Start()
	sched.Advance(30 * time.Second)
	if got := timer.Remaining(); got != 30 {
		t.Fatalf("expected 30s remaining, got %d", got)
	}

	sched.Advance(45 * time.Second)
	if got := timer.Remaining(); got != 0 {
		t.Fatalf("remaining must stop at 0, got %d", got)
	}
	if timer.State() != TimerExpired {
		t.Fatalf("expected expired, got %s", timer.State())
	}
	if fired != 1 {
		t.Fatalf("expected auto-submit callback once, got %d", fired)
	}
	if timer.Elapsed() != 60 {
		t.Errorf("expected elapsed 60, got %d", timer.Elapsed())
	}
	if sched.Active() != 0 {
		t.Errorf("expected tick task cancelled, %d still active", sched.Active())
	}

	// Further operations never re-fire.
	timer.Stop()
	_ = timer.Resume()
	sched.Advance(10 * time.Second)
	if fired != 1 {
		t.Errorf("callback fired again: %d", fired)
	}
}

func TestTimer_PauseResume(t *testing.T) {
	sched := newTestScheduler()
	timer := NewTimer(sched, 120, nil)
	timer.Start()

	sched.Advance(20 * time.Second)
	if err := timer.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	sched.Advance(50 * time.Second)
	if got := timer.Remaining(); got != 100 {
		t.Fatalf("paused timer moved: remaining %d", got)
	}
	if timer.State() != TimerPaused {
		t.Fatalf("expected paused, got %s", timer.State())
	}

	if err := timer.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	sched.Advance(10 * time.Second)
	if got := timer.Remaining(); got != 90 {
		t.Errorf("expected 90 remaining, got %d", got)
	}
}

func TestTimer_PauseNoOps(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Timer, *ManualScheduler)
		want  TimerState
	}{
		{
			name:  "idle",
			setup: func(*Timer, *ManualScheduler) {},
			want:  TimerIdle,
		},
		{
			name:  "stopped",
			setup: func(tm *Timer, _ *ManualScheduler) { tm.Start(); tm.Stop() },
			want:  TimerStopped,
		},
		{
			name: "expired",
			setup: func(tm *Timer, s *ManualScheduler) {
				tm.Start()
				s.Advance(5 * time.Second)
			},
			want: TimerExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := newTestScheduler()
			timer := NewTimer(sched, 5, nil)
			tt.setup(timer, sched)

			if err := timer.Pause(); err != nil {
				t.Fatalf("pause returned error: %v", err)
			}
			if got := timer.State(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTimer_Unlimited(t *testing.T) {
	sched := newTestScheduler()
	timer := NewTimer(sched, 0, func() { t.Fatal("unlimited timer must not expire") })
	timer.Start()
	sched.Advance(10 * time.Hour)

	if timer.Remaining() != Unlimited {
		t.Errorf("expected unlimited sentinel, got %d", timer.Remaining())
	}
	if !errors.Is(timer.Pause(), ErrPauseUnsupported) {
		t.Error("expected ErrPauseUnsupported in unlimited mode")
	}
	if timer.Elapsed() != 0 {
		t.Errorf("expected elapsed 0, got %d", timer.Elapsed())
	}
	timer.Stop()
	if timer.State() != TimerStopped {
		t.Errorf("expected stopped, got %s", timer.State())
	}
}

func TestTimer_RestoreAtZeroExpiresOnStart(t *testing.T) {
	sched := newTestScheduler()
	fired := 0
	timer := NewTimer(sched, 300, func() { fired++ })
	timer.Restore(-5)
	timer.Start()

	if timer.State() != TimerExpired || fired != 1 {
		t.Fatalf("expected immediate expiry, state=%s fired=%d", timer.State(), fired)
	}
	if timer.Elapsed() != 300 {
		t.Errorf("expected elapsed 300, got %d", timer.Elapsed())
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "00:00"},
		{59, "00:59"},
		{61, "01:01"},
		{7200, "120:00"},
		{Unlimited, "--:--"},
	}
	for _, tt := range tests {
		if got := FormatClock(tt.in); got != tt.want {
			t.Errorf("FormatClock(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := FormatDuration(59*time.Second + 999*time.Millisecond); got != "00:59" {
		t.Errorf("FormatDuration must truncate, got %q", got)
	}
}
