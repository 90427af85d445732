package engine

import (
	"sync"
	"time"
)

type LeaveKind string

const (
	LeaveNavigation LeaveKind = "navigation"
	LeaveClose      LeaveKind = "close"
)

// NavState is the navigation position restored when a leave is cancelled.
type NavState struct {
	QuestionIndex int `json:"question_index"`
}

type LeaveRequest struct {
	Kind        LeaveKind `json:"kind"`
	Target      string    `json:"target,omitempty"`
	Previous    NavState  `json:"previous"`
	RequestedAt time.Time `json:"requested_at"`
}

// Guard intercepts attempts to leave an in-progress session. While armed,
// every leave is held as pending until confirmed or cancelled.
type Guard struct {
	mu      sync.Mutex
	armed   bool
	pending *LeaveRequest
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

// Disarm drops any pending request; later leaves pass straight through.
func (g *Guard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
	g.pending = nil
}

func (g *Guard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// RequestLeave reports whether confirmation is required. A newer request
// replaces a pending one but keeps the original navigation state.
func (g *Guard) RequestLeave(req LeaveRequest) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.armed {
		return false
	}
	if g.pending != nil {
		req.Previous = g.pending.Previous
	}
	g.pending = &req
	return true
}

// Confirm runs save and then releases the pending request.
func (g *Guard) Confirm(save func()) (LeaveRequest, error) {
	g.mu.Lock()
	if g.pending == nil {
		g.mu.Unlock()
		return LeaveRequest{}, ErrNoPendingLeave
	}
	req := *g.pending
	g.mu.Unlock()

	if save != nil {
		save()
	}

	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
	return req, nil
}

// Cancel drops the pending request and returns the state to restore.
func (g *Guard) Cancel() (NavState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return NavState{}, ErrNoPendingLeave
	}
	prev := g.pending.Previous
	g.pending = nil
	return prev, nil
}

func (g *Guard) Pending() *LeaveRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return nil
	}
	req := *g.pending
	return &req
}
