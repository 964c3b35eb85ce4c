package session

import (
	"context"
	"sync"

	"github.com/yllada/vpn-session/common"
)

// Decision is the outcome of a launch-permission request.
type Decision int

const (
	Denied Decision = iota
	Granted
)

func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "denied"
}

// Prompter asks the host or the user for permission to launch the engine.
type Prompter interface {
	// Required reports whether a prompt is needed at all.
	Required() bool
	// Prompt blocks until the permission is answered or ctx is cancelled.
	// An error counts as a refusal.
	Prompt(ctx context.Context) (bool, error)
}

// ResumeFunc receives the decision for a suspended attempt.
type ResumeFunc func(attempt uint64, d Decision) error

// PermissionCoordinator runs at most one permission request at a time.
// Results are tagged with the attempt ID they were requested for; the
// first result for the pending attempt wins and later ones are dropped.
type PermissionCoordinator struct {
	prompter Prompter
	resume   ResumeFunc

	// OnRequest, if set, is called when an attempt suspends for permission.
	OnRequest func(attempt uint64)

	mu      sync.Mutex
	pending uint64
	cancel  context.CancelFunc
}

// NewPermissionCoordinator creates a coordinator. A nil prompter never
// requires permission.
func NewPermissionCoordinator(prompter Prompter, resume ResumeFunc) *PermissionCoordinator {
	return &PermissionCoordinator{prompter: prompter, resume: resume}
}

// Request asks for launch permission for attempt. When no prompt is
// required it returns Granted with pending false. Otherwise the prompt
// runs asynchronously, pending is true, and the decision is delivered
// later through the resume function.
func (p *PermissionCoordinator) Request(attempt uint64) (Decision, bool, error) {
	if p.prompter == nil || !p.prompter.Required() {
		return Granted, false, nil
	}

	p.mu.Lock()
	if p.pending != 0 {
		p.mu.Unlock()
		return Denied, false, ErrAttemptInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.pending = attempt
	p.cancel = cancel
	p.mu.Unlock()

	if p.OnRequest != nil {
		p.OnRequest(attempt)
	}

	go func() {
		granted, err := p.prompter.Prompt(ctx)
		if err != nil && ctx.Err() == nil {
			common.LogWarn("Permission prompt for attempt %d failed: %v", attempt, err)
		}
		d := Denied
		if err == nil && granted {
			d = Granted
		}
		if !p.claim(attempt) {
			return
		}
		if err := p.resume(attempt, d); err != nil {
			common.LogWarn("Attempt %d after permission %s: %v", attempt, d, err)
		}
	}()

	return Denied, true, nil
}

// Resolve answers the pending request from outside the prompter.
func (p *PermissionCoordinator) Resolve(attempt uint64, granted bool) error {
	p.mu.Lock()
	switch {
	case p.pending == 0:
		p.mu.Unlock()
		return ErrNoPendingAttempt
	case p.pending != attempt:
		p.mu.Unlock()
		return ErrStaleAttempt
	}
	p.mu.Unlock()

	if !p.claim(attempt) {
		return ErrStaleAttempt
	}
	d := Denied
	if granted {
		d = Granted
	}
	return p.resume(attempt, d)
}

// Cancel abandons the pending request, if any.
func (p *PermissionCoordinator) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
}

// Pending returns the attempt waiting for permission.
func (p *PermissionCoordinator) Pending() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending, p.pending != 0
}

// claim takes ownership of the result for attempt. It fails when the
// request was already answered or cancelled.
func (p *PermissionCoordinator) claim(attempt uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != attempt || attempt == 0 {
		return false
	}
	p.clearLocked()
	return true
}

func (p *PermissionCoordinator) clearLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.pending = 0
}
