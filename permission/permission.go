// Package permission provides the launch-permission prompters used by the
// session controller.
package permission

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// Granted never asks; every launch is allowed.
type Granted struct{}

// Required always reports false.
func (Granted) Required() bool { return false }

// Prompt always grants.
func (Granted) Prompt(context.Context) (bool, error) { return true, nil }

// External waits for an out-of-band answer delivered through
// session.Controller.ResolvePermission. Prompt only returns on cancellation.
type External struct{}

// Required always reports true.
func (External) Required() bool { return true }

// Prompt blocks until ctx is cancelled.
func (External) Prompt(ctx context.Context) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

// New returns the prompter for a configured mode.
func New(mode, actionID string) (session.Prompter, error) {
	switch mode {
	case common.PermissionNone:
		return Granted{}, nil
	case common.PermissionExternal:
		return External{}, nil
	case common.PermissionTerminal:
		return NewTerminal(os.Stdin, os.Stderr), nil
	case common.PermissionPolkit:
		return NewPolkit(actionID)
	case common.PermissionAuto, "":
		return auto(actionID), nil
	default:
		return nil, fmt.Errorf("unknown permission mode %q", mode)
	}
}

// auto picks polkit when available, then the terminal, then external.
func auto(actionID string) session.Prompter {
	if os.Geteuid() == 0 {
		return Granted{}
	}
	p, err := NewPolkit(actionID)
	if err == nil {
		return p
	}
	common.LogDebug("Polkit unavailable: %v", err)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return NewTerminal(os.Stdin, os.Stderr)
	}
	return External{}
}
