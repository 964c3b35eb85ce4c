package permission

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/yllada/vpn-session/common"
)

const (
	polkitService   = "org.freedesktop.PolicyKit1"
	polkitPath      = "/org/freedesktop/PolicyKit1/Authority"
	polkitInterface = "org.freedesktop.PolicyKit1.Authority"

	// allowUserInteraction lets polkit show an authentication dialog.
	allowUserInteraction uint32 = 1
)

type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

type polkitResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// Polkit asks the polkit authority over the system bus.
type Polkit struct {
	conn     *dbus.Conn
	actionID string
	euid     func() int
}

// NewPolkit connects to the system bus and checks that polkit is running.
func NewPolkit(actionID string) (*Polkit, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}

	var owned bool
	err = conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, polkitService).Store(&owned)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, fmt.Errorf("%s is not running", polkitService)
	}

	if actionID == "" {
		actionID = common.PolkitActionID
	}
	return &Polkit{conn: conn, actionID: actionID, euid: os.Geteuid}, nil
}

// Required reports false for root, which polkit would always authorize.
func (p *Polkit) Required() bool {
	return p.euid() != 0
}

// Prompt runs CheckAuthorization for the daemon's own bus name.
func (p *Polkit) Prompt(ctx context.Context) (bool, error) {
	names := p.conn.Names()
	if len(names) == 0 {
		return false, fmt.Errorf("no unique bus name")
	}
	subject := polkitSubject{
		Kind:    "system-bus-name",
		Details: map[string]dbus.Variant{"name": dbus.MakeVariant(names[0])},
	}
	cancelID := uuid.NewString()
	authority := p.conn.Object(polkitService, polkitPath)

	var result polkitResult
	err := authority.CallWithContext(ctx, polkitInterface+".CheckAuthorization", 0,
		subject, p.actionID, map[string]string{}, allowUserInteraction, cancelID).Store(&result)
	if err != nil {
		if ctx.Err() != nil {
			authority.Call(polkitInterface+".CancelCheckAuthorization", dbus.FlagNoReplyExpected, cancelID)
			return false, ctx.Err()
		}
		return false, fmt.Errorf("polkit check failed: %w", err)
	}

	common.LogInfo("Polkit %s: authorized=%v challenge=%v", p.actionID, result.IsAuthorized, result.IsChallenge)
	return result.IsAuthorized, nil
}
