// Package netstate answers "is there a usable network right now" for the
// session controller, and opens the host's network settings.
//
// NetworkManager is asked first over the system bus. When it cannot be
// reached the local interfaces are scanned instead.
package netstate

import (
	"context"
	"net"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-session/common"
)

const (
	nmService   = "org.freedesktop.NetworkManager"
	nmPath      = "/org/freedesktop/NetworkManager"
	nmInterface = "org.freedesktop.NetworkManager"

	queryTimeout = 2 * time.Second
)

// NetworkManager global states (NMState).
const (
	nmStateUnknown         uint32 = 0
	nmStateAsleep          uint32 = 10
	nmStateDisconnected    uint32 = 20
	nmStateDisconnecting   uint32 = 30
	nmStateConnecting      uint32 = 40
	nmStateConnectedLocal  uint32 = 50
	nmStateConnectedSite   uint32 = 60
	nmStateConnectedGlobal uint32 = 70
)

// reachableFromNMState reports whether a known NetworkManager state counts
// as reachable. ok is false for the unknown state.
func reachableFromNMState(state uint32) (reachable, ok bool) {
	switch {
	case state == nmStateUnknown:
		return false, false
	case state == nmStateConnecting:
		return true, true
	case state >= nmStateConnectedLocal:
		return true, true
	default:
		return false, true
	}
}

// Gate implements session.ConnectivityGate.
type Gate struct {
	bus        func() (*dbus.Conn, error)
	interfaces func() ([]Interface, error)
}

// NewGate creates a gate backed by the system bus and the local interfaces.
func NewGate() *Gate {
	return &Gate{
		bus:        dbus.SystemBus,
		interfaces: systemInterfaces,
	}
}

// Reachable takes one snapshot of network reachability.
func (g *Gate) Reachable() bool {
	state, err := g.nmState()
	if err == nil {
		if reachable, ok := reachableFromNMState(state); ok {
			common.LogDebug("NetworkManager state %d, reachable=%v", state, reachable)
			return reachable
		}
	} else {
		common.LogDebug("NetworkManager unavailable, scanning interfaces: %v", err)
	}

	ifaces, err := g.interfaces()
	if err != nil {
		common.LogWarn("Failed to list network interfaces: %v", err)
		return false
	}
	return anyUsable(ifaces)
}

func (g *Gate) nmState() (uint32, error) {
	conn, err := g.bus()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var v dbus.Variant
	err = conn.Object(nmService, nmPath).
		CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, nmInterface, "State").
		Store(&v)
	if err != nil {
		return 0, err
	}
	var state uint32
	if err := v.Store(&state); err != nil {
		return 0, err
	}
	return state, nil
}

// Interface is the part of a network interface the gate looks at.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.IP
}

// usable reports whether the interface is up, not loopback and has a
// global unicast address.
func (i Interface) usable() bool {
	if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagLoopback != 0 {
		return false
	}
	for _, ip := range i.Addrs {
		if ip.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

func anyUsable(ifaces []Interface) bool {
	for _, i := range ifaces {
		if i.usable() {
			return true
		}
	}
	return false
}

func systemInterfaces() ([]Interface, error) {
	list, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	result := make([]Interface, 0, len(list))
	for _, iface := range list {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		entry := Interface{Name: iface.Name, Flags: iface.Flags}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				entry.Addrs = append(entry.Addrs, ipNet.IP)
			}
		}
		result = append(result, entry)
	}
	return result, nil
}
