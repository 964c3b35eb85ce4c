package netstate

import (
	"errors"
	"net"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-session/common"
)

func TestReachableFromNMState(t *testing.T) {
	tests := []struct {
		state         uint32
		wantReachable bool
		wantOK        bool
	}{
		{nmStateUnknown, false, false},
		{nmStateAsleep, false, true},
		{nmStateDisconnected, false, true},
		{nmStateDisconnecting, false, true},
		{nmStateConnecting, true, true},
		{nmStateConnectedLocal, true, true},
		{nmStateConnectedSite, true, true},
		{nmStateConnectedGlobal, true, true},
	}

	for _, tt := range tests {
		reachable, ok := reachableFromNMState(tt.state)
		if reachable != tt.wantReachable || ok != tt.wantOK {
			t.Errorf("reachableFromNMState(%d) = %v, %v; want %v, %v",
				tt.state, reachable, ok, tt.wantReachable, tt.wantOK)
		}
	}
}

func TestInterfaceUsable(t *testing.T) {
	tests := []struct {
		name  string
		iface Interface
		want  bool
	}{
		{"up with address", Interface{Flags: net.FlagUp, Addrs: []net.IP{net.ParseIP("192.168.1.20")}}, true},
		{"up ipv6 global", Interface{Flags: net.FlagUp, Addrs: []net.IP{net.ParseIP("2001:db8::1")}}, true},
		{"down", Interface{Addrs: []net.IP{net.ParseIP("192.168.1.20")}}, false},
		{"loopback", Interface{Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.IP{net.ParseIP("127.0.0.1")}}, false},
		{"link local only", Interface{Flags: net.FlagUp, Addrs: []net.IP{net.ParseIP("fe80::1")}}, false},
		{"no address", Interface{Flags: net.FlagUp}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.iface.usable(); got != tt.want {
				t.Errorf("usable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_FallsBackToInterfaces(t *testing.T) {
	noBus := func() (*dbus.Conn, error) { return nil, errors.New("no bus") }

	g := &Gate{
		bus: noBus,
		interfaces: func() ([]Interface, error) {
			return []Interface{
				{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.IP{net.ParseIP("127.0.0.1")}},
				{Name: "wlan0", Flags: net.FlagUp, Addrs: []net.IP{net.ParseIP("10.0.0.7")}},
			}, nil
		},
	}
	if !g.Reachable() {
		t.Error("Reachable() = false with a usable interface")
	}

	g.interfaces = func() ([]Interface, error) {
		return []Interface{{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.IP{net.ParseIP("127.0.0.1")}}}, nil
	}
	if g.Reachable() {
		t.Error("Reachable() = true with only loopback")
	}

	g.interfaces = func() ([]Interface, error) { return nil, errors.New("netlink") }
	if g.Reachable() {
		t.Error("Reachable() = true when interfaces cannot be listed")
	}
}

func TestSettings_NoCandidate(t *testing.T) {
	s := &Settings{
		Command:  []string{"definitely-not-installed-settings"},
		lookPath: func(string) (string, error) { return "", errors.New("not found") },
	}
	if err := s.OpenVPNSettings(); !errors.Is(err, common.ErrNotImplemented) {
		t.Errorf("OpenVPNSettings() error = %v, want ErrNotImplemented", err)
	}
}

func TestSettings_ResolveOrder(t *testing.T) {
	s := &Settings{
		lookPath: func(name string) (string, error) {
			if name == "nm-connection-editor" {
				return "/usr/bin/" + name, nil
			}
			return "", errors.New("not found")
		},
	}
	argv, err := s.resolve()
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	if len(argv) != 1 || argv[0] != "nm-connection-editor" {
		t.Errorf("resolve() = %v", argv)
	}
}
