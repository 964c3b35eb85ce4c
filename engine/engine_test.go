package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yllada/vpn-session/session"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line   string
		want   session.EngineStage
		wantOK bool
	}{
		{"2026-10-17 10:00:01 Initialization Sequence Completed", session.EngineConnected, true},
		{"2026-10-17 10:00:00 TLS: Initial packet from [AF_INET]1.2.3.4:1194, sid=1", session.EngineAuth, true},
		{"2026-10-17 10:00:00 [server] Peer Connection Initiated with [AF_INET]1.2.3.4:1194", session.EngineAuth, true},
		{"2026-10-17 10:00:00 UDP link remote: [AF_INET]1.2.3.4:1194", session.EngineWait, true},
		{"2026-10-17 10:00:00 Attempting to establish TCP connection with [AF_INET]1.2.3.4:443", session.EngineConnecting, true},
		{"2026-10-17 10:05:00 SIGUSR1[soft,ping-restart] received, process restarting", session.EngineReconnecting, true},
		{"2026-10-17 10:06:00 SIGHUP[hard,] received, process restarting", session.EngineReconnecting, true},
		{"2026-10-17 10:05:02 Restart pause, 5 second(s)", session.EngineReconnecting, true},
		{"2026-10-17 10:00:00 write UDP: Network is unreachable (code=101)", session.EngineNoNetwork, true},
		{"2026-10-17 10:00:00 OpenVPN 2.6.12 x86_64-pc-linux-gnu", session.EngineStageUnknown, false},
		{"", session.EngineStageUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := classifyLine(tt.line)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("classifyLine() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMonitorOutput(t *testing.T) {
	output := strings.Join([]string{
		"OpenVPN 2.6.12 x86_64-pc-linux-gnu",
		"UDP link remote: [AF_INET]1.2.3.4:1194",
		"AUTH: Received control message: AUTH_FAILED",
		"TLS: Initial packet from [AF_INET]1.2.3.4:1194",
		"Initialization Sequence Completed",
	}, "\n")

	var stages []session.EngineStage
	err := monitorOutput(strings.NewReader(output), &tunnelState{}, func(s session.EngineStage) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("monitorOutput() error = %v", err)
	}

	want := []session.EngineStage{session.EngineWait, session.EngineAuth, session.EngineConnected}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %v, want %v", i, stages[i], want[i])
		}
	}
}

func TestMonitorOutput_Renegotiation(t *testing.T) {
	output := strings.Join([]string{
		"TLS: Initial packet from [AF_INET]1.2.3.4:1194, sid=1",
		"[server] Peer Connection Initiated with [AF_INET]1.2.3.4:1194",
		"Initialization Sequence Completed",
		"TLS: soft reset sec=3600/3600 bytes=0/-1 pkts=0/0",
		"VERIFY OK: depth=0, CN=server",
		"[server] Peer Connection Initiated with [AF_INET]1.2.3.4:1194",
		"SIGUSR1[soft,ping-restart] received, process restarting",
		"TLS: Initial packet from [AF_INET]1.2.3.4:1194, sid=2",
		"Initialization Sequence Completed",
	}, "\n")

	var stages []session.EngineStage
	err := monitorOutput(strings.NewReader(output), &tunnelState{}, func(s session.EngineStage) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("monitorOutput() error = %v", err)
	}

	want := []session.EngineStage{
		session.EngineAuth, session.EngineAuth, session.EngineConnected,
		session.EngineReconnecting, session.EngineAuth, session.EngineConnected,
	}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %v, want %v", i, stages[i], want[i])
		}
	}
}

const sampleStatus = `OpenVPN STATISTICS
Updated,2026-10-17 10:00:05
TUN/TAP read bytes,1500
TUN/TAP write bytes,3000
TCP/UDP read bytes,4096
TCP/UDP write bytes,2048
Auth read bytes,3100
END
`

func TestParseStatusFile(t *testing.T) {
	c, err := ParseStatusFile(strings.NewReader(sampleStatus))
	if err != nil {
		t.Fatalf("ParseStatusFile() error = %v", err)
	}
	if c.LinkRead != 4096 || c.LinkWrite != 2048 {
		t.Errorf("counters = %+v", c)
	}
	if c.Updated != "2026-10-17 10:00:05" {
		t.Errorf("Updated = %q", c.Updated)
	}

	if _, err := ParseStatusFile(strings.NewReader("OpenVPN STATISTICS\nEND\n")); err == nil {
		t.Error("missing counters should fail")
	}
	if _, err := ParseStatusFile(strings.NewReader("TCP/UDP read bytes,x\nTCP/UDP write bytes,1\n")); err == nil {
		t.Error("non-numeric counter should fail")
	}
}

func TestTelemetrySample(t *testing.T) {
	start := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	tel := newTelemetry(start)

	st := tel.sample(Counters{LinkRead: 100, LinkWrite: 50}, start.Add(2*time.Second))
	if st.Duration != 0 {
		t.Errorf("Duration before connected = %v, want 0", st.Duration)
	}
	if st.LastPacketReceive != 0 {
		t.Errorf("LastPacketReceive after new bytes = %v, want 0", st.LastPacketReceive)
	}

	tel.markConnected(start.Add(3 * time.Second))
	st = tel.sample(Counters{LinkRead: 100, LinkWrite: 80}, start.Add(10*time.Second))
	if st.Duration != 7*time.Second {
		t.Errorf("Duration = %v, want 7s", st.Duration)
	}
	if st.LastPacketReceive != 8*time.Second {
		t.Errorf("LastPacketReceive = %v, want 8s", st.LastPacketReceive)
	}
	if st.ByteIn != 100 || st.ByteOut != 80 {
		t.Errorf("bytes = %d/%d", st.ByteIn, st.ByteOut)
	}
}

func TestParseRouteForOpenVPN(t *testing.T) {
	tests := []struct {
		route       string
		wantNetwork string
		wantNetmask string
	}{
		{"192.168.1.0/24", "192.168.1.0", "255.255.255.0"},
		{"10.0.0.0/8", "10.0.0.0", "255.0.0.0"},
		{"8.8.8.8", "8.8.8.8", "255.255.255.255"},
		{"192.168.1.1/32", "192.168.1.1", "255.255.255.255"},
		{"org.mozilla.firefox", "", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			network, netmask := parseRouteForOpenVPN(tt.route)
			if network != tt.wantNetwork || netmask != tt.wantNetmask {
				t.Errorf("parseRouteForOpenVPN(%q) = %q, %q; want %q, %q",
					tt.route, network, netmask, tt.wantNetwork, tt.wantNetmask)
			}
		})
	}
}

const testConfig = "client\ndev tun\nremote vpn.example.com 1194\nauth-user-pass\nstatus /tmp/other.status\n<ca>\nx\n</ca>\n"

func buildProfile(t *testing.T, params session.Params) *session.Profile {
	t.Helper()
	if params.Config == "" {
		params.Config = testConfig
	}
	if params.Name == "" {
		params.Name = "office"
	}
	p, err := session.NewProfileBuilder(nil, "", "").Build(params)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return p
}

func TestRenderProfile(t *testing.T) {
	p := buildProfile(t, session.Params{
		Username: "alice",
		Password: "secret",
		DNS1:     "1.1.1.1",
		DNS2:     "1.0.0.1",
		Bypass:   []string{"192.168.10.0/24", "org.example.app"},
	}).Stamp("com.vpnsession.app")

	text, err := renderProfile(p, "/run/test/auth")
	if err != nil {
		t.Fatalf("renderProfile() error = %v", err)
	}

	for _, want := range []string{
		"auth-user-pass /run/test/auth\n",
		"auth-nocache\n",
		"dhcp-option DNS 1.1.1.1\n",
		"dhcp-option DNS 1.0.0.1\n",
		"route 192.168.10.0 255.255.255.0 net_gateway\n",
		"setenv IV_GUI_VER com.vpnsession.app\n",
		"<ca>\nx\n</ca>\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered profile missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "/tmp/other.status") {
		t.Error("profile status directive should be removed")
	}
	if strings.Contains(text, "org.example.app") {
		t.Error("non-address bypass entry should be ignored")
	}
	if strings.Contains(text, "secret") {
		t.Error("password leaked into the rendered profile")
	}
}

func TestRenderProfile_DefaultDNSNotOverridden(t *testing.T) {
	p := buildProfile(t, session.Params{Username: "alice"})
	text, err := renderProfile(p, "/run/test/auth")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(text, "dhcp-option") {
		t.Errorf("default DNS should not be pushed:\n%s", text)
	}
}

func TestCheckProfile(t *testing.T) {
	e := New(Config{Binary: "/nonexistent/openvpn", RuntimeDir: t.TempDir()})

	if err := e.CheckProfile(buildProfile(t, session.Params{})); err == nil {
		t.Error("auth-user-pass profile without username should fail")
	}
	if err := e.CheckProfile(buildProfile(t, session.Params{Config: "client\nremote a.example.com\n", Username: "u"})); err == nil {
		t.Error("profile without CA should fail")
	}
	if err := e.CheckProfile(buildProfile(t, session.Params{Username: "u"})); err == nil {
		t.Error("missing binary should fail")
	}
}

// writeScript creates an executable shell script standing in for openvpn.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-openvpn")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func nextStage(t *testing.T, feed <-chan session.Notification) string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-feed:
			if n.Stage != "" {
				return n.Stage
			}
		case <-timeout:
			t.Fatal("timed out waiting for engine notification")
			return ""
		}
	}
}

func TestOpenVPN_ProcessLifecycle(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	script := writeScript(t, "echo 'UDP link remote: [AF_INET]1.2.3.4:1194'\necho 'Initialization Sequence Completed'\n")
	runtimeDir := t.TempDir()
	e := New(Config{Binary: script, RuntimeDir: runtimeDir, StatusInterval: time.Second})

	p := buildProfile(t, session.Params{Username: "alice", Password: "secret"})
	if err := e.CheckProfile(p); err != nil {
		t.Fatalf("CheckProfile() error = %v", err)
	}
	if err := e.SetActiveProfile(p); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(p); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, want := range []string{"WAIT", "CONNECTED", "DISCONNECTED"} {
		if got := nextStage(t, e.Notifications()); got != want {
			t.Fatalf("stage = %s, want %s", got, want)
		}
	}
	if got := e.Status(); got != "DISCONNECTED" {
		t.Errorf("Status() = %s", got)
	}

	if _, err := os.Stat(filepath.Join(runtimeDir, "active.ovpn")); err != nil {
		t.Errorf("rendered profile missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runtimeDir, "auth")); !os.IsNotExist(err) {
		t.Errorf("credentials file should be removed after exit, stat err = %v", err)
	}
}

func TestOpenVPN_Stop(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	script := writeScript(t, "exec sleep 30\n")
	e := New(Config{Binary: script, RuntimeDir: t.TempDir()})

	if err := e.Stop(); err != nil {
		t.Errorf("Stop() with nothing running error = %v", err)
	}

	if err := e.Start(buildProfile(t, session.Params{Username: "u"})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()

	if err := e.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	select {
	case <-proc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop()")
	}
	if got := e.Status(); got != "DISCONNECTED" {
		t.Errorf("Status() = %s", got)
	}
}
