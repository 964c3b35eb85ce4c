package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseEngineStage(t *testing.T) {
	tests := []struct {
		text string
		want Stage
		ok   bool
	}{
		{"CONNECTED", StageConnected, true},
		{"CoNnEcTeD", StageConnected, true},
		{" disconnected\n", StageDisconnected, true},
		{"WAIT", StageWaitConnection, true},
		{"auth", StageAuthenticating, true},
		{"Reconnecting", StageReconnecting, true},
		{"NONETWORK", StageNoNetwork, true},
		{"connecting", StageConnecting, true},
		{"PREPARE", StagePreparing, true},
		{"denied", StageDenied, true},
		{"FROBNICATE", StageIdle, false},
		{"", StageIdle, false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ParseEngineStage(tt.text).Stage()
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseEngineStage(%q).Stage() = %s, %v; want %s, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStage_StringRoundTrip(t *testing.T) {
	all := Stages()
	if len(all) != 11 {
		t.Fatalf("Stages() = %d values, want 11", len(all))
	}
	for _, s := range all {
		back, ok := ParseStage(s.String())
		if !ok || back != s {
			t.Errorf("ParseStage(%q) = %v, %v", s.String(), back, ok)
		}
	}
	if _, ok := ParseStage("CONNECTED"); ok {
		t.Error("ParseStage should only accept wire names")
	}
	if Stage(99).String() != "unknown" {
		t.Errorf("out-of-range stage = %q", Stage(99).String())
	}
}

func TestStatus_Fields(t *testing.T) {
	st := Status{
		Duration:          time.Hour + 2*time.Minute + 5*time.Second,
		LastPacketReceive: 3 * time.Second,
		ByteIn:            1024,
		ByteOut:           77,
	}
	want := [4]string{"01:02:05", "3", "1024", "77"}
	if got := st.Fields(); got != want {
		t.Errorf("Fields() = %v, want %v", got, want)
	}

	back, err := StatusFromFields(want[0], want[1], want[2], want[3])
	if err != nil {
		t.Fatalf("StatusFromFields() error = %v", err)
	}
	if back != st {
		t.Errorf("StatusFromFields() = %+v, want %+v", back, st)
	}
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(Status{Duration: 90 * time.Second, ByteIn: 5})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"duration":"00:01:30","last_packet_receive":"0","byte_in":"5","byte_out":"0"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var st Status
	if err := json.Unmarshal([]byte(`{"duration":"100:00:00","byte_out":"9"}`), &st); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if st.Duration != 100*time.Hour || st.ByteOut != 9 {
		t.Errorf("Unmarshal = %+v", st)
	}

	if err := json.Unmarshal([]byte(`{"byte_in":"-1"}`), &st); err == nil {
		t.Error("negative byte count should fail")
	}
}

func TestProfileBuilder_Build(t *testing.T) {
	b := NewProfileBuilder(nil, "", "")

	tests := []struct {
		name         string
		params       Params
		wantDNS      [2]string
		wantOverride bool
		wantBypass   []string
	}{
		{
			name:    "defaults",
			params:  Params{Config: validConfig, Name: "office"},
			wantDNS: [2]string{"8.8.8.8", "8.8.4.4"},
		},
		{
			name:         "custom dns",
			params:       Params{Config: validConfig, Name: "office", DNS1: "1.1.1.1", DNS2: "1.0.0.1"},
			wantDNS:      [2]string{"1.1.1.1", "1.0.0.1"},
			wantOverride: true,
		},
		{
			name:         "one custom value",
			params:       Params{Config: validConfig, Name: "office", DNS2: "9.9.9.9"},
			wantDNS:      [2]string{"8.8.8.8", "9.9.9.9"},
			wantOverride: true,
		},
		{
			name:         "explicit defaults",
			params:       Params{Config: validConfig, Name: "office", DNS1: "8.8.8.8", DNS2: " 8.8.4.4 "},
			wantDNS:      [2]string{"8.8.8.8", "8.8.4.4"},
			wantOverride: false,
		},
		{
			name:       "bypass cleaned",
			params:     Params{Config: validConfig, Name: "office", Bypass: []string{" firefox ", "", "firefox", "slack"}},
			wantDNS:    [2]string{"8.8.8.8", "8.8.4.4"},
			wantBypass: []string{"firefox", "slack"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := b.Build(tt.params)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if p.DNS1 != tt.wantDNS[0] || p.DNS2 != tt.wantDNS[1] {
				t.Errorf("DNS = %s,%s want %v", p.DNS1, p.DNS2, tt.wantDNS)
			}
			if p.OverrideDNS != tt.wantOverride {
				t.Errorf("OverrideDNS = %v, want %v", p.OverrideDNS, tt.wantOverride)
			}
			if len(p.Bypass) != len(tt.wantBypass) {
				t.Fatalf("Bypass = %v, want %v", p.Bypass, tt.wantBypass)
			}
			for i := range tt.wantBypass {
				if p.Bypass[i] != tt.wantBypass[i] {
					t.Errorf("Bypass[%d] = %q, want %q", i, p.Bypass[i], tt.wantBypass[i])
				}
			}
			if p.AllowBypass != (len(tt.wantBypass) > 0) {
				t.Errorf("AllowBypass = %v", p.AllowBypass)
			}
			if p.Parsed == nil || !p.Parsed.Has("remote") {
				t.Error("parsed config missing")
			}
		})
	}
}

func TestProfileBuilder_Invalid(t *testing.T) {
	b := NewProfileBuilder(nil, "", "")
	for _, p := range []Params{
		{Name: "office"},
		{Config: validConfig},
		{Config: "<ca>\nunterminated\n", Name: "office"},
	} {
		if _, err := b.Build(p); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Build(%q) error = %v, want ErrInvalidConfig", p.Config, err)
		}
	}
}

func TestProfile_StampCopies(t *testing.T) {
	b := NewProfileBuilder(nil, "", "")
	p, err := b.Build(Params{Config: validConfig, Name: "office", Bypass: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}

	stamped := p.Stamp("creator")
	stamped.Bypass[0] = "changed"
	stamped.Parsed.Set("dev", "tap")

	if p.Creator != "" || stamped.Creator != "creator" {
		t.Errorf("Creator original=%q stamped=%q", p.Creator, stamped.Creator)
	}
	if p.Bypass[0] != "a" {
		t.Error("stamped copy shares bypass list")
	}
	if p.Parsed.Has("dev") {
		t.Error("stamped copy shares parsed config")
	}
}
