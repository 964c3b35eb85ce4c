package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/vpn-session/common"
)

func TestLoadFrom_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.DNS.Primary != common.DefaultDNS1 || cfg.DNS.Secondary != common.DefaultDNS2 {
		t.Errorf("DNS = %+v, want defaults", cfg.DNS)
	}
	if !common.FileExists(path) {
		t.Error("LoadFrom should write the default file")
	}

	again, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("second LoadFrom() error = %v", err)
	}
	if again.Engine.StatusInterval != common.StatusInterval {
		t.Errorf("StatusInterval = %v, want %v", again.Engine.StatusInterval, common.StatusInterval)
	}
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bus: system
engine:
  binary: /usr/sbin/openvpn
  status_interval: 2s
permission:
  mode: terminal
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Bus != common.BusSystem {
		t.Errorf("Bus = %q, want system", cfg.Bus)
	}
	if cfg.Engine.Binary != "/usr/sbin/openvpn" {
		t.Errorf("Engine.Binary = %q", cfg.Engine.Binary)
	}
	if cfg.Engine.StatusInterval != 2*time.Second {
		t.Errorf("StatusInterval = %v, want 2s", cfg.Engine.StatusInterval)
	}
	if cfg.Permission.Mode != common.PermissionTerminal {
		t.Errorf("Permission.Mode = %q, want terminal", cfg.Permission.Mode)
	}
	if cfg.Creator != common.AppID {
		t.Errorf("Creator = %q, want default %q", cfg.Creator, common.AppID)
	}
}

func TestLoadFrom_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("theme: dark\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFrom(path)
	if !errors.Is(err, common.ErrConfigLoad) {
		t.Errorf("LoadFrom() error = %v, want ErrConfigLoad", err)
	}
}

func TestValidate_FallsBackOnInvalidValues(t *testing.T) {
	cfg := &Config{
		Bus:        "carrier-pigeon",
		Permission: PermissionConfig{Mode: "ask-nicely"},
		Engine:     EngineConfig{StatusInterval: -time.Second, Verbosity: 42},
	}

	cfg.validate()

	if cfg.Bus != common.BusSession {
		t.Errorf("Bus = %q, want session", cfg.Bus)
	}
	if cfg.Permission.Mode != common.PermissionAuto {
		t.Errorf("Permission.Mode = %q, want auto", cfg.Permission.Mode)
	}
	if cfg.Engine.StatusInterval != common.StatusInterval {
		t.Errorf("StatusInterval = %v", cfg.Engine.StatusInterval)
	}
	if cfg.Engine.Verbosity != 3 {
		t.Errorf("Verbosity = %d, want 3", cfg.Engine.Verbosity)
	}
	if cfg.Engine.Binary != "openvpn" {
		t.Errorf("Binary = %q, want openvpn", cfg.Engine.Binary)
	}
}

func TestHistoryPath_Override(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History.Path = "/tmp/custom.db"

	path, err := cfg.HistoryPath()
	if err != nil {
		t.Fatalf("HistoryPath() error = %v", err)
	}
	if path != "/tmp/custom.db" {
		t.Errorf("HistoryPath() = %q", path)
	}
}
