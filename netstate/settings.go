package netstate

import (
	"fmt"
	"os/exec"

	"github.com/yllada/vpn-session/common"
)

// settingsCandidates are tried in order when no command is configured.
var settingsCandidates = [][]string{
	{"gnome-control-center", "network"},
	{"nm-connection-editor"},
	{"systemsettings", "kcm_networkmanagement"},
}

// Settings opens the desktop's VPN settings panel and implements
// session.HostSettings.
type Settings struct {
	// Command overrides the candidate list when set.
	Command []string

	lookPath func(string) (string, error)
}

// NewSettings creates a settings opener. An empty command selects the
// first available candidate.
func NewSettings(command []string) *Settings {
	return &Settings{Command: command, lookPath: exec.LookPath}
}

// resolve returns the command line to run.
func (s *Settings) resolve() ([]string, error) {
	lookPath := s.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	candidates := settingsCandidates
	if len(s.Command) > 0 {
		candidates = [][]string{s.Command}
	}
	for _, c := range candidates {
		if _, err := lookPath(c[0]); err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no network settings application found", common.ErrNotImplemented)
}

// OpenVPNSettings launches the settings application without waiting for it.
func (s *Settings) OpenVPNSettings() error {
	argv, err := s.resolve()
	if err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open network settings: %w", err)
	}
	common.LogInfo("Opened network settings: %v", argv)
	go cmd.Wait()
	return nil
}
