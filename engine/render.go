package engine

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// launchFiles are the runtime files backing one engine process.
type launchFiles struct {
	dir        string
	configPath string
	credPath   string
	statusPath string
}

func newLaunchFiles(dir string) launchFiles {
	return launchFiles{
		dir:        dir,
		configPath: filepath.Join(dir, common.ActiveProfileName),
		credPath:   filepath.Join(dir, "auth"),
		statusPath: filepath.Join(dir, common.StatusFileName),
	}
}

// renderProfile builds the configuration text handed to OpenVPN.
// credPath is used for auth-user-pass when the profile carries a username.
func renderProfile(p *session.Profile, credPath string) (string, error) {
	if p.Parsed == nil {
		return "", fmt.Errorf("profile %q has no parsed configuration", p.Name)
	}
	cfg := p.Parsed.Clone()

	// The engine owns the status file and log verbosity.
	cfg.Remove("status")
	cfg.Remove("log")
	cfg.Remove("log-append")

	if p.Username != "" {
		cfg.Set("auth-user-pass", credPath)
		cfg.Set("auth-nocache")
	}

	if p.OverrideDNS {
		cfg.Remove("dhcp-option")
		cfg.Add("dhcp-option", "DNS", p.DNS1)
		cfg.Add("dhcp-option", "DNS", p.DNS2)
	}

	if p.AllowBypass {
		for _, entry := range p.Bypass {
			network, netmask := parseRouteForOpenVPN(entry)
			if network == "" {
				common.LogWarn("Engine: bypass entry %q is not an address, ignored", entry)
				continue
			}
			cfg.Add("route", network, netmask, "net_gateway")
		}
	}

	if p.Creator != "" {
		cfg.Set("setenv", "IV_GUI_VER", p.Creator)
	}

	return cfg.String(), nil
}

// writeLaunchFiles writes the rendered profile and credentials with
// owner-only permissions.
func writeLaunchFiles(files launchFiles, p *session.Profile) error {
	if err := os.MkdirAll(files.dir, 0700); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}

	text, err := renderProfile(p, files.credPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(files.configPath, []byte(text), 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	if p.Username != "" {
		content := fmt.Sprintf("%s\n%s\n", p.Username, p.Password)
		if err := os.WriteFile(files.credPath, []byte(content), 0600); err != nil {
			return fmt.Errorf("failed to write credentials: %w", err)
		}
	}

	_ = os.Remove(files.statusPath)
	return nil
}

// removeCredentials deletes the credentials file, if any.
func (f launchFiles) removeCredentials() {
	if err := os.Remove(f.credPath); err == nil {
		common.LogDebug("Engine: credentials file deleted")
	}
}

// parseRouteForOpenVPN converts a CIDR route to network/netmask format for OpenVPN.
// Examples:
//   - "192.168.1.0/24" -> "192.168.1.0", "255.255.255.0"
//   - "10.0.0.1" -> "10.0.0.1", "255.255.255.255"
func parseRouteForOpenVPN(route string) (network, netmask string) {
	route = strings.TrimSpace(route)
	if route == "" {
		return "", ""
	}

	if strings.Contains(route, "/") {
		_, ipNet, err := net.ParseCIDR(route)
		if err != nil || ipNet.IP.To4() == nil {
			return "", ""
		}
		mask := ipNet.Mask
		return ipNet.IP.String(), fmt.Sprintf("%d.%d.%d.%d", mask[0], mask[1], mask[2], mask[3])
	}

	if ip := net.ParseIP(route); ip != nil && ip.To4() != nil {
		return route, "255.255.255.255"
	}
	return "", ""
}

// checkProfile validates a profile for launch with this engine.
func checkProfile(p *session.Profile) error {
	if p == nil || p.Parsed == nil {
		return fmt.Errorf("no parsed configuration")
	}
	if err := p.Parsed.Check(); err != nil {
		return err
	}
	if p.Parsed.NeedsCredentials() && p.Username == "" {
		return fmt.Errorf("profile requires a username")
	}
	return nil
}
