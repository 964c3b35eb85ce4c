package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/ovpn"
)

// Params are the raw connection parameters supplied with a start command.
type Params struct {
	Config   string
	Name     string
	Username string
	Password string
	DNS1     string
	DNS2     string
	Bypass   []string
}

// blank reports whether the mandatory fields are missing.
func (p Params) blank() bool {
	return strings.TrimSpace(p.Config) == "" || strings.TrimSpace(p.Name) == ""
}

// Profile is a validated, ready-to-launch connection profile.
// It is built once per attempt and is not modified afterwards;
// Stamp returns a copy for the engine.
type Profile struct {
	Name     string
	Config   string
	Parsed   *ovpn.Config
	Username string
	Password string
	DNS1     string
	DNS2     string
	Bypass   []string

	// OverrideDNS is set when the DNS pair differs from the defaults.
	OverrideDNS bool
	// AllowBypass is set when any application bypasses the tunnel.
	AllowBypass bool

	// Creator identifies the launching application. Empty until stamped.
	Creator string
}

// Stamp returns a launch copy of the profile carrying the creator identity.
func (p *Profile) Stamp(creator string) *Profile {
	stamped := *p
	stamped.Creator = creator
	stamped.Bypass = append([]string(nil), p.Bypass...)
	if p.Parsed != nil {
		stamped.Parsed = p.Parsed.Clone()
	}
	return &stamped
}

// String describes the profile without credentials.
func (p *Profile) String() string {
	return fmt.Sprintf("%s (user=%q dns=%s,%s override=%v bypass=%d)",
		p.Name, p.Username, p.DNS1, p.DNS2, p.OverrideDNS, len(p.Bypass))
}

// ConfigParser parses raw configuration text.
type ConfigParser interface {
	Parse(r io.Reader) (*ovpn.Config, error)
}

// ProfileBuilder validates parameters and produces profiles.
type ProfileBuilder struct {
	parser      ConfigParser
	defaultDNS1 string
	defaultDNS2 string
}

// NewProfileBuilder creates a builder. Empty default DNS values fall back
// to common.DefaultDNS1 and common.DefaultDNS2.
func NewProfileBuilder(parser ConfigParser, dns1, dns2 string) *ProfileBuilder {
	if parser == nil {
		parser = ovpn.Parser{}
	}
	if dns1 == "" {
		dns1 = common.DefaultDNS1
	}
	if dns2 == "" {
		dns2 = common.DefaultDNS2
	}
	return &ProfileBuilder{parser: parser, defaultDNS1: dns1, defaultDNS2: dns2}
}

// Build parses the configuration text and fills in defaults.
func (b *ProfileBuilder) Build(p Params) (*Profile, error) {
	if p.blank() {
		return nil, fmt.Errorf("%w: config and name are required", ErrInvalidConfig)
	}

	parsed, err := b.parser.Parse(strings.NewReader(p.Config))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	dns1 := strings.TrimSpace(p.DNS1)
	if dns1 == "" {
		dns1 = b.defaultDNS1
	}
	dns2 := strings.TrimSpace(p.DNS2)
	if dns2 == "" {
		dns2 = b.defaultDNS2
	}

	bypass := common.CleanList(p.Bypass)

	return &Profile{
		Name:        strings.TrimSpace(p.Name),
		Config:      p.Config,
		Parsed:      parsed,
		Username:    p.Username,
		Password:    p.Password,
		DNS1:        dns1,
		DNS2:        dns2,
		Bypass:      bypass,
		OverrideDNS: dns1 != "" && dns2 != "" && (dns1 != b.defaultDNS1 || dns2 != b.defaultDNS2),
		AllowBypass: len(bypass) > 0,
	}, nil
}
