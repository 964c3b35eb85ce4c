package ovpn

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Profile check errors. The engine reports these before launching.
var (
	ErrNoRemote        = errors.New("no remote server configured")
	ErrNoCA            = errors.New("no CA certificate configured")
	ErrUnsafeDirective = errors.New("directive not allowed in launched profiles")
	ErrServerMode      = errors.New("server configurations cannot be launched as a client")
)

// unsafeDirectives run external programs or load code with engine privileges.
var unsafeDirectives = []string{
	"up", "down", "route-up", "route-pre-down", "ipchange", "tls-verify",
	"client-connect", "client-disconnect", "learn-address",
	"auth-user-pass-verify", "plugin", "script-security",
}

// Remote is a server endpoint from a "remote" directive.
type Remote struct {
	Host  string
	Port  string
	Proto string
}

// Get returns the last directive with the given name.
func (c *Config) Get(name string) (Directive, bool) {
	for i := len(c.Directives) - 1; i >= 0; i-- {
		if c.Directives[i].Name == name {
			return c.Directives[i], true
		}
	}
	return Directive{}, false
}

// Has reports whether a directive or inline block with the name exists.
func (c *Config) Has(name string) bool {
	if _, ok := c.Get(name); ok {
		return true
	}
	_, ok := c.Inline[name]
	return ok
}

// All returns every directive with the given name, in file order.
func (c *Config) All(name string) []Directive {
	var result []Directive
	for _, d := range c.Directives {
		if d.Name == name {
			result = append(result, d)
		}
	}
	return result
}

// Remotes returns the configured server endpoints.
func (c *Config) Remotes() []Remote {
	defaultPort := "1194"
	if d, ok := c.Get("port"); ok && len(d.Args) > 0 {
		defaultPort = d.Args[0]
	}
	defaultProto := "udp"
	if d, ok := c.Get("proto"); ok && len(d.Args) > 0 {
		defaultProto = d.Args[0]
	}

	var remotes []Remote
	for _, d := range c.All("remote") {
		if len(d.Args) == 0 {
			continue
		}
		r := Remote{Host: d.Args[0], Port: defaultPort, Proto: defaultProto}
		if len(d.Args) > 1 {
			r.Port = d.Args[1]
		}
		if len(d.Args) > 2 {
			r.Proto = d.Args[2]
		}
		remotes = append(remotes, r)
	}
	return remotes
}

// NeedsCredentials reports whether the profile asks for username/password
// interactively (auth-user-pass without a file argument).
func (c *Config) NeedsCredentials() bool {
	d, ok := c.Get("auth-user-pass")
	return ok && len(d.Args) == 0
}

// Check validates that the configuration can be launched as a client.
func (c *Config) Check() error {
	if c.Has("server") || c.Has("mode") {
		return ErrServerMode
	}
	for _, d := range c.Directives {
		for _, unsafe := range unsafeDirectives {
			if d.Name == unsafe {
				return fmt.Errorf("%w: %s (line %d)", ErrUnsafeDirective, d.Name, d.Line)
			}
		}
	}
	if len(c.Remotes()) == 0 {
		return ErrNoRemote
	}
	if !c.Has("ca") && !c.Has("pkcs12") {
		return ErrNoCA
	}
	return nil
}

// Clone returns a deep copy that can be modified independently.
func (c *Config) Clone() *Config {
	clone := &Config{
		Directives:  make([]Directive, len(c.Directives)),
		Inline:      make(map[string]string, len(c.Inline)),
		InlineOrder: append([]string(nil), c.InlineOrder...),
	}
	for i, d := range c.Directives {
		clone.Directives[i] = Directive{Name: d.Name, Args: append([]string(nil), d.Args...), Line: d.Line}
	}
	for k, v := range c.Inline {
		clone.Inline[k] = v
	}
	return clone
}

// Set replaces every directive named name with a single one.
func (c *Config) Set(name string, args ...string) {
	c.Remove(name)
	c.Add(name, args...)
}

// Add appends a directive.
func (c *Config) Add(name string, args ...string) {
	c.Directives = append(c.Directives, Directive{Name: name, Args: args})
}

// Remove deletes every directive named name.
func (c *Config) Remove(name string) {
	kept := c.Directives[:0]
	for _, d := range c.Directives {
		if d.Name != name {
			kept = append(kept, d)
		}
	}
	c.Directives = kept
}

// Render writes the configuration in OpenVPN syntax.
func (c *Config) Render(w io.Writer) error {
	var b strings.Builder
	for _, d := range c.Directives {
		b.WriteString(d.Name)
		for _, arg := range d.Args {
			b.WriteByte(' ')
			b.WriteString(quoteArg(arg))
		}
		b.WriteByte('\n')
	}
	for _, tag := range c.InlineOrder {
		body, ok := c.Inline[tag]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "<%s>\n%s", tag, body)
		if !strings.HasSuffix(body, "\n") && body != "" {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "</%s>\n", tag)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// String renders the configuration to a string.
func (c *Config) String() string {
	var b strings.Builder
	c.Render(&b)
	return b.String()
}

func quoteArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"'\\#;") {
		return arg
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(arg)
	return `"` + escaped + `"`
}
