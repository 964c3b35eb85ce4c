// Package cli provides the command-line front end for the session daemon.
// Every command talks to a running daemon over D-Bus; history is read
// directly from the local journal.
package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/history"
	"github.com/yllada/vpn-session/session"
)

// Daemon is the part of the D-Bus client used by the CLI.
type Daemon interface {
	Start(p session.Params) error
	Stop() error
	Refresh() error
	RefreshStatus() error
	KillSwitch() error
	Stage() (session.Stage, error)
	Status() (session.Status, error)
	ResolvePermission(attempt uint64, granted bool) error
	PendingAttempt() (uint64, bool, error)
}

// Journal is the read side of the attempt history.
type Journal interface {
	Recent(limit int) ([]history.Attempt, error)
	Events(attemptID string) ([]history.Event, error)
}

// CLI represents the command-line interface.
type CLI struct {
	daemon Daemon
	out    io.Writer

	// PollInterval and Timeout control how Connect waits for the outcome.
	PollInterval time.Duration
	Timeout      time.Duration
}

// New creates a CLI that prints to out.
func New(daemon Daemon, out io.Writer) *CLI {
	return &CLI{
		daemon:       daemon,
		out:          out,
		PollInterval: 500 * time.Millisecond,
		Timeout:      common.ConnectTimeout,
	}
}

// settled reports stages a connection attempt ends in.
func settled(st session.Stage) bool {
	switch st {
	case session.StageConnected, session.StageDenied, session.StageNoNetwork, session.StageDisconnected:
		return true
	}
	return false
}

// Connect starts an attempt and, when wait is set, follows it until it
// settles.
func (c *CLI) Connect(p session.Params, wait bool) error {
	fmt.Fprintf(c.out, "Connecting to %s...\n", p.Name)

	if err := c.daemon.Start(p); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	if !wait {
		return nil
	}

	timeout := time.After(c.Timeout)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	hinted := false
	for {
		st, err := c.daemon.Stage()
		if err != nil {
			return err
		}
		switch {
		case st == session.StageConnected:
			fmt.Fprintf(c.out, "✓ Connected to %s\n", p.Name)
			return nil
		case st == session.StageAwaitingPermission && !hinted:
			if attempt, ok, err := c.daemon.PendingAttempt(); err == nil && ok {
				fmt.Fprintf(c.out, "Waiting for permission. Answer with: vpn-session permit -attempt %d [-deny]\n", attempt)
			}
			hinted = true
		case st == session.StageDenied:
			return fmt.Errorf("connection failed: %w", common.ErrPermissionDenied)
		case st == session.StageNoNetwork:
			return errors.New("connection failed: network unreachable")
		case settled(st):
			return fmt.Errorf("connection failed: session ended in %s", st)
		}

		select {
		case <-timeout:
			return fmt.Errorf("connection timed out in stage %s", st)
		case <-ticker.C:
		}
	}
}

// Disconnect stops the session.
func (c *CLI) Disconnect() error {
	if err := c.daemon.Stop(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	fmt.Fprintln(c.out, "✓ Disconnected")
	return nil
}

// Stage prints the current stage.
func (c *CLI) Stage() error {
	st, err := c.daemon.Stage()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, st)
	return nil
}

// Refresh asks the daemon to republish the engine's stage.
func (c *CLI) Refresh() error {
	return c.daemon.Refresh()
}

// Status shows the current stage and telemetry.
func (c *CLI) Status() error {
	st, err := c.daemon.Stage()
	if err != nil {
		return err
	}
	if err := c.daemon.RefreshStatus(); err != nil {
		common.LogDebug("RefreshStatus: %v", err)
	}
	status, err := c.daemon.Status()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tUPTIME\tLAST PACKET\tRECEIVED\tSENT")
	fmt.Fprintln(w, "-----\t------\t-----------\t--------\t----")

	uptime, last := "-", "-"
	if !status.IsZero() {
		uptime = formatDuration(status.Duration)
		last = formatDuration(status.LastPacketReceive) + " ago"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		st, uptime, last, common.FormatBytes(status.ByteIn), common.FormatBytes(status.ByteOut))
	return w.Flush()
}

// KillSwitch opens the host VPN settings.
func (c *CLI) KillSwitch() error {
	if err := c.daemon.KillSwitch(); err != nil {
		if errors.Is(err, common.ErrNotImplemented) {
			return errors.New("no VPN settings tool is available on this system")
		}
		return err
	}
	return nil
}

// Permit answers a pending permission request. Attempt 0 selects the
// pending one.
func (c *CLI) Permit(attempt uint64, granted bool) error {
	if attempt == 0 {
		pending, ok, err := c.daemon.PendingAttempt()
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrNoPendingAttempt
		}
		attempt = pending
	}

	err := c.daemon.ResolvePermission(attempt, granted)
	switch {
	case err == nil:
	case !granted && errors.Is(err, common.ErrPermissionDenied):
		// Denying reports the denial back; that is the expected outcome.
	default:
		return err
	}

	verdict := "denied"
	if granted {
		verdict = "granted"
	}
	fmt.Fprintf(c.out, "Permission %s for attempt %d\n", verdict, attempt)
	return nil
}

// History lists recent attempts. With verbose set, each attempt's stage
// transitions follow it.
func (c *CLI) History(j Journal, limit int, verbose bool) error {
	attempts, err := j.Recent(limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(c.out, "No connection attempts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROFILE\tSTARTED\tLAST STAGE\tERROR")
	fmt.Fprintln(w, "--\t-------\t-------\t----------\t-----")

	for _, a := range attempts {
		shortID := a.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		lastStage, errText := a.LastStage, a.Error
		if lastStage == "" {
			lastStage = "-"
		}
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID, a.Profile, a.StartedAt.Local().Format("2006-01-02 15:04:05"), lastStage, errText)

		if !verbose {
			continue
		}
		events, err := j.Events(a.ID)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Fprintf(w, "\t\t  +%s\t%s\t\n", formatDuration(ev.At.Sub(a.StartedAt)), ev.Stage)
		}
	}
	return w.Flush()
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, `VPN Session - OpenVPN session controller

Usage:
  vpn-session [global options] <command> [options]

Global options:
  -config PATH      Use an alternate configuration file
  -verbose          Enable debug logging
  -version          Show version and exit

Commands:
  daemon            Run the session daemon on D-Bus
  connect           Start a connection (-config FILE -name NAME ...)
  disconnect        Stop the current session
  stage             Print the current stage
  refresh           Republish the engine's stage
  status            Show stage and traffic counters
  kill-switch       Open the system VPN settings
  permit            Answer a permission request (-attempt N, -deny)
  watch             Follow the session in a terminal dashboard
  tray              Show the system tray indicator
  history           List recent connection attempts (-n N, -v)

Examples:
  vpn-session daemon &
  vpn-session connect -config work.ovpn -name work -username alice
  vpn-session watch
  vpn-session disconnect

Notes:
  - Passwords given with -save-password are kept in the system keyring
  - Run "vpn-session <command> -h" for command options`)
}
