// Package watch implements a terminal dashboard that follows a running
// daemon's Stage and Status streams.
package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/dbusapi"
	"github.com/yllada/vpn-session/session"
)

// Daemon is the part of the D-Bus client the dashboard drives.
type Daemon interface {
	Stage() (session.Stage, error)
	Status() (session.Status, error)
	Stop() error
	Refresh() error
	RefreshStatus() error
	KillSwitch() error
	ResolvePermission(attempt uint64, granted bool) error
	Watch(ctx context.Context, streams dbusapi.Streams, fn func(dbusapi.Event)) error
}

type eventMsg dbusapi.Event

type watchDoneMsg struct{ err error }

type actionDoneMsg struct {
	name string
	err  error
}

type keyMap struct {
	Quit       key.Binding
	Disconnect key.Binding
	Refresh    key.Binding
	Stats      key.Binding
	Allow      key.Binding
	Deny       key.Binding
	KillSwitch key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
		Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
		Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Stats:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stats")),
		Allow:      key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "allow")),
		Deny:       key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "deny")),
		KillSwitch: key.NewBinding(key.WithKeys("k"), key.WithHelp("k", "kill switch")),
	}
}

// Model is the dashboard state.
type Model struct {
	daemon  Daemon
	events  <-chan tea.Msg
	keys    keyMap
	styles  styles
	spinner spinner.Model

	stage   session.Stage
	status  session.Status
	pending uint64
	notice  string
	err     error
	done    bool
}

// NewModel creates a dashboard fed by events.
func NewModel(daemon Daemon, events <-chan tea.Msg, stage session.Stage, status session.Status) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	return Model{
		daemon:  daemon,
		events:  events,
		keys:    defaultKeyMap(),
		styles:  defaultStyles(),
		spinner: sp,
		stage:   stage,
		status:  status,
	}
}

// Err returns why the stream ended, if it did abnormally.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return watchDoneMsg{}
		}
		return msg
	}
}

func (m Model) action(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{name: name, err: fn()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.apply(dbusapi.Event(msg))
		return m, waitForEvent(m.events)

	case watchDoneMsg:
		m.done = true
		m.err = msg.err
		if errors.Is(msg.err, dbusapi.ErrStreamEnded) {
			m.notice = "Another client took over the session streams"
			m.err = nil
		}
		return m, tea.Quit

	case actionDoneMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.name, msg.err)
		} else {
			m.notice = msg.name + " sent"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev dbusapi.Event) {
	switch ev.Kind {
	case dbusapi.EventStage:
		m.stage = ev.Stage
		if ev.Stage != session.StageAwaitingPermission {
			m.pending = 0
		}
	case dbusapi.EventStatus:
		m.status = ev.Status
	case dbusapi.EventPermissionRequested:
		m.pending = ev.Attempt
	case dbusapi.EventStreamEnded:
		m.notice = fmt.Sprintf("%s stream taken over by another client", ev.Stream)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.done = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Disconnect):
		return m, m.action("Disconnect", m.daemon.Stop)
	case key.Matches(msg, m.keys.Refresh):
		return m, m.action("Refresh", m.daemon.Refresh)
	case key.Matches(msg, m.keys.Stats):
		return m, m.action("Stats refresh", m.daemon.RefreshStatus)
	case key.Matches(msg, m.keys.KillSwitch):
		return m, m.action("Kill switch", m.daemon.KillSwitch)
	case key.Matches(msg, m.keys.Allow), key.Matches(msg, m.keys.Deny):
		if m.pending == 0 {
			return m, nil
		}
		attempt, granted := m.pending, key.Matches(msg, m.keys.Allow)
		m.pending = 0
		name := "Deny"
		if granted {
			name = "Allow"
		}
		return m, m.action(name, func() error { return m.daemon.ResolvePermission(attempt, granted) })
	}
	return m, nil
}

func (m Model) View() string {
	if m.done {
		return ""
	}
	s := m.styles
	var b strings.Builder

	b.WriteString(s.title.Render(common.AppName))
	b.WriteString("\n\n")

	badge := s.badge(m.stage).Render(m.stage.String())
	if inProgress(m.stage) {
		badge = m.spinner.View() + " " + badge
	}
	b.WriteString(s.label.Render("Stage") + badge + "\n")
	b.WriteString(s.label.Render("Duration") + s.value.Render(session.FormatDuration(m.status.Duration)) + "\n")
	b.WriteString(s.label.Render("Last packet") + s.value.Render(lastPacket(m.status.LastPacketReceive)) + "\n")
	b.WriteString(s.label.Render("Received") + s.value.Render(common.FormatBytes(m.status.ByteIn)) + "\n")
	b.WriteString(s.label.Render("Sent") + s.value.Render(common.FormatBytes(m.status.ByteOut)) + "\n")

	if m.pending != 0 {
		b.WriteString("\n" + s.alert.Render(fmt.Sprintf("Attempt %d is waiting for permission: y to allow, n to deny", m.pending)) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n" + s.hint.Render(m.notice) + "\n")
	}

	b.WriteString("\n" + s.hint.Render(m.helpLine()))
	return s.frame.Render(b.String()) + "\n"
}

func (m Model) helpLine() string {
	bindings := []key.Binding{m.keys.Disconnect, m.keys.Refresh, m.keys.Stats, m.keys.KillSwitch, m.keys.Quit}
	if m.pending != 0 {
		bindings = append([]key.Binding{m.keys.Allow, m.keys.Deny}, bindings...)
	}
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

func lastPacket(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%ds ago", int64(d/time.Second))
}

// Run shows the dashboard until the user quits, ctx is done or the daemon
// goes away.
func Run(ctx context.Context, daemon Daemon) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stage, err := daemon.Stage()
	if err != nil {
		return err
	}
	status, err := daemon.Status()
	if err != nil {
		return err
	}

	events := make(chan tea.Msg, 16)
	go func() {
		err := daemon.Watch(ctx, dbusapi.Streams{Stage: true, Status: true}, func(ev dbusapi.Event) {
			select {
			case events <- eventMsg(ev):
			case <-ctx.Done():
			}
		})
		select {
		case events <- watchDoneMsg{err: err}:
		case <-ctx.Done():
		}
	}()

	program := tea.NewProgram(NewModel(daemon, events, stage, status), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	if m, ok := final.(Model); ok {
		return m.Err()
	}
	return nil
}
