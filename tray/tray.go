// Package tray provides a system tray indicator that follows a running
// daemon's Stage and Status streams and offers quick actions.
package tray

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fyne.io/systray"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/dbusapi"
	"github.com/yllada/vpn-session/session"
)

// Daemon is the part of the D-Bus client used by the indicator.
type Daemon interface {
	Stage() (session.Stage, error)
	Stop() error
	Refresh() error
	KillSwitch() error
	ResolvePermission(attempt uint64, granted bool) error
	Watch(ctx context.Context, streams dbusapi.Streams, fn func(dbusapi.Event)) error
}

// Indicator manages the system tray icon and menu.
type Indicator struct {
	daemon   Daemon
	notifier *DesktopNotifier
	notify   bool

	mu      sync.Mutex
	stage   session.Stage
	status  session.Status
	pending uint64 // attempt awaiting permission, 0 when none

	statusItem     *systray.MenuItem
	trafficItem    *systray.MenuItem
	allowItem      *systray.MenuItem
	denyItem       *systray.MenuItem
	disconnectItem *systray.MenuItem
}

// New creates an indicator for daemon. Notifications are shown on stage
// changes when notify is set.
func New(daemon Daemon, notify bool) *Indicator {
	return &Indicator{
		daemon:   daemon,
		notifier: NewDesktopNotifier(),
		notify:   notify,
		stage:    session.StageIdle,
	}
}

// Run shows the indicator and blocks until the user quits or ctx is done.
func (t *Indicator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() { t.onReady(ctx, cancel) }, func() {
		common.LogInfo("Tray indicator closed")
	})
}

func (t *Indicator) onReady(ctx context.Context, quit context.CancelFunc) {
	systray.SetTitle(common.AppName)

	t.statusItem = systray.AddMenuItem("", "Current VPN stage")
	t.statusItem.Disable()
	t.trafficItem = systray.AddMenuItem("", "Tunnel traffic")
	t.trafficItem.Disable()

	systray.AddSeparator()

	t.allowItem = systray.AddMenuItem("Allow connection", "Grant permission to start the VPN")
	t.denyItem = systray.AddMenuItem("Deny connection", "Refuse permission to start the VPN")
	t.disconnectItem = systray.AddMenuItem("Disconnect", "Stop the VPN")
	refreshItem := systray.AddMenuItem("Refresh", "Ask the engine for its current stage")
	killItem := systray.AddMenuItem("Kill switch settings", "Open the system VPN settings")

	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Close the indicator")

	go t.clicks(ctx, t.allowItem, func() error { return t.answer(true) })
	go t.clicks(ctx, t.denyItem, func() error { return t.answer(false) })
	go t.clicks(ctx, t.disconnectItem, t.daemon.Stop)
	go t.clicks(ctx, refreshItem, t.daemon.Refresh)
	go t.clicks(ctx, killItem, t.daemon.KillSwitch)
	go func() {
		select {
		case <-quitItem.ClickedCh:
			quit()
		case <-ctx.Done():
		}
	}()

	if st, err := t.daemon.Stage(); err == nil {
		t.mu.Lock()
		t.stage = st
		t.mu.Unlock()
	}
	t.render()

	go t.watch(ctx, quit)
}

// clicks runs action for every click on item.
func (t *Indicator) clicks(ctx context.Context, item *systray.MenuItem, action func() error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-item.ClickedCh:
			if err := action(); err != nil {
				common.LogWarn("Tray action failed: %v", err)
				if t.notify {
					t.notifier.Show(Notification{Title: "VPN Error", Message: err.Error(), Type: NotificationError})
				}
			}
		}
	}
}

func (t *Indicator) watch(ctx context.Context, quit context.CancelFunc) {
	err := t.daemon.Watch(ctx, dbusapi.Streams{Stage: true, Status: true}, t.handle)
	switch {
	case err == nil:
	case errors.Is(err, dbusapi.ErrStreamEnded):
		common.LogInfo("Another client took over the session streams")
	default:
		common.LogError("Lost connection to the daemon: %v", err)
	}
	quit()
}

// handle applies one daemon event and refreshes the menu.
func (t *Indicator) handle(ev dbusapi.Event) {
	notice, show, changed := t.apply(ev)
	if !changed {
		return
	}
	t.render()
	if show && t.notify {
		t.notifier.Show(notice)
	}
}

// apply updates the indicator state and returns the notification the
// event calls for.
func (t *Indicator) apply(ev dbusapi.Event) (notice Notification, show, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case dbusapi.EventStage:
		notice, show = transitionNotice(t.stage, ev.Stage)
		t.stage = ev.Stage
		if ev.Stage != session.StageAwaitingPermission {
			t.pending = 0
		}
	case dbusapi.EventStatus:
		t.status = ev.Status
	case dbusapi.EventPermissionRequested:
		t.pending = ev.Attempt
	default:
		return Notification{}, false, false
	}
	return notice, show, true
}

func (t *Indicator) answer(granted bool) error {
	t.mu.Lock()
	attempt := t.pending
	t.pending = 0
	t.mu.Unlock()
	if attempt == 0 {
		return nil
	}
	return t.daemon.ResolvePermission(attempt, granted)
}

// menuState is what the indicator shows for a snapshot.
type menuState struct {
	icon       iconKind
	title      string
	tooltip    string
	traffic    string
	showPermit bool
	canStop    bool
}

func viewFor(st session.Stage, status session.Status, pending uint64) menuState {
	m := menuState{
		icon:    iconFor(st),
		title:   "○  " + stageLabel(st),
		tooltip: fmt.Sprintf("%s - %s", common.AppName, stageLabel(st)),
	}
	switch m.icon {
	case iconConnected:
		m.title = "●  " + stageLabel(st)
		m.canStop = true
	case iconBusy:
		m.title = "⟳  " + stageLabel(st)
		m.canStop = true
	}
	if st == session.StageConnected || (!status.IsZero() && m.icon != iconDisconnected) {
		m.traffic = fmt.Sprintf("    ⏱ %s  ↓ %s  ↑ %s",
			session.FormatDuration(status.Duration),
			common.FormatBytes(status.ByteIn), common.FormatBytes(status.ByteOut))
	}
	m.showPermit = pending != 0 && st == session.StageAwaitingPermission
	return m
}

func (t *Indicator) render() {
	t.mu.Lock()
	m := viewFor(t.stage, t.status, t.pending)
	t.mu.Unlock()

	systray.SetIcon(icons[m.icon])
	systray.SetTooltip(m.tooltip)
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle(m.title)
	if m.traffic != "" {
		t.trafficItem.SetTitle(m.traffic)
		t.trafficItem.Show()
	} else {
		t.trafficItem.Hide()
	}
	setVisible(t.allowItem, m.showPermit)
	setVisible(t.denyItem, m.showPermit)
	setVisible(t.disconnectItem, m.canStop)
}

func setVisible(item *systray.MenuItem, visible bool) {
	if visible {
		item.Show()
	} else {
		item.Hide()
	}
}

var stageLabels = map[session.Stage]string{
	session.StageIdle:               "Not Connected",
	session.StageNoNetwork:          "No Network",
	session.StagePreparing:          "Preparing",
	session.StageAwaitingPermission: "Waiting for Permission",
	session.StageDenied:             "Permission Denied",
	session.StageConnecting:         "Connecting",
	session.StageAuthenticating:     "Authenticating",
	session.StageWaitConnection:     "Waiting for Server",
	session.StageConnected:          "Connected",
	session.StageReconnecting:       "Reconnecting",
	session.StageDisconnected:       "Disconnected",
}

func stageLabel(st session.Stage) string {
	if l, ok := stageLabels[st]; ok {
		return l
	}
	return st.String()
}
