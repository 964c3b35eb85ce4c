package tray

import (
	"os/exec"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// NotificationType represents the type of notification.
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification is one desktop notification.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

// DesktopNotifier shows notifications with notify-send.
type DesktopNotifier struct {
	// run executes the notifier command; replaced in tests.
	run func(name string, args ...string) error
}

var _ common.Notifier = (*DesktopNotifier)(nil)

// NewDesktopNotifier creates a notifier backed by notify-send.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Notify sends an informational notification.
func (d *DesktopNotifier) Notify(title, message string) error {
	return d.Show(Notification{Title: title, Message: message, Type: NotificationInfo})
}

// NotifyWithIcon sends a notification with a custom icon.
func (d *DesktopNotifier) NotifyWithIcon(title, message, icon string) error {
	return d.Show(Notification{Title: title, Message: message, Type: NotificationInfo, Icon: icon})
}

// Show displays n.
func (d *DesktopNotifier) Show(n Notification) error {
	icon := n.Icon
	if icon == "" {
		switch n.Type {
		case NotificationWarning:
			icon = "dialog-warning"
		case NotificationError:
			icon = "dialog-error"
		default:
			icon = "network-vpn"
		}
	}

	urgency := "low"
	switch n.Type {
	case NotificationError:
		urgency = "critical"
	case NotificationWarning:
		urgency = "normal"
	}

	err := d.run("notify-send",
		"--app-name="+common.AppName,
		"--icon="+icon,
		"--urgency="+urgency,
		n.Title,
		n.Message,
	)
	if err != nil {
		common.LogDebug("notify-send failed: %v", err)
	}
	return err
}

// transitionNotice picks the notification, if any, for a stage change.
func transitionNotice(prev, next session.Stage) (Notification, bool) {
	switch next {
	case session.StageConnected:
		if prev == session.StageConnected {
			return Notification{}, false
		}
		return Notification{
			Title:   "VPN Connected",
			Message: "The tunnel is up",
			Type:    NotificationSuccess,
			Icon:    "network-vpn",
		}, true
	case session.StageReconnecting:
		return Notification{
			Title:   "VPN Reconnecting",
			Message: "The tunnel dropped and is being re-established",
			Type:    NotificationWarning,
			Icon:    "network-vpn-acquiring",
		}, true
	case session.StageDisconnected:
		if prev != session.StageConnected && prev != session.StageReconnecting {
			return Notification{}, false
		}
		return Notification{
			Title:   "VPN Disconnected",
			Message: "The tunnel is down",
			Type:    NotificationInfo,
			Icon:    "network-vpn-disconnected",
		}, true
	case session.StageDenied:
		return Notification{
			Title:   "Connection Refused",
			Message: "Permission to start the VPN was denied",
			Type:    NotificationError,
			Icon:    "network-vpn-error",
		}, true
	case session.StageNoNetwork:
		return Notification{
			Title:   "No Network",
			Message: "Connect to a network before starting the VPN",
			Type:    NotificationWarning,
		}, true
	}
	return Notification{}, false
}
