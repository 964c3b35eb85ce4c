// Package common provides shared constants, types, and utilities
// used across the VPN session controller.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.vpnsession.app"
	// AppName is the display name of the application.
	AppName = "VPN Session"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-session"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "vpn-session.log"
	HistoryFileName     = "history.db"
	ActiveProfileName   = "active.ovpn"
	StatusFileName      = "openvpn.status"
)

// D-Bus names for the controller service.
const (
	// BusName is the well-known name owned by the daemon.
	BusName = "com.vpnsession.Controller"
	// ObjectPath is where the controller object is exported.
	ObjectPath = "/com/vpnsession/Controller"
	// Interface is the controller's D-Bus interface name.
	Interface = "com.vpnsession.Controller1"
	// ErrorPrefix prefixes every D-Bus error name returned by the daemon.
	ErrorPrefix = "com.vpnsession.Error."
	// PolkitActionID is the polkit action checked before launching the engine.
	PolkitActionID = "com.vpnsession.launch"
)

// Engine defaults, mirroring the values OpenVPN clients ship with.
const (
	DefaultDNS1 = "8.8.8.8"
	DefaultDNS2 = "8.8.4.4"
)

// Default timeouts and intervals.
const (
	// StatusInterval is how often the engine refreshes telemetry.
	StatusInterval = 1 * time.Second
	// EngineStopTimeout bounds how long a stopping engine process may linger.
	EngineStopTimeout = 5 * time.Second
	// CallTimeout bounds client-side D-Bus method calls.
	CallTimeout = 10 * time.Second
	// LogRotationInterval is how often the daemon checks the log file size.
	LogRotationInterval = 1 * time.Minute
	// ConnectTimeout bounds how long the CLI waits for a connection to settle.
	ConnectTimeout = 90 * time.Second
)

// Subscriber stream names.
const (
	StreamStage  = "stage"
	StreamStatus = "status"
)

// Permission prompt modes.
const (
	PermissionAuto     = "auto"
	PermissionPolkit   = "polkit"
	PermissionTerminal = "terminal"
	PermissionExternal = "external"
	PermissionNone     = "none"
)

// Bus selection values.
const (
	BusSession = "session"
	BusSystem  = "system"
)
