// Package engine runs OpenVPN 2.x as the tunneling engine behind the
// session controller.
//
// This package implements:
//
//   - Profile checks before launch (parsed config, credentials, binary)
//   - Rendering the launch profile with DNS overrides and bypass routes
//   - Process supervision through pkexec when not running as root
//   - Stage detection from OpenVPN's log output
//   - Telemetry from the OpenVPN --status file
//
// # Notifications
//
// Stage changes and telemetry snapshots are delivered on a buffered
// channel returned by Notifications. Sends happen from the engine's own
// goroutines, never from inside Start or Stop.
//
// # Thread Safety
//
// OpenVPN is safe for concurrent use. At most one OpenVPN process is
// supervised at a time; Start replaces a running process.
package engine
