package dbusapi

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-session/common"
)

// notSupported is the standard name used for ErrNotImplemented.
const notSupported = "org.freedesktop.DBus.Error.NotSupported"

// errorNames maps sentinel errors to D-Bus error names. Order matters:
// the first sentinel matched by errors.Is wins.
var errorNames = []struct {
	err  error
	name string
}{
	{common.ErrInvalidConfig, common.ErrorPrefix + "InvalidConfig"},
	{common.ErrAttemptInProgress, common.ErrorPrefix + "AttemptInProgress"},
	{common.ErrPermissionDenied, common.ErrorPrefix + "PermissionDenied"},
	{common.ErrEngineValidationFailed, common.ErrorPrefix + "EngineValidationFailed"},
	{common.ErrEngineLaunchFailed, common.ErrorPrefix + "EngineLaunchFailed"},
	{common.ErrStaleAttempt, common.ErrorPrefix + "StaleAttempt"},
	{common.ErrNoPendingAttempt, common.ErrorPrefix + "NoPendingAttempt"},
	{common.ErrControllerShutdown, common.ErrorPrefix + "Shutdown"},
	{common.ErrNotImplemented, notSupported},
}

// toDBusError converts a controller error into a D-Bus error reply.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	for _, e := range errorNames {
		if errors.Is(err, e.err) {
			return dbus.NewError(e.name, []interface{}{err.Error()})
		}
	}
	return dbus.MakeFailedError(err)
}

// fromDBusError converts a D-Bus error reply back into an error that
// matches the original sentinel with errors.Is.
func fromDBusError(err error) error {
	if err == nil {
		return nil
	}

	var name string
	var body []interface{}
	var dv dbus.Error
	var dp *dbus.Error
	switch {
	case errors.As(err, &dv):
		name, body = dv.Name, dv.Body
	case errors.As(err, &dp):
		name, body = dp.Name, dp.Body
	default:
		return fmt.Errorf("%w: %w", common.ErrServiceUnavailable, err)
	}

	msg := name
	if len(body) > 0 {
		if s, ok := body[0].(string); ok {
			msg = s
		}
	}

	switch name {
	case "org.freedesktop.DBus.Error.ServiceUnknown", "org.freedesktop.DBus.Error.NameHasNoOwner":
		return fmt.Errorf("%w: %s", common.ErrServiceUnavailable, msg)
	}
	for _, e := range errorNames {
		if e.name == name {
			return &remoteError{sentinel: e.err, msg: msg}
		}
	}
	return errors.New(msg)
}

// remoteError carries the daemon's message and unwraps to the sentinel.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }
