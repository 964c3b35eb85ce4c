package session

import "github.com/yllada/vpn-session/common"

// Errors returned by the controller. They alias the common sentinels so
// callers may test with errors.Is against either package.
var (
	ErrInvalidConfig           = common.ErrInvalidConfig
	ErrAttemptInProgress       = common.ErrAttemptInProgress
	ErrPermissionDenied        = common.ErrPermissionDenied
	ErrEngineValidationFailed  = common.ErrEngineValidationFailed
	ErrEngineLaunchFailed      = common.ErrEngineLaunchFailed
	ErrUnrecognizedEngineStage = common.ErrUnrecognizedEngineStage
	ErrNotImplemented          = common.ErrNotImplemented
	ErrStaleAttempt            = common.ErrStaleAttempt
	ErrNoPendingAttempt        = common.ErrNoPendingAttempt
	ErrControllerShutdown      = common.ErrControllerShutdown
)
