package session

import "strings"

// Stage is the lifecycle state of a connection attempt or active session.
type Stage int

const (
	// StageIdle is the initial stage before any command.
	StageIdle Stage = iota
	// StageNoNetwork means the attempt found no usable network.
	StageNoNetwork
	// StagePreparing means the attempt is checking network and building the profile.
	StagePreparing
	// StageAwaitingPermission means the attempt is waiting for launch permission.
	StageAwaitingPermission
	// StageDenied means launch permission was refused.
	StageDenied
	// StageConnecting means the engine is being launched or is connecting.
	StageConnecting
	// StageAuthenticating means the engine is authenticating.
	StageAuthenticating
	// StageWaitConnection means the engine is waiting for the server.
	StageWaitConnection
	// StageConnected means the tunnel is up.
	StageConnected
	// StageReconnecting means the engine is re-establishing the tunnel.
	StageReconnecting
	// StageDisconnected means no tunnel is running.
	StageDisconnected
)

var stageNames = [...]string{
	StageIdle:               "idle",
	StageNoNetwork:          "no_network",
	StagePreparing:          "preparing",
	StageAwaitingPermission: "awaiting_permission",
	StageDenied:             "denied",
	StageConnecting:         "connecting",
	StageAuthenticating:     "authenticating",
	StageWaitConnection:     "wait_connection",
	StageConnected:          "connected",
	StageReconnecting:       "reconnecting",
	StageDisconnected:       "disconnected",
}

// String returns the wire name of the stage.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Stages returns every stage in declaration order.
func Stages() []Stage {
	all := make([]Stage, len(stageNames))
	for i := range stageNames {
		all[i] = Stage(i)
	}
	return all
}

// ParseStage converts a wire name back to a Stage.
func ParseStage(name string) (Stage, bool) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), true
		}
	}
	return StageIdle, false
}

// inFlight reports whether a start command must be rejected in this stage.
func (s Stage) inFlight() bool {
	return s == StagePreparing || s == StageAwaitingPermission || s == StageConnecting
}

// EngineStage is a stage name reported by the engine.
type EngineStage int

const (
	// EngineStageUnknown is any name the controller does not recognize.
	EngineStageUnknown EngineStage = iota
	EngineConnected
	EngineDisconnected
	EngineWait
	EngineAuth
	EngineReconnecting
	EngineNoNetwork
	EngineConnecting
	EnginePrepare
	EngineDenied
)

var engineStageNames = map[string]EngineStage{
	"CONNECTED":    EngineConnected,
	"DISCONNECTED": EngineDisconnected,
	"WAIT":         EngineWait,
	"AUTH":         EngineAuth,
	"RECONNECTING": EngineReconnecting,
	"NONETWORK":    EngineNoNetwork,
	"CONNECTING":   EngineConnecting,
	"PREPARE":      EnginePrepare,
	"DENIED":       EngineDenied,
}

// ParseEngineStage maps engine text case-insensitively.
// Unrecognized text yields EngineStageUnknown.
func ParseEngineStage(text string) EngineStage {
	if es, ok := engineStageNames[strings.ToUpper(strings.TrimSpace(text))]; ok {
		return es
	}
	return EngineStageUnknown
}

// Stage returns the controller stage for an engine stage.
// The second result is false for EngineStageUnknown.
func (e EngineStage) Stage() (Stage, bool) {
	switch e {
	case EngineConnected:
		return StageConnected, true
	case EngineDisconnected:
		return StageDisconnected, true
	case EngineWait:
		return StageWaitConnection, true
	case EngineAuth:
		return StageAuthenticating, true
	case EngineReconnecting:
		return StageReconnecting, true
	case EngineNoNetwork:
		return StageNoNetwork, true
	case EngineConnecting:
		return StageConnecting, true
	case EnginePrepare:
		return StagePreparing, true
	case EngineDenied:
		return StageDenied, true
	default:
		return StageIdle, false
	}
}

// String returns the canonical engine name.
func (e EngineStage) String() string {
	for name, es := range engineStageNames {
		if es == e {
			return name
		}
	}
	return "UNKNOWN"
}
