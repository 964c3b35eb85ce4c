package engine

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// linePattern maps an OpenVPN log fragment to the stage it announces.
type linePattern struct {
	fragment string
	stage    session.EngineStage
}

// linePatterns are checked in order; the first match wins.
var linePatterns = []linePattern{
	{"Initialization Sequence Completed", session.EngineConnected},
	{"SIGUSR1[", session.EngineReconnecting},
	{"SIGHUP[", session.EngineReconnecting},
	{"Restart pause", session.EngineReconnecting},
	{"Network is unreachable", session.EngineNoNetwork},
	{"TLS: Initial packet from", session.EngineAuth},
	{"Peer Connection Initiated", session.EngineAuth},
	{"PUSH_REQUEST", session.EngineAuth},
	{"UDP link remote", session.EngineWait},
	{"TCP connection established", session.EngineWait},
	{"Attempting to establish TCP connection", session.EngineConnecting},
	{"TCP/UDP: Preserving recently used remote address", session.EngineConnecting},
	{"Socket Buffers", session.EngineConnecting},
}

// classifyLine returns the stage an OpenVPN log line announces.
func classifyLine(line string) (session.EngineStage, bool) {
	for _, p := range linePatterns {
		if strings.Contains(line, p.fragment) {
			return p.stage, true
		}
	}
	return session.EngineStageUnknown, false
}

// authFailed reports whether the line is a server-side credential refusal.
func authFailed(line string) bool {
	return strings.Contains(line, "AUTH_FAILED")
}

// tunnelState tracks whether one process has brought the tunnel up.
// OpenVPN logs the handshake lines again on every TLS renegotiation, but
// not "Initialization Sequence Completed", so handshake stages are only
// meaningful before the first CONNECTED or after a restart.
type tunnelState struct {
	mu sync.Mutex
	up bool
}

// accept reports whether stage should be forwarded.
func (t *tunnelState) accept(stage session.EngineStage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch stage {
	case session.EngineConnected:
		t.up = true
	case session.EngineAuth, session.EngineWait, session.EngineConnecting:
		return !t.up
	default:
		t.up = false
	}
	return true
}

// monitorOutput reads process output line by line, logging every line and
// reporting stage changes through onStage. Both output pipes of a process
// share one tunnelState.
func monitorOutput(pipe io.Reader, tunnel *tunnelState, onStage func(session.EngineStage)) error {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		common.LogDebug("OpenVPN: %s", line)

		if authFailed(line) {
			common.LogError("OpenVPN: authentication failed, verify username and password")
			continue
		}
		if stage, ok := classifyLine(line); ok && tunnel.accept(stage) {
			onStage(stage)
		}
	}
	return scanner.Err()
}
