package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// Config configures the OpenVPN engine.
type Config struct {
	// Binary is the openvpn executable name or path.
	Binary string
	// UsePkexec runs the engine through pkexec when not root.
	UsePkexec bool
	// RuntimeDir holds the rendered profile, credentials and status file.
	RuntimeDir string
	// StatusInterval is how often telemetry is read.
	StatusInterval time.Duration
	// Verbosity is passed to --verb.
	Verbosity int
}

// process is one supervised OpenVPN run.
type process struct {
	cmd       *exec.Cmd
	files     launchFiles
	telemetry *telemetry
	tunnel    tunnelState
	cancel    context.CancelFunc
	done      chan struct{}
}

// OpenVPN drives an OpenVPN 2.x process and implements session.Engine.
type OpenVPN struct {
	cfg  Config
	feed chan session.Notification

	mu     sync.Mutex
	active *session.Profile
	proc   *process
	stage  session.EngineStage
}

var _ session.Engine = (*OpenVPN)(nil)

// New creates an idle engine.
func New(cfg Config) *OpenVPN {
	if cfg.Binary == "" {
		cfg.Binary = "openvpn"
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = common.StatusInterval
	}
	if cfg.RuntimeDir == "" {
		if dir, err := common.GetRuntimeDir(); err == nil {
			cfg.RuntimeDir = dir
		} else {
			cfg.RuntimeDir = os.TempDir()
		}
	}
	return &OpenVPN{
		cfg:   cfg,
		feed:  make(chan session.Notification, 64),
		stage: session.EngineDisconnected,
	}
}

// Notifications returns the engine's stage and telemetry feed.
func (e *OpenVPN) Notifications() <-chan session.Notification {
	return e.feed
}

// Status returns the name of the engine's current stage.
func (e *OpenVPN) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage.String()
}

// CheckProfile verifies the profile can be launched.
func (e *OpenVPN) CheckProfile(p *session.Profile) error {
	if err := checkProfile(p); err != nil {
		return err
	}
	if _, err := exec.LookPath(e.cfg.Binary); err != nil {
		return fmt.Errorf("openvpn not found: %w", err)
	}
	return nil
}

// SetActiveProfile registers the profile the next Start launches.
func (e *OpenVPN) SetActiveProfile(p *session.Profile) error {
	if p == nil {
		return fmt.Errorf("nil profile")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = p
	return nil
}

// Start launches OpenVPN for the active profile, replacing any running
// process. It returns once the process has been started.
func (e *OpenVPN) Start(p *session.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p == nil {
		p = e.active
	}
	if p == nil {
		return fmt.Errorf("no active profile")
	}

	if old := e.proc; old != nil {
		e.proc = nil
		terminate(old, e.cfg.UsePkexec)
	}

	files := newLaunchFiles(e.cfg.RuntimeDir)
	if err := writeLaunchFiles(files, p); err != nil {
		return err
	}

	name, args := e.command(files)
	cmd := exec.Command(name, args...)
	common.LogInfo("Engine: %s %v", name, args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		files.removeCredentials()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		files.removeCredentials()
		return err
	}

	if err := cmd.Start(); err != nil {
		files.removeCredentials()
		return fmt.Errorf("failed to start openvpn: %w", err)
	}
	common.LogInfo("Engine: OpenVPN process started with PID %d", cmd.Process.Pid)

	ctx, cancel := context.WithCancel(context.Background())
	proc := &process{
		cmd:       cmd,
		files:     files,
		telemetry: newTelemetry(time.Now()),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	e.proc = proc
	e.stage = session.EngineConnecting

	go runTelemetry(ctx, files.statusPath, e.cfg.StatusInterval, proc.telemetry, func(st session.Status) {
		if e.current(proc) {
			e.feed <- session.Notification{Status: &st}
		}
	})

	go e.supervise(proc, func(g *errgroup.Group) {
		g.Go(func() error { return monitorOutput(stdout, &proc.tunnel, func(s session.EngineStage) { e.onStage(proc, s) }) })
		g.Go(func() error { return monitorOutput(stderr, &proc.tunnel, func(s session.EngineStage) { e.onStage(proc, s) }) })
	})

	return nil
}

// command returns the program and arguments for one launch.
func (e *OpenVPN) command(files launchFiles) (string, []string) {
	interval := int(e.cfg.StatusInterval / time.Second)
	if interval < 1 {
		interval = 1
	}
	args := []string{
		"--config", files.configPath,
		"--status", files.statusPath, strconv.Itoa(interval),
		"--status-version", "1",
	}
	if e.cfg.Verbosity > 0 {
		args = append(args, "--verb", strconv.Itoa(e.cfg.Verbosity))
	}

	if e.cfg.UsePkexec && os.Geteuid() != 0 {
		return "pkexec", append([]string{e.cfg.Binary}, args...)
	}
	return e.cfg.Binary, args
}

// supervise waits for the output monitors and the process, then reports
// DISCONNECTED if proc is still the current process.
func (e *OpenVPN) supervise(proc *process, monitors func(g *errgroup.Group)) {
	var g errgroup.Group
	monitors(&g)
	if err := g.Wait(); err != nil {
		common.LogDebug("Engine: output monitor: %v", err)
	}

	err := proc.cmd.Wait()
	close(proc.done)
	proc.cancel()
	proc.files.removeCredentials()

	if err != nil {
		common.LogWarn("Engine: OpenVPN exited: %v", err)
	} else {
		common.LogInfo("Engine: OpenVPN exited")
	}

	e.mu.Lock()
	current := e.proc == proc
	if current {
		e.proc = nil
		e.stage = session.EngineDisconnected
	}
	e.mu.Unlock()

	if current {
		e.feed <- session.Notification{Stage: session.EngineDisconnected.String()}
	}
}

// onStage records a stage detected in proc's output and forwards it.
func (e *OpenVPN) onStage(proc *process, stage session.EngineStage) {
	e.mu.Lock()
	if e.proc != proc || e.stage == stage {
		e.mu.Unlock()
		return
	}
	e.stage = stage
	e.mu.Unlock()

	if stage == session.EngineConnected {
		proc.telemetry.markConnected(time.Now())
	}
	e.feed <- session.Notification{Stage: stage.String()}
}

func (e *OpenVPN) current(proc *process) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc == proc
}

// Stop asks the running process to exit. It does not wait for the exit;
// a process still alive after common.EngineStopTimeout is killed.
func (e *OpenVPN) Stop() error {
	e.mu.Lock()
	proc := e.proc
	e.proc = nil
	e.stage = session.EngineDisconnected
	e.mu.Unlock()

	if proc == nil {
		return nil
	}
	terminate(proc, e.cfg.UsePkexec)
	return nil
}

// terminate sends SIGTERM and schedules a kill.
func terminate(proc *process, usePkexec bool) {
	proc.cancel()
	pid := proc.cmd.Process.Pid

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		common.LogDebug("Engine: SIGTERM to %d: %v", pid, err)
		// A root-owned process behind pkexec cannot be signalled directly.
		if usePkexec {
			out, err := exec.Command("pkexec", "kill", "-TERM", strconv.Itoa(pid)).CombinedOutput()
			if err != nil {
				common.LogWarn("Engine: pkexec kill %d: %v - %s", pid, err, string(out))
			}
		}
	}

	time.AfterFunc(common.EngineStopTimeout, func() {
		select {
		case <-proc.done:
		default:
			common.LogWarn("Engine: process %d did not exit, killing", pid)
			_ = proc.cmd.Process.Kill()
		}
	})
}
