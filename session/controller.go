package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/yllada/vpn-session/common"
)

// Notification is one item of the engine's asynchronous feed.
// Either part may be absent.
type Notification struct {
	Stage  string
	Status *Status
}

// Engine is the tunneling engine driven by the controller.
// Implementations must not block on their notification channel while
// inside Start or Stop.
type Engine interface {
	CheckProfile(p *Profile) error
	SetActiveProfile(p *Profile) error
	Start(p *Profile) error
	Stop() error
	// Status returns the engine's current stage name.
	Status() string
	Notifications() <-chan Notification
}

// ConnectivityGate reports whether the host currently has a usable network.
type ConnectivityGate interface {
	Reachable() bool
}

// GateFunc adapts a function to a ConnectivityGate.
type GateFunc func() bool

// Reachable calls f.
func (f GateFunc) Reachable() bool { return f() }

// HostSettings opens the host's VPN settings surface.
type HostSettings interface {
	OpenVPNSettings() error
}

// Journal records attempts and stage transitions.
type Journal interface {
	BeginAttempt(attempt uint64, profile string) error
	RecordStage(attempt uint64, stage Stage) error
	RecordError(attempt uint64, err error) error
}

// Options configures a Controller.
type Options struct {
	Engine      Engine
	Gate        ConnectivityGate
	Builder     *ProfileBuilder
	Prompter    Prompter
	Broadcaster *Broadcaster
	Host        HostSettings
	Journal     Journal
	// Creator is stamped on every launched profile.
	Creator string
	// OnPermissionRequest is called when an attempt suspends for permission.
	OnPermissionRequest func(attempt uint64)
}

// Controller owns the session lifecycle. All state changes go through mu.
type Controller struct {
	engine  Engine
	gate    ConnectivityGate
	builder *ProfileBuilder
	perm    *PermissionCoordinator
	bc      *Broadcaster
	host    HostSettings
	journal Journal
	creator string

	mu      sync.Mutex
	stage   Stage
	status  Status
	profile *Profile
	attempt uint64
	closed  bool
}

// NewController creates a controller in StageIdle.
func NewController(opts Options) *Controller {
	c := &Controller{
		engine:  opts.Engine,
		gate:    opts.Gate,
		builder: opts.Builder,
		bc:      opts.Broadcaster,
		host:    opts.Host,
		journal: opts.Journal,
		creator: opts.Creator,
		stage:   StageIdle,
	}
	if c.gate == nil {
		c.gate = GateFunc(func() bool { return true })
	}
	if c.builder == nil {
		c.builder = NewProfileBuilder(nil, "", "")
	}
	if c.bc == nil {
		c.bc = NewBroadcaster()
	}
	c.perm = NewPermissionCoordinator(opts.Prompter, c.onPermission)
	c.perm.OnRequest = opts.OnPermissionRequest
	return c
}

// Broadcaster returns the broadcaster subscribers attach to.
func (c *Controller) Broadcaster() *Broadcaster {
	return c.bc
}

// Start begins a new connection attempt.
//
// It returns nil when the attempt ends in no_network or is suspended
// awaiting permission; the Stage stream reports the outcome.
func (c *Controller) Start(p Params) error {
	// The gate may query the host; engine notifications must not wait on it.
	reachable := c.gate.Reachable()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerShutdown
	}
	if _, pending := c.perm.Pending(); pending || c.stage.inFlight() {
		return ErrAttemptInProgress
	}
	if p.blank() {
		return fmt.Errorf("%w: config and name are required", ErrInvalidConfig)
	}

	c.attempt++
	attempt := c.attempt
	c.profile = nil
	c.record(func(j Journal) error { return j.BeginAttempt(attempt, p.Name) })
	common.LogInfo("Starting attempt %d for %q", attempt, p.Name)

	c.setStage(StagePreparing)

	if !reachable {
		common.LogWarn("Attempt %d: network unreachable", attempt)
		c.setStage(StageNoNetwork)
		return nil
	}

	profile, err := c.builder.Build(p)
	if err != nil {
		return c.failLocked(attempt, err)
	}
	c.profile = profile

	decision, pending, err := c.perm.Request(attempt)
	if err != nil {
		return c.failLocked(attempt, err)
	}
	if pending {
		common.LogInfo("Attempt %d awaiting launch permission", attempt)
		c.setStage(StageAwaitingPermission)
		return nil
	}
	return c.proceedLocked(attempt, decision)
}

// ResolvePermission delivers an external permission result.
func (c *Controller) ResolvePermission(attempt uint64, granted bool) error {
	return c.perm.Resolve(attempt, granted)
}

// PendingAttempt returns the attempt waiting for permission, if any.
func (c *Controller) PendingAttempt() (uint64, bool) {
	return c.perm.Pending()
}

func (c *Controller) onPermission(attempt uint64, d Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Engine reports from a previous tunnel may have moved the Stage on
	// while this attempt waited; only the attempt ID decides staleness.
	if attempt != c.attempt {
		common.LogDebug("Dropping permission result for stale attempt %d", attempt)
		return ErrStaleAttempt
	}
	common.LogInfo("Attempt %d: permission %s", attempt, d)
	return c.proceedLocked(attempt, d)
}

func (c *Controller) proceedLocked(attempt uint64, d Decision) error {
	if d != Granted {
		c.profile = nil
		c.setStage(StageDenied)
		c.record(func(j Journal) error { return j.RecordError(attempt, ErrPermissionDenied) })
		return ErrPermissionDenied
	}
	c.setStage(StageConnecting)
	return c.launchLocked(attempt)
}

// launchLocked validates, stamps, registers and starts the profile.
func (c *Controller) launchLocked(attempt uint64) error {
	profile := c.profile
	if profile == nil || c.engine == nil {
		return c.failLocked(attempt, fmt.Errorf("%w: no engine or profile", ErrEngineLaunchFailed))
	}

	if err := c.engine.CheckProfile(profile); err != nil {
		return c.failLocked(attempt, fmt.Errorf("%w: %w", ErrEngineValidationFailed, err))
	}

	launch := profile.Stamp(c.creator)

	if err := c.engine.SetActiveProfile(launch); err != nil {
		return c.failLocked(attempt, fmt.Errorf("%w: set active profile: %w", ErrEngineLaunchFailed, err))
	}
	if err := c.engine.Start(launch); err != nil {
		return c.failLocked(attempt, fmt.Errorf("%w: %w", ErrEngineLaunchFailed, err))
	}

	common.LogInfo("Attempt %d: engine launched for %s", attempt, launch)
	return nil
}

// failLocked ends the attempt in disconnected and returns err.
func (c *Controller) failLocked(attempt uint64, err error) error {
	common.LogError("Attempt %d failed: %v", attempt, err)
	c.profile = nil
	c.setStage(StageDisconnected)
	c.record(func(j Journal) error { return j.RecordError(attempt, err) })
	return err
}

// Stop abandons any attempt, stops the engine and forces disconnected.
// It is accepted in every stage and never fails.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.perm.Cancel()
	c.profile = nil

	if c.engine != nil {
		if err := c.engine.Stop(); err != nil {
			common.LogWarn("Engine stop: %v", err)
		}
	}
	c.setStage(StageDisconnected)
	// Late permission results must not resume the abandoned attempt.
	c.attempt++
	return nil
}

// Refresh republishes the engine's current stage without changing the
// controller's Stage.
func (c *Controller) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return nil
	}
	text := c.engine.Status()
	stage, ok := ParseEngineStage(text).Stage()
	if !ok {
		common.LogWarn("Refresh: %v: %q", ErrUnrecognizedEngineStage, text)
		return nil
	}
	c.bc.PublishStage(stage)
	return nil
}

// RefreshStatus republishes and returns the cached Status.
func (c *Controller) RefreshStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bc.PublishStatus(c.status)
	return c.status
}

// Stage returns the current Stage. It has no side effects.
func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Status returns the cached Status. It has no side effects.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// KillSwitch opens the host VPN settings surface.
func (c *Controller) KillSwitch() error {
	if c.host == nil {
		return ErrNotImplemented
	}
	return c.host.OpenVPNSettings()
}

// HandleNotification applies one engine notification.
func (c *Controller) HandleNotification(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.Status != nil {
		c.status = *n.Status
		c.bc.PublishStatus(c.status)
	}
	if n.Stage == "" {
		return
	}
	stage, ok := ParseEngineStage(n.Stage).Stage()
	if !ok {
		common.LogWarn("%v: %q", ErrUnrecognizedEngineStage, n.Stage)
		return
	}
	c.setStage(stage)
}

// Run pumps the engine notification feed until ctx is done or the feed
// is closed.
func (c *Controller) Run(ctx context.Context) error {
	if c.engine == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	feed := c.engine.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-feed:
			if !ok {
				return nil
			}
			c.HandleNotification(n)
		}
	}
}

// Close cancels any pending permission request and detaches subscribers.
// Start fails with ErrControllerShutdown afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.perm.Cancel()
	c.bc.DetachAll()
}

// setStage replaces the current stage and publishes it if it changed.
func (c *Controller) setStage(s Stage) {
	if c.stage == s {
		return
	}
	common.LogDebug("Stage %s -> %s", c.stage, s)
	c.stage = s
	attempt := c.attempt
	c.record(func(j Journal) error { return j.RecordStage(attempt, s) })
	c.bc.PublishStage(s)
}

func (c *Controller) record(fn func(Journal) error) {
	if c.journal == nil {
		return
	}
	if err := fn(c.journal); err != nil {
		common.LogWarn("Journal: %v", err)
	}
}
