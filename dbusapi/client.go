package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/errgroup"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// ErrStreamEnded is returned by Watch when every watched stream was
// taken over by another subscriber.
var ErrStreamEnded = errors.New("subscription taken over by another client")

// ConnectBus opens a private connection to the named bus ("session" or
// "system").
func ConnectBus(bus string) (*dbus.Conn, error) {
	if bus == common.BusSystem {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

// Client calls a running daemon.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial connects to bus and checks that the daemon owns its name.
func Dial(bus string) (*Client, error) {
	conn, err := ConnectBus(bus)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrServiceUnavailable, err)
	}

	var running bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, common.BusName).Store(&running); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrServiceUnavailable, err)
	}
	if !running {
		conn.Close()
		return nil, fmt.Errorf("%w: %s is not running", common.ErrServiceUnavailable, common.BusName)
	}

	return &Client{
		conn: conn,
		obj:  conn.Object(common.BusName, common.ObjectPath),
	}, nil
}

// Close releases the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(method string, args ...interface{}) *dbus.Call {
	ctx, cancel := context.WithTimeout(context.Background(), common.CallTimeout)
	defer cancel()
	return c.obj.CallWithContext(ctx, common.Interface+"."+method, 0, args...)
}

// Start asks the daemon to begin a connection attempt.
func (c *Client) Start(p session.Params) error {
	bypass := p.Bypass
	if bypass == nil {
		bypass = []string{}
	}
	return fromDBusError(c.call("Start", p.Config, p.Name, p.Username, p.Password, p.DNS1, p.DNS2, bypass).Err)
}

// Stop disconnects.
func (c *Client) Stop() error {
	return fromDBusError(c.call("Stop").Err)
}

// Refresh asks the daemon to republish the engine's stage.
func (c *Client) Refresh() error {
	return fromDBusError(c.call("Refresh").Err)
}

// RefreshStatus asks the daemon to republish the cached Status.
func (c *Client) RefreshStatus() error {
	return fromDBusError(c.call("RefreshStatus").Err)
}

// KillSwitch opens the host VPN settings.
func (c *Client) KillSwitch() error {
	return fromDBusError(c.call("KillSwitch").Err)
}

// ResolvePermission answers a pending permission request.
func (c *Client) ResolvePermission(attempt uint64, granted bool) error {
	return fromDBusError(c.call("ResolvePermission", attempt, granted).Err)
}

// PendingAttempt returns the attempt awaiting permission, if any.
func (c *Client) PendingAttempt() (uint64, bool, error) {
	var (
		attempt uint64
		ok      bool
	)
	if err := c.call("PendingAttempt").Store(&attempt, &ok); err != nil {
		return 0, false, fromDBusError(err)
	}
	return attempt, ok, nil
}

// Stage returns the daemon's current Stage.
func (c *Client) Stage() (session.Stage, error) {
	var name string
	if err := c.call("Stage").Store(&name); err != nil {
		return session.StageIdle, fromDBusError(err)
	}
	st, ok := session.ParseStage(name)
	if !ok {
		return session.StageIdle, fmt.Errorf("daemon reported unknown stage %q", name)
	}
	return st, nil
}

// Status returns the daemon's cached Status.
func (c *Client) Status() (session.Status, error) {
	var f [4]string
	if err := c.call("Status").Store(&f[0], &f[1], &f[2], &f[3]); err != nil {
		return session.Status{}, fromDBusError(err)
	}
	return session.StatusFromFields(f[0], f[1], f[2], f[3])
}

// EventKind identifies a signal received from the daemon.
type EventKind int

const (
	EventStage EventKind = iota
	EventStatus
	EventStreamEnded
	EventPermissionRequested
)

// Event is one signal received from the daemon.
type Event struct {
	Kind    EventKind
	Stage   session.Stage
	Status  session.Status
	Stream  string
	Attempt uint64
}

// Streams selects what Watch subscribes to.
type Streams struct {
	Stage  bool
	Status bool
}

func (s Streams) count() int {
	n := 0
	if s.Stage {
		n++
	}
	if s.Status {
		n++
	}
	return n
}

func (s Streams) has(name string) bool {
	return (name == common.StreamStage && s.Stage) || (name == common.StreamStatus && s.Status)
}

// Watch subscribes to the selected streams and calls fn for every event
// until ctx is done, the daemon leaves the bus, or every selected stream
// is taken over by another client. PermissionRequested events are always
// delivered.
func (c *Client) Watch(ctx context.Context, streams Streams, fn func(Event)) error {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(common.ObjectPath),
		dbus.WithMatchInterface(common.Interface),
	}
	owner := []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, common.BusName),
	}
	if err := c.conn.AddMatchSignal(match...); err != nil {
		return fmt.Errorf("failed to add signal match: %w", err)
	}
	defer c.conn.RemoveMatchSignal(match...)
	if err := c.conn.AddMatchSignal(owner...); err != nil {
		return fmt.Errorf("failed to add signal match: %w", err)
	}
	defer c.conn.RemoveMatchSignal(owner...)

	ch := make(chan *dbus.Signal, 32)
	c.conn.Signal(ch)
	defer c.conn.RemoveSignal(ch)

	if err := c.subscribe(streams); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		open := streams.count()
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig, ok := <-ch:
				if !ok {
					return common.ErrServiceUnavailable
				}
				if name, gone := vanishedName(sig); gone && name == common.BusName {
					return fmt.Errorf("%w: daemon left the bus", common.ErrServiceUnavailable)
				}
				ev, ok := parseSignal(sig)
				if !ok {
					continue
				}
				fn(ev)
				if ev.Kind == EventStreamEnded && streams.has(ev.Stream) {
					open--
					if open == 0 {
						return ErrStreamEnded
					}
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		c.unsubscribe(streams)
		return nil
	})
	return g.Wait()
}

func (c *Client) subscribe(streams Streams) error {
	if streams.Stage {
		if err := fromDBusError(c.call("SubscribeStage").Err); err != nil {
			return err
		}
	}
	if streams.Status {
		if err := fromDBusError(c.call("SubscribeStatus").Err); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) unsubscribe(streams Streams) {
	if streams.Stage {
		if err := c.call("UnsubscribeStage").Err; err != nil {
			common.LogDebug("UnsubscribeStage: %v", err)
		}
	}
	if streams.Status {
		if err := c.call("UnsubscribeStatus").Err; err != nil {
			common.LogDebug("UnsubscribeStatus: %v", err)
		}
	}
}

// parseSignal decodes a controller signal. It ignores signals from other
// objects and malformed bodies.
func parseSignal(sig *dbus.Signal) (Event, bool) {
	if sig == nil || sig.Path != dbus.ObjectPath(common.ObjectPath) {
		return Event{}, false
	}
	member, ok := strings.CutPrefix(sig.Name, common.Interface+".")
	if !ok {
		return Event{}, false
	}

	switch member {
	case SignalStageChanged:
		name, ok := stringArg(sig.Body, 0)
		if !ok {
			return Event{}, false
		}
		st, ok := session.ParseStage(name)
		if !ok {
			common.LogWarn("Ignoring unknown stage %q", name)
			return Event{}, false
		}
		return Event{Kind: EventStage, Stage: st}, true

	case SignalStatusChanged:
		if len(sig.Body) != 4 {
			return Event{}, false
		}
		var f [4]string
		for i := range f {
			if f[i], ok = stringArg(sig.Body, i); !ok {
				return Event{}, false
			}
		}
		st, err := session.StatusFromFields(f[0], f[1], f[2], f[3])
		if err != nil {
			common.LogWarn("Ignoring malformed status: %v", err)
			return Event{}, false
		}
		return Event{Kind: EventStatus, Status: st}, true

	case SignalStreamEnded:
		stream, ok := stringArg(sig.Body, 0)
		if !ok {
			return Event{}, false
		}
		return Event{Kind: EventStreamEnded, Stream: stream}, true

	case SignalPermissionRequested:
		if len(sig.Body) != 1 {
			return Event{}, false
		}
		attempt, ok := sig.Body[0].(uint64)
		if !ok {
			return Event{}, false
		}
		return Event{Kind: EventPermissionRequested, Attempt: attempt}, true
	}
	return Event{}, false
}

func stringArg(body []interface{}, i int) (string, bool) {
	if i >= len(body) {
		return "", false
	}
	s, ok := body[i].(string)
	return s, ok
}
