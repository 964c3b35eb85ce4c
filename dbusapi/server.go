// Package dbusapi exposes the session controller on D-Bus and provides
// the client used by the command line, the terminal dashboard and the
// tray indicator.
//
// Stage and Status updates are delivered as signals addressed to the
// subscribing connection only; each stream has at most one subscriber and
// a newer subscription replaces the older one, which receives StreamEnded.
package dbusapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/session"
)

// Signal member names.
const (
	SignalStageChanged        = "StageChanged"
	SignalStatusChanged       = "StatusChanged"
	SignalStreamEnded         = "StreamEnded"
	SignalPermissionRequested = "PermissionRequested"
)

// messageSender is the part of *dbus.Conn used to emit signals.
type messageSender interface {
	Send(msg *dbus.Message, ch chan *dbus.Call) *dbus.Call
}

// Controller is the session controller surface served on the bus.
type Controller interface {
	Start(p session.Params) error
	Stop() error
	Refresh() error
	RefreshStatus() session.Status
	Stage() session.Stage
	Status() session.Status
	KillSwitch() error
	ResolvePermission(attempt uint64, granted bool) error
	PendingAttempt() (uint64, bool)
	Broadcaster() *session.Broadcaster
}

// Server serves a Controller on a bus connection.
type Server struct {
	conn *dbus.Conn
	out  messageSender
	ctrl Controller

	mu          sync.Mutex
	stageOwner  string
	statusOwner string
}

// NewServer creates a server for ctrl. Call Export to publish it.
func NewServer(conn *dbus.Conn, ctrl Controller) *Server {
	s := &Server{conn: conn, ctrl: ctrl}
	if conn != nil {
		s.out = conn
	}
	return s
}

// Export publishes the controller object and claims the bus name.
func (s *Server) Export() error {
	obj := &object{srv: s}
	if err := s.conn.Export(obj, common.ObjectPath, common.Interface); err != nil {
		return fmt.Errorf("failed to export controller: %w", err)
	}

	node := &introspect.Node{
		Name: common.ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    common.Interface,
				Methods: introspect.Methods(obj),
				Signals: signalsIntrospection,
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), common.ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection: %w", err)
	}

	reply, err := s.conn.RequestName(common.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", common.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%s is already owned, is another daemon running?", common.BusName)
	}

	common.LogInfo("Serving %s at %s", common.BusName, common.ObjectPath)
	return nil
}

var signalsIntrospection = []introspect.Signal{
	{Name: SignalStageChanged, Args: []introspect.Arg{{Name: "stage", Type: "s"}}},
	{Name: SignalStatusChanged, Args: []introspect.Arg{
		{Name: "duration", Type: "s"},
		{Name: "last_packet_receive", Type: "s"},
		{Name: "byte_in", Type: "s"},
		{Name: "byte_out", Type: "s"},
	}},
	{Name: SignalStreamEnded, Args: []introspect.Arg{{Name: "stream", Type: "s"}}},
	{Name: SignalPermissionRequested, Args: []introspect.Arg{{Name: "attempt", Type: "t"}}},
}

// Run drops subscriptions of connections that leave the bus, until ctx
// is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("failed to watch bus names: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	s.conn.Signal(ch)
	defer s.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if name, gone := vanishedName(sig); gone {
				s.dropOwner(name)
			}
		}
	}
}

// vanishedName reports a NameOwnerChanged signal for a name that lost
// its owner.
func vanishedName(sig *dbus.Signal) (string, bool) {
	if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
		return "", false
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	return name, name != "" && newOwner == ""
}

func (s *Server) dropOwner(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageOwner == name {
		common.LogDebug("Stage subscriber %s left the bus", name)
		s.stageOwner = ""
		s.ctrl.Broadcaster().DetachStage()
	}
	if s.statusOwner == name {
		common.LogDebug("Status subscriber %s left the bus", name)
		s.statusOwner = ""
		s.ctrl.Broadcaster().DetachStatus()
	}
}

// EmitPermissionRequested broadcasts that an attempt awaits permission.
func (s *Server) EmitPermissionRequested(attempt uint64) {
	s.emit("", SignalPermissionRequested, attempt)
}

// emit sends a signal from the controller object. An empty dest
// broadcasts it.
func (s *Server) emit(dest, member string, args ...interface{}) {
	if s.out == nil {
		return
	}
	call := s.out.Send(newSignal(dest, member, args...), nil)
	if call != nil && call.Err != nil {
		common.LogWarn("Failed to emit %s to %q: %v", member, dest, call.Err)
	}
}

// newSignal builds a signal message from the controller object.
func newSignal(dest, member string, args ...interface{}) *dbus.Message {
	msg := &dbus.Message{
		Type: dbus.TypeSignal,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:      dbus.MakeVariant(dbus.ObjectPath(common.ObjectPath)),
			dbus.FieldInterface: dbus.MakeVariant(common.Interface),
			dbus.FieldMember:    dbus.MakeVariant(member),
		},
		Body: args,
	}
	if dest != "" {
		msg.Headers[dbus.FieldDestination] = dbus.MakeVariant(dest)
	}
	if len(args) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(args...))
	}
	return msg
}

func (s *Server) subscribeStage(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageOwner == owner {
		return
	}
	s.stageOwner = owner
	s.ctrl.Broadcaster().AttachStage(&stageSink{srv: s, dest: owner})
}

func (s *Server) unsubscribeStage(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stageOwner != owner {
		return
	}
	s.stageOwner = ""
	s.ctrl.Broadcaster().DetachStage()
}

func (s *Server) subscribeStatus(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusOwner == owner {
		return
	}
	s.statusOwner = owner
	s.ctrl.Broadcaster().AttachStatus(&statusSink{srv: s, dest: owner})
}

func (s *Server) unsubscribeStatus(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusOwner != owner {
		return
	}
	s.statusOwner = ""
	s.ctrl.Broadcaster().DetachStatus()
}

// stageSink forwards Stage values to one bus connection.
type stageSink struct {
	srv  *Server
	dest string
}

func (k *stageSink) Send(st session.Stage) {
	k.srv.emit(k.dest, SignalStageChanged, st.String())
}

func (k *stageSink) Close() {
	k.srv.emit(k.dest, SignalStreamEnded, common.StreamStage)
}

// statusSink forwards Status snapshots to one bus connection.
type statusSink struct {
	srv  *Server
	dest string
}

func (k *statusSink) Send(st session.Status) {
	f := st.Fields()
	k.srv.emit(k.dest, SignalStatusChanged, f[0], f[1], f[2], f[3])
}

func (k *statusSink) Close() {
	k.srv.emit(k.dest, SignalStreamEnded, common.StreamStatus)
}

// object holds the methods exported on the bus.
type object struct {
	srv *Server
}

func (o *object) Start(config, name, username, password, dns1, dns2 string, bypass []string) *dbus.Error {
	err := o.srv.ctrl.Start(session.Params{
		Config:   config,
		Name:     name,
		Username: username,
		Password: password,
		DNS1:     dns1,
		DNS2:     dns2,
		Bypass:   bypass,
	})
	return toDBusError(err)
}

func (o *object) Stop() *dbus.Error {
	return toDBusError(o.srv.ctrl.Stop())
}

func (o *object) Refresh() *dbus.Error {
	return toDBusError(o.srv.ctrl.Refresh())
}

func (o *object) RefreshStatus() *dbus.Error {
	o.srv.ctrl.RefreshStatus()
	return nil
}

func (o *object) Stage() (string, *dbus.Error) {
	return o.srv.ctrl.Stage().String(), nil
}

func (o *object) Status() (string, string, string, string, *dbus.Error) {
	f := o.srv.ctrl.Status().Fields()
	return f[0], f[1], f[2], f[3], nil
}

func (o *object) KillSwitch() *dbus.Error {
	return toDBusError(o.srv.ctrl.KillSwitch())
}

func (o *object) ResolvePermission(attempt uint64, granted bool) *dbus.Error {
	return toDBusError(o.srv.ctrl.ResolvePermission(attempt, granted))
}

func (o *object) PendingAttempt() (uint64, bool, *dbus.Error) {
	attempt, ok := o.srv.ctrl.PendingAttempt()
	return attempt, ok, nil
}

func (o *object) SubscribeStage(sender dbus.Sender) *dbus.Error {
	o.srv.subscribeStage(string(sender))
	return nil
}

func (o *object) UnsubscribeStage(sender dbus.Sender) *dbus.Error {
	o.srv.unsubscribeStage(string(sender))
	return nil
}

func (o *object) SubscribeStatus(sender dbus.Sender) *dbus.Error {
	o.srv.subscribeStatus(string(sender))
	return nil
}

func (o *object) UnsubscribeStatus(sender dbus.Sender) *dbus.Error {
	o.srv.unsubscribeStatus(string(sender))
	return nil
}
