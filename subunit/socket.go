package subunit

import (
	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
	"github.com/sysmaster-go/sysmaster/unit"
)

// PortType names the transport a socket Port listens on.
type PortType int

const (
	PortTypeSocket PortType = iota
	PortTypeFIFO
)

// Port is one listen address a Socket unit binds.
type Port struct {
	Type    PortType
	Address string
}

// SocketOps is the narrow bind/listen surface Socket delegates to; the
// concrete transport bindings are out of scope for this package.
type SocketOps interface {
	Listen(p Port) (fd int, err error)
	Close(fd int) error
}

// Socket owns a set of listening fds and, for non-Accept sockets, triggers
// a paired service unit.
type Socket struct {
	u       *unit.Unit
	ops     SocketOps
	ports   []Port
	accept  bool
	trigger types.UnitId

	fds    []int
	active types.ActiveState
}

// NewSocket constructs a Socket. trigger names the service unit this socket
// activates on connection (empty when Accept=true and socket-activation
// hasn't matched a specific backing service yet).
func NewSocket(ops SocketOps, ports []Port, accept bool, trigger types.UnitId) *Socket {
	return &Socket{ops: ops, ports: ports, accept: accept, trigger: trigger, active: types.ActiveStateInactive}
}

func (s *Socket) AttachUnit(u *unit.Unit) { s.u = u }

func (s *Socket) Load(fragmentPaths []string) error { return nil }

func (s *Socket) Start() error {
	old := s.active
	fds := make([]int, 0, len(s.ports))
	for _, p := range s.ports {
		fd, err := s.ops.Listen(p)
		if err != nil {
			for _, opened := range fds {
				_ = s.ops.Close(opened)
			}
			s.active = types.ActiveStateFailed
			s.u.Notify(old, s.active, "listen-failed")
			return errs.ClassifySyscallError("socket.Start", string(s.u.ID()), err)
		}
		fds = append(fds, fd)
	}
	s.fds = fds
	s.active = types.ActiveStateActive
	s.u.Notify(old, s.active, "socket-start")
	return nil
}

func (s *Socket) Stop(force bool) error {
	old := s.active
	for _, fd := range s.fds {
		_ = s.ops.Close(fd)
	}
	s.fds = nil
	s.active = types.ActiveStateInactive
	s.u.Notify(old, s.active, "socket-stop")
	return nil
}

func (s *Socket) Reload() error {
	return errs.New(errs.KindOpNotSupp, "socket.Reload", string(s.u.ID()))
}
func (s *Socket) CanReload() bool                      { return false }
func (s *Socket) CurrentActiveState() types.ActiveState { return s.active }
func (s *Socket) SubState() string {
	if s.active == types.ActiveStateActive {
		return "listening"
	}
	return "dead"
}
func (s *Socket) SigchldEvent(pid, exitCode int, signaled bool)               {}
func (s *Socket) NotifyMessage(types.NotifyCreds, map[string]string, []int) error { return nil }
func (s *Socket) Perpetual() bool                                             { return false }
func (s *Socket) ColdplugEntry()                                              {}
func (s *Socket) ClearEntry()                                                 {}

// CollectFds implements unit.FdCollector, handing the spawner the listening
// fds to pass into a triggered service as LISTEN_FDS.
func (s *Socket) CollectFds() []int { return s.fds }

// CanAccept reports whether every configured port accepts connections
// itself (Accept=false semantics).
func (s *Socket) CanAccept() bool { return !s.accept }

// Trigger returns the paired unit this socket activates.
func (s *Socket) Trigger() types.UnitId { return s.trigger }
