package ipcserver

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/sysmaster-go/sysmaster/job"
	"github.com/sysmaster-go/sysmaster/loader"
	"github.com/sysmaster-go/sysmaster/log"
	"github.com/sysmaster-go/sysmaster/manager"
	"github.com/sysmaster-go/sysmaster/types"
)

// Backend is the subset of *manager.Manager the control-socket verbs drive.
// Declared as an interface so tests exercise Server against an in-memory
// fake instead of a full Manager, the way job.Engine is driven against
// fakeUnit/fakeGraph in job_test.go.
type Backend interface {
	StartUnit(name types.UnitId, isManual bool, mode types.JobMode) ([]job.Job, error)
	StopUnit(name types.UnitId, isManual bool) ([]job.Job, error)
	RestartUnit(name types.UnitId, isManual bool) ([]job.Job, error)
	Reload(name types.UnitId, isManual bool) ([]job.Job, error)
	GetUnitStatus(name types.UnitId) (manager.UnitStatus, bool)
	GetAllUnits() []manager.UnitStatus
	MaskUnit(name types.UnitId) error
	UnmaskUnit(name types.UnitId) error
	EnableUnit(name types.UnitId, resolver loader.FragmentResolver) error
	DisableUnit(name types.UnitId) error
	BeginReload()
	EndReload()
}

// systemTargets maps each system verb to the target unit it isolates,
// the way systemctl's reboot/poweroff/halt/suspend/hibernate/shutdown
// verbs are themselves Start jobs against well-known targets rather than
// a separate code path.
var systemTargets = map[string]types.UnitId{
	"suspend":   "suspend.target",
	"hibernate": "hibernate.target",
	"halt":      "halt.target",
	"poweroff":  "poweroff.target",
	"shutdown":  "shutdown.target",
	"reboot":    "reboot.target",
}

// Server accepts control-socket connections and dispatches verb requests
// against a Backend. Each connection is served on its own goroutine, and
// requests on one connection are handled one after another until EOF.
type Server struct {
	backend  Backend
	resolver loader.FragmentResolver
	log      *log.Logger
}

// NewServer constructs a Server. resolver is the same fragment resolver the
// backend's manager.Manager was built with, needed by EnableUnit to locate
// a unit's install-target fragment path.
func NewServer(backend Backend, resolver loader.FragmentResolver, l *log.Logger) *Server {
	return &Server{backend: backend, resolver: resolver, log: l}
}

// Serve accepts connections on ln until it returns an error (typically
// from ln.Close during shutdown).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := NewFrameDecoder(conn)

	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			return
		}
		if err != nil {
			if s.log != nil {
				s.log.Warn("ipcserver: frame read failed", map[string]any{"err": err.Error()})
			}
			return
		}

		req, err := DecodeRequest(payload)
		if err != nil {
			s.writeResponse(conn, &Response{Status: StatusError, Message: err.Error()})
			continue
		}

		resp := s.dispatch(req)
		if err := s.writeResponse(conn, resp); err != nil {
			if s.log != nil {
				s.log.Warn("ipcserver: response write failed", map[string]any{"err": err.Error()})
			}
			return
		}
	}
}

func (s *Server) writeResponse(w io.Writer, resp *Response) error {
	frame, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// dispatch runs one request against the backend and maps the outcome to
// an HTTP-style status/message pair; errors are surfaced verbatim on the
// response.
func (s *Server) dispatch(req *Request) *Response {
	verb := strings.ToLower(req.Verb)
	unit := types.UnitId(req.Unit)

	switch verb {
	case "start":
		return jobResponse(s.backend.StartUnit(unit, true, jobModeFromArgs(req.Args)))
	case "stop":
		return jobResponse(s.backend.StopUnit(unit, true))
	case "restart":
		return jobResponse(s.backend.RestartUnit(unit, true))
	case "reload":
		return jobResponse(s.backend.Reload(unit, true))
	case "status":
		return s.status(unit)
	case "list-units":
		return s.listUnits()
	case "enable":
		return errResponse(s.backend.EnableUnit(unit, s.resolver))
	case "disable":
		return errResponse(s.backend.DisableUnit(unit))
	case "mask":
		return errResponse(s.backend.MaskUnit(unit))
	case "unmask":
		return errResponse(s.backend.UnmaskUnit(unit))
	case "daemon-reload":
		// Unit-fragment re-parsing is out of scope for this package; this
		// verb still exercises the reload-gated dispatch queue so any
		// emergency action raised mid-reload by a concurrent state change
		// is deferred and replayed.
		s.backend.BeginReload()
		s.backend.EndReload()
		return &Response{Status: StatusOK, Message: "reload complete"}
	case "daemon-reexec":
		// Re-executing the running binary is a cmd/sysmaster process-level
		// concern, not something the manager façade or this server can
		// perform on its own behalf.
		return &Response{Status: StatusError, Message: "daemon-reexec must be handled by the daemon process"}
	case "suspend", "hibernate", "halt", "poweroff", "shutdown", "reboot":
		target, ok := systemTargets[verb]
		if !ok {
			return &Response{Status: StatusError, Message: "unknown system verb"}
		}
		return jobResponse(s.backend.StartUnit(target, true, types.JobModeIsolate))
	default:
		return &Response{Status: StatusError, Message: fmt.Sprintf("unknown verb %q", req.Verb)}
	}
}

// jobModeFromArgs decodes the admission mode a "start" request asked for,
// defaulting to JobModeReplace when absent or unrecognised.
func jobModeFromArgs(args map[string]string) types.JobMode {
	if args[ArgMode] == ModeIsolate {
		return types.JobModeIsolate
	}
	return types.JobModeReplace
}

func (s *Server) status(unit types.UnitId) *Response {
	st, ok := s.backend.GetUnitStatus(unit)
	if !ok {
		return &Response{Status: StatusError, Message: fmt.Sprintf("unit %q not loaded", unit)}
	}
	return &Response{Status: StatusOK, Message: formatStatus(st)}
}

func (s *Server) listUnits() *Response {
	all := s.backend.GetAllUnits()
	lines := make([]string, 0, len(all))
	for _, st := range all {
		lines = append(lines, formatStatus(st))
	}
	return &Response{Status: StatusOK, Message: strings.Join(lines, "\n")}
}

func formatStatus(st manager.UnitStatus) string {
	return fmt.Sprintf("%s\tload=%s\tactive=%s\tsub=%s", st.ID, st.LoadState, st.ActiveState, st.SubState)
}

func jobResponse(jobs []job.Job, err error) *Response {
	if err != nil {
		return errResponse(err)
	}
	return &Response{Status: StatusOK, Message: fmt.Sprintf("admitted %d job(s)", len(jobs))}
}

func errResponse(err error) *Response {
	if err != nil {
		return &Response{Status: StatusError, Message: err.Error()}
	}
	return &Response{Status: StatusOK, Message: "ok"}
}
