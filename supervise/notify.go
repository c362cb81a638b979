package supervise

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sysmaster-go/sysmaster/log"
	"github.com/sysmaster-go/sysmaster/types"
)

// NotifyRouter resolves the sender pid of a notify datagram to the unit
// that should receive it.
type NotifyRouter interface {
	RouteByPid(pid int) (unitID types.UnitId, target NotifyTarget, ok bool)
}

// NotifyTarget is the receiving half of the notify protocol, implemented by
// unit.Unit.
type NotifyTarget interface {
	NotifyMessage(creds types.NotifyCreds, kv map[string]string, fds []int) error
}

// NotifyListener reads sd_notify-style datagrams off a SOCK_DGRAM unix
// socket with SO_PASSCRED enabled, parses the KEY=VALUE\n body, collects any
// SCM_RIGHTS fds, and routes by sender pid. The wire format is
// line-oriented KEY=VALUE, credential-gated, distinct from the
// length-prefixed stream framing the control socket uses.
type NotifyListener struct {
	path   string
	router NotifyRouter
	log    *log.Logger

	mu   sync.Mutex
	fd   int
	stop chan struct{}
}

// NewNotifyListener creates a listener bound to the given abstract or
// filesystem unix socket path. Call Open then Run.
func NewNotifyListener(path string, router NotifyRouter, logger *log.Logger) *NotifyListener {
	return &NotifyListener{path: path, router: router, log: logger, fd: -1}
}

// Open creates, binds and configures the notify socket.
func (n *NotifyListener) Open() error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("notify: socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: n.path}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("notify: bind %s: %w", n.path, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("notify: SO_PASSCRED: %w", err)
	}

	n.fd = fd
	n.stop = make(chan struct{})
	return nil
}

// Path returns the bound socket path, suitable for NOTIFY_SOCKET env.
func (n *NotifyListener) Path() string {
	return n.path
}

// Close stops Run and releases the socket.
func (n *NotifyListener) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop != nil {
		close(n.stop)
		n.stop = nil
	}
	if n.fd >= 0 {
		err := unix.Close(n.fd)
		n.fd = -1
		return err
	}
	return nil
}

// Run reads datagrams until Close is called.
func (n *NotifyListener) Run() error {
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred)+unix.CmsgSpace(16*4))

	for {
		nr, noob, _, _, err := unix.Recvmsg(n.fd, buf, oob, 0)
		if err != nil {
			select {
			case <-n.stop:
				return nil
			default:
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("notify: recvmsg: %w", err)
		}

		msg, err := parseNotifyDatagram(buf[:nr], oob[:noob])
		if err != nil {
			if n.log != nil {
				n.log.Warn("dropping malformed notify datagram", map[string]any{"error": err.Error()})
			}
			continue
		}

		_, target, ok := n.router.RouteByPid(msg.Creds.PID)
		if !ok {
			if n.log != nil {
				n.log.Warn("notify datagram from unrouted pid", map[string]any{"pid": msg.Creds.PID})
			}
			continue
		}
		if err := target.NotifyMessage(msg.Creds, msg.KV, msg.Fds); err != nil {
			if n.log != nil {
				n.log.Warn("notify message rejected", map[string]any{"pid": msg.Creds.PID, "error": err.Error()})
			}
		}
	}
}

// parseNotifyDatagram decodes the credential and fd ancillary data and the
// newline-separated KEY=VALUE body.
func parseNotifyDatagram(body, oob []byte) (types.NotifyMessage, error) {
	var msg types.NotifyMessage

	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return msg, fmt.Errorf("parse control message: %w", err)
	}

	haveCreds := false
	for _, c := range cmsgs {
		switch {
		case c.Header.Level == unix.SOL_SOCKET && c.Header.Type == unix.SCM_CREDENTIALS:
			ucred, err := unix.ParseUnixCredentials(&c)
			if err != nil {
				return msg, fmt.Errorf("parse credentials: %w", err)
			}
			msg.Creds = types.NotifyCreds{PID: int(ucred.Pid), UID: ucred.Uid, GID: ucred.Gid}
			haveCreds = true
		case c.Header.Level == unix.SOL_SOCKET && c.Header.Type == unix.SCM_RIGHTS:
			fds, err := unix.ParseUnixRights(&c)
			if err != nil {
				return msg, fmt.Errorf("parse rights: %w", err)
			}
			msg.Fds = append(msg.Fds, fds...)
		}
	}
	if !haveCreds {
		return msg, fmt.Errorf("missing SCM_CREDENTIALS (is SO_PASSCRED set?)")
	}

	msg.KV = parseKV(body)
	return msg, nil
}

// parseKV parses a newline-separated KEY=VALUE body, skipping blank
// lines and entries with no '='.
func parseKV(body []byte) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		kv[key] = val
	}
	return kv
}
