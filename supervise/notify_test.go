package supervise

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sysmaster-go/sysmaster/types"
)

func TestParseKVSkipsBlankAndMalformedLines(t *testing.T) {
	kv := parseKV([]byte("READY=1\n\nSTATUS=starting up\nNOEQUALS\n"))
	if kv["READY"] != "1" {
		t.Fatalf("expected READY=1, got %v", kv)
	}
	if kv["STATUS"] != "starting up" {
		t.Fatalf("expected STATUS='starting up', got %v", kv)
	}
	if _, ok := kv["NOEQUALS"]; ok {
		t.Fatal("expected a line with no '=' to be dropped")
	}
}

type fakeRouter struct {
	target NotifyTarget
}

func (f *fakeRouter) RouteByPid(pid int) (types.UnitId, NotifyTarget, bool) {
	if f.target == nil {
		return "", nil, false
	}
	return "echo.service", f.target, true
}

type capturingTarget struct {
	creds types.NotifyCreds
	kv    map[string]string
	fds   []int
	got   chan struct{}
}

func (c *capturingTarget) NotifyMessage(creds types.NotifyCreds, kv map[string]string, fds []int) error {
	c.creds = creds
	c.kv = kv
	c.fds = fds
	close(c.got)
	return nil
}

func TestNotifyListenerRoutesReadyDatagram(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")
	target := &capturingTarget{got: make(chan struct{})}
	router := &fakeRouter{target: target}

	listener := NewNotifyListener(sockPath, router, nil)
	if err := listener.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer listener.Close()

	go func() { _ = listener.Run() }()

	sendFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	defer unix.Close(sendFd)

	oob := unix.UnixCredentials(&unix.Ucred{Pid: int32(unix.Getpid()), Uid: uint32(unix.Getuid()), Gid: uint32(unix.Getgid())})
	if err := unix.Sendmsg(sendFd, []byte("READY=1\nSTATUS=up\n"), oob, &unix.SockaddrUnix{Name: sockPath}, 0); err != nil {
		t.Fatalf("sendmsg: %v", err)
	}

	select {
	case <-target.got:
	case <-time.After(2 * time.Second):
		t.Fatal("notify message was not routed")
	}

	if target.kv["READY"] != "1" || target.kv["STATUS"] != "up" {
		t.Fatalf("unexpected kv: %v", target.kv)
	}
	if target.creds.PID != unix.Getpid() {
		t.Fatalf("expected sender pid %d, got %d", unix.Getpid(), target.creds.PID)
	}
}
