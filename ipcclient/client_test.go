package ipcclient

import (
	"net"
	"testing"

	"github.com/sysmaster-go/sysmaster/ipcserver"
)

// echoOnce accepts a single connection, decodes one request, and writes
// back a canned response, enough to exercise Client.Call's encode/write/
// read/decode round trip without a real manager.Manager.
func echoOnce(t *testing.T, ln net.Listener, resp *ipcserver.Response) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		payload, err := ipcserver.NewFrameDecoder(conn).ReadFrame()
		if err != nil {
			return
		}
		if _, err := ipcserver.DecodeRequest(payload); err != nil {
			return
		}
		frame, err := ipcserver.EncodeResponse(resp)
		if err != nil {
			return
		}
		conn.Write(frame)
	}()
}

func newUnixListener(t *testing.T) (net.Listener, string) {
	t.Helper()
	path := t.TempDir() + "/control.sock"
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, path
}

func TestClientStartReceivesDecodedResponse(t *testing.T) {
	ln, path := newUnixListener(t)
	echoOnce(t, ln, &ipcserver.Response{Status: ipcserver.StatusOK, Message: "admitted 1 job(s)"})

	c := New("unix", path)
	resp, err := c.Start("a.service")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if resp.Status != ipcserver.StatusOK || resp.Message != "admitted 1 job(s)" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientStartIsolateCarriesModeArg(t *testing.T) {
	ln, path := newUnixListener(t)

	reqCh := make(chan *ipcserver.Request, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload, err := ipcserver.NewFrameDecoder(conn).ReadFrame()
		if err != nil {
			return
		}
		req, err := ipcserver.DecodeRequest(payload)
		if err != nil {
			return
		}
		reqCh <- req
		frame, _ := ipcserver.EncodeResponse(&ipcserver.Response{Status: ipcserver.StatusOK, Message: "admitted 1 job(s)"})
		conn.Write(frame)
	}()

	c := New("unix", path)
	if _, err := c.StartIsolate("rescue.target"); err != nil {
		t.Fatalf("StartIsolate: %v", err)
	}

	req := <-reqCh
	if req.Args[ipcserver.ArgMode] != ipcserver.ModeIsolate {
		t.Fatalf("expected isolate mode arg, got %v", req.Args)
	}
}

func TestClientCallFailsOnDialError(t *testing.T) {
	c := New("unix", "/nonexistent/path/control.sock")
	if _, err := c.Status("a.service"); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestClientStatusRequestCarriesUnit(t *testing.T) {
	ln, path := newUnixListener(t)
	echoOnce(t, ln, &ipcserver.Response{Status: ipcserver.StatusError, Message: "not loaded"})

	c := New("unix", path)
	resp, err := c.Status("missing.service")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Status != ipcserver.StatusError {
		t.Fatalf("expected StatusError, got %+v", resp)
	}
}
