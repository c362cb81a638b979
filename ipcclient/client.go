// Package ipcclient is the control-socket client sysmasterctl dials,
// sending one Request frame and reading back one Response frame per
// connection, matching ipcserver's per-connection request/response loop.
package ipcclient

import (
	"fmt"
	"net"
	"time"

	"github.com/sysmaster-go/sysmaster/ipcserver"
)

// Client dials a control socket and issues verbs.
type Client struct {
	network string
	address string
	timeout time.Duration
}

// New constructs a Client for the given network ("unix") and address (a
// socket path).
func New(network, address string) *Client {
	return &Client{network: network, address: address, timeout: 10 * time.Second}
}

// WithTimeout overrides the per-call dial/read/write timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Call sends req and returns the decoded Response.
func (c *Client) Call(req *ipcserver.Request) (*ipcserver.Response, error) {
	conn, err := net.DialTimeout(c.network, c.address, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("ipcclient: dial %s: %w", c.address, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	frame, err := ipcserver.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("ipcclient: encode request: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("ipcclient: write request: %w", err)
	}

	payload, err := ipcserver.NewFrameDecoder(conn).ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("ipcclient: read response: %w", err)
	}
	return ipcserver.DecodeResponse(payload)
}

// Start issues the "start" verb under the default Replace admission mode.
func (c *Client) Start(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "start", Unit: unit})
}

// StartIsolate issues the "start" verb with Isolate admission, stopping
// every other loaded unit not reachable from unit as part of the same
// transaction.
func (c *Client) StartIsolate(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{
		Verb: "start",
		Unit: unit,
		Args: map[string]string{ipcserver.ArgMode: ipcserver.ModeIsolate},
	})
}

// Stop issues the "stop" verb.
func (c *Client) Stop(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "stop", Unit: unit})
}

// Restart issues the "restart" verb.
func (c *Client) Restart(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "restart", Unit: unit})
}

// Reload issues the "reload" verb.
func (c *Client) Reload(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "reload", Unit: unit})
}

// Status issues the "status" verb.
func (c *Client) Status(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "status", Unit: unit})
}

// ListUnits issues the "list-units" verb.
func (c *Client) ListUnits() (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "list-units"})
}

// Enable issues the "enable" verb.
func (c *Client) Enable(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "enable", Unit: unit})
}

// Disable issues the "disable" verb.
func (c *Client) Disable(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "disable", Unit: unit})
}

// Mask issues the "mask" verb.
func (c *Client) Mask(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "mask", Unit: unit})
}

// Unmask issues the "unmask" verb.
func (c *Client) Unmask(unit string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "unmask", Unit: unit})
}

// DaemonReload issues the "daemon-reload" verb.
func (c *Client) DaemonReload() (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "daemon-reload"})
}

// DaemonReexec issues the "daemon-reexec" verb.
func (c *Client) DaemonReexec() (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: "daemon-reexec"})
}

// System issues one of the suspend/hibernate/halt/poweroff/shutdown/reboot
// verbs.
func (c *Client) System(verb string) (*ipcserver.Response, error) {
	return c.Call(&ipcserver.Request{Verb: verb})
}
