// Package ipcserver implements the local control-socket protocol:
// length-prefixed msgpack frames carrying a verb request and an
// HTTP-style numeric status plus a textual message response.
package ipcserver

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single control-socket frame, including the length
// prefix. Control requests/responses are small text, so this is far below
// the journal/notify-socket limits elsewhere in the system.
const (
	MaxFrameSize     = 64 * 1024
	MaxPayloadSize   = MaxFrameSize - LengthPrefixSize
	LengthPrefixSize = 4
)

// FrameErrorKind classifies a frame decoding failure.
type FrameErrorKind int

const (
	FrameErrorPartial FrameErrorKind = iota
	FrameErrorTooLarge
	FrameErrorDecode
)

// FrameError represents a failure decoding a control-socket frame.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// Request is a single IPC command-surface verb invocation.
type Request struct {
	Verb string            `msgpack:"verb"`
	Unit string            `msgpack:"unit,omitempty"`
	Args map[string]string `msgpack:"args,omitempty"`
}

// ArgMode is the Args key a "start" request uses to carry a non-default
// job admission mode (currently only "isolate" is recognised).
const ArgMode = "mode"

// ModeIsolate is the ArgMode value requesting types.JobModeIsolate.
const ModeIsolate = "isolate"

// Response carries the HTTP-style numeric status and textual message the
// control protocol returns for every request.
type Response struct {
	Status  int    `msgpack:"status"`
	Message string `msgpack:"message"`
}

const (
	StatusOK    = 200
	StatusError = 500
)

// FrameDecoder reads length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder wraps r with a bufio.Reader unless it already is one.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br}
}

// ReadFrame reads one frame's raw msgpack payload. Returns io.EOF at a
// clean stream end.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// EncodeFrame prefixes payload with its big-endian length.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// DecodeRequest decodes a payload as a Request.
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode request", Err: err}
	}
	return &req, nil
}

// EncodeRequest msgpack-encodes req, then length-prefixes it.
func EncodeRequest(req *Request) ([]byte, error) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return EncodeFrame(payload), nil
}

// DecodeResponse decodes a payload as a Response.
func DecodeResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode response", Err: err}
	}
	return &resp, nil
}

// EncodeResponse msgpack-encodes resp, then length-prefixes it.
func EncodeResponse(resp *Response) ([]byte, error) {
	payload, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return EncodeFrame(payload), nil
}
