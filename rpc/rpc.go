// Package rpc implements the tracker/bridge wire protocol: a TCP stream
// of length-prefixed frames, each a msgpack-encoded request or response.
// Frames are `<u32 big-endian length><payload>`. A request names a method
// and carries its arguments; a response carries either a result or a
// named error kind.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultPort is the bridge's TCP port.
const DefaultPort = 45345

// maxFrame bounds frame sizes; anything larger indicates a corrupt or
// hostile stream.
const maxFrame = 1 << 20

// Error kinds carried in responses.
const (
	KindTransportLost = "TransportLost"
	KindDeviceError   = "DeviceError"
	KindUnsupported   = "Unsupported"
	KindBusy          = "Busy"
)

// ErrTransportLost is returned for calls that were in flight when the
// transport dropped. Such calls are never retried automatically: the
// mount's state may have changed.
var ErrTransportLost = errors.New("rpc: transport lost")

// ErrUnsupported is returned when the bridge does not implement the
// requested method.
var ErrUnsupported = errors.New("rpc: unsupported method")

// ErrBusy is returned when the bridge cannot accept the request now.
var ErrBusy = errors.New("rpc: device busy")

// DeviceError wraps an error string reported by the mount itself.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("rpc: device error: %s", e.Message)
}

// Request is one method invocation.
type Request struct {
	ID     uint64   `msgpack:"id"`
	Method string   `msgpack:"method"`
	Params []any    `msgpack:"params"`
}

// Response answers one Request.
type Response struct {
	ID     uint64     `msgpack:"id"`
	Result any        `msgpack:"result,omitempty"`
	Error  *WireError `msgpack:"error,omitempty"`
}

// WireError is the encoded error taxonomy.
type WireError struct {
	Kind    string `msgpack:"kind"`
	Message string `msgpack:"message"`
}

// AsError converts a WireError into the matching Go error.
func (w *WireError) AsError() error {
	if w == nil {
		return nil
	}
	switch w.Kind {
	case KindTransportLost:
		return ErrTransportLost
	case KindUnsupported:
		return ErrUnsupported
	case KindBusy:
		return ErrBusy
	case KindDeviceError:
		return &DeviceError{Message: w.Message}
	}
	return fmt.Errorf("rpc: %s: %s", w.Kind, w.Message)
}

// WireErrorFor maps a Go error onto the wire taxonomy.
func WireErrorFor(err error) *WireError {
	if err == nil {
		return nil
	}
	var dev *DeviceError
	switch {
	case errors.Is(err, ErrTransportLost):
		return &WireError{Kind: KindTransportLost, Message: err.Error()}
	case errors.Is(err, ErrUnsupported):
		return &WireError{Kind: KindUnsupported, Message: err.Error()}
	case errors.Is(err, ErrBusy):
		return &WireError{Kind: KindBusy, Message: err.Error()}
	case errors.As(err, &dev):
		return &WireError{Kind: KindDeviceError, Message: dev.Message}
	}
	return &WireError{Kind: KindDeviceError, Message: err.Error()}
}

// writeFrame encodes v with msgpack and writes one length-prefixed frame.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	if len(payload) > maxFrame {
		return fmt.Errorf("rpc: frame too large (%d bytes)", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame and decodes it into v.
func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrame {
		return fmt.Errorf("rpc: frame too large (%d bytes)", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return msgpack.Unmarshal(payload, v)
}
