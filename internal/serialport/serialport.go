// Package serialport opens the mount's serial device with the framing
// each protocol expects and adapts it to the mount package's line
// transport.
package serialport

import (
	"fmt"
	"os"
	"strings"
	"time"

	serial "go.bug.st/serial"

	"github.com/signalsfoundry/nexplane/internal/config"
	"github.com/signalsfoundry/nexplane/mount"
)

// Settings are the per-protocol serial parameters.
type Settings struct {
	BaudRate   int
	LineEnding string // appended to outgoing commands
	ReplyStart byte   // 0 means replies have no start marker
	ReplyEnd   byte   // marks end of reply
}

// SettingsFor returns the serial parameters for a telescope protocol.
func SettingsFor(protocol string) (Settings, error) {
	switch protocol {
	case config.ProtocolNexStar:
		// 9600 8N1; replies end with '#'.
		return Settings{BaudRate: 9600, LineEnding: "", ReplyEnd: '#'}, nil
	case config.ProtocolSkyWatcherEQMOD:
		return Settings{BaudRate: 9600, LineEnding: "\r", ReplyStart: '=', ReplyEnd: '\r'}, nil
	case config.ProtocolSkyWatcherUSB:
		return Settings{BaudRate: 115200, LineEnding: "\r", ReplyStart: '=', ReplyEnd: '\r'}, nil
	}
	return Settings{}, fmt.Errorf("protocol %q has no serial transport", protocol)
}

// Resolve expands the "auto" device name by scanning /dev/ttyUSB0..9 for
// the first present device.
func Resolve(device string) (string, error) {
	if device != "auto" {
		return device, nil
	}
	for i := 0; i < 10; i++ {
		candidate := fmt.Sprintf("/dev/ttyUSB%d", i)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no serial port found scanning /dev/ttyUSB0..9")
}

// Port is a serial device presented as a mount.Client.
type Port struct {
	port     serial.Port
	settings Settings

	// ReadTimeout bounds one reply.
	ReadTimeout time.Duration
}

// Open opens the device with the protocol's parameters.
func Open(device string, settings Settings) (*Port, error) {
	p, err := serial.Open(device, &serial.Mode{BaudRate: settings.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	// Short poll timeout so reply assembly can enforce its own deadline.
	if err := p.SetReadTimeout(50 * time.Millisecond); err != nil {
		p.Close()
		return nil, err
	}
	return &Port{port: p, settings: settings, ReadTimeout: 500 * time.Millisecond}, nil
}

// Speak writes one command and assembles the framed reply, stripping the
// frame markers.
func (p *Port) Speak(command string) (string, error) {
	if err := p.port.ResetInputBuffer(); err != nil {
		return "", err
	}
	if _, err := p.port.Write([]byte(command + p.settings.LineEnding)); err != nil {
		return "", err
	}

	var reply strings.Builder
	buf := make([]byte, 64)
	deadline := time.Now().Add(p.ReadTimeout)
	for time.Now().Before(deadline) {
		n, err := p.port.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if buf[i] == p.settings.ReplyEnd {
				return p.strip(reply.String())
			}
			reply.WriteByte(buf[i])
		}
	}
	return "", fmt.Errorf("%w: no reply to %q", mount.ErrComm, command)
}

// strip validates and removes the reply's start marker.
func (p *Port) strip(body string) (string, error) {
	if p.settings.ReplyStart == 0 {
		return body, nil
	}
	if len(body) == 0 || body[0] != p.settings.ReplyStart {
		return "", fmt.Errorf("%w: malformed reply %q", mount.ErrComm, body)
	}
	return body[1:], nil
}

// Close closes the device.
func (p *Port) Close() error { return p.port.Close() }
