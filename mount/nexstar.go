package mount

import (
	"fmt"
	"math"
)

// The NexStar serial protocol encodes angles as 32-bit hex fractions of a
// revolution whose low byte is always zero, i.e. 24 significant bits.
const b24PerTurn = 1 << 24

// nexstarMaxRate is the largest variable slew rate the protocol can carry
// (radians per second); the two-byte argument is quarter arcseconds/sec.
const nexstarMaxRate = 0.079121

const quarterArcsecPerTurn = 360 * 60 * 60 * 4

// wrapB24 wraps a 24-bit angle into [min, min+2^24).
func wrapB24(theta, min int) int {
	for theta >= min+b24PerTurn {
		theta -= b24PerTurn
	}
	for theta < min {
		theta += b24PerTurn
	}
	return theta
}

// radToB24 converts radians to the protocol's 24-bit angle.
func radToB24(rad float64) int {
	for rad < 0 {
		rad += 2 * math.Pi
	}
	v := int(rad / (2 * math.Pi) * b24PerTurn)
	if v < 0 {
		v = 0
	}
	if v > 0xffffff {
		v = 0xffffff
	}
	return v
}

// b24ToRad converts the protocol's 24-bit angle to radians.
func b24ToRad(b24 int) float64 {
	return float64(b24) / b24PerTurn * 2 * math.Pi
}

// b24ToHex4 renders a 24-bit angle in the low-precision 4-digit hex form
// (the low 8 bits are discarded).
func b24ToHex4(b24 int) string {
	return fmt.Sprintf("%04X", wrapB24(b24, 0)>>8)
}

// b24ToHex8 renders a 24-bit angle as the 8-digit hex form (low byte
// zero).
func b24ToHex8(b24 int) string {
	return fmt.Sprintf("%08X", wrapB24(b24, 0)<<8)
}

// hex8ToB24 parses the 8-digit hex form back to a 24-bit angle.
func hex8ToB24(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%08X", &v); err != nil {
		return 0, fmt.Errorf("%w: bad angle %q", ErrComm, s)
	}
	return v >> 8, nil
}

// radToQuarterArcsec converts a rate in radians/second to quarter
// arcseconds/second.
func radToQuarterArcsec(rad float64) int {
	return int(rad / (2 * math.Pi) * quarterArcsecPerTurn)
}

// NexStar drives a Celestron NexStar mount through its hand-control
// serial language.
type NexStar struct {
	client Client
	frame  FrameKind
}

// NewNexStar wraps a Client speaking the NexStar protocol. frame selects
// whether attitude reads use the alt-az or the RA/Dec registers.
func NewNexStar(client Client, frame FrameKind) (*NexStar, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	return &NexStar{client: client, frame: frame}, nil
}

// speak sends a command and validates the reply length.
func (n *NexStar) speak(command string, responseLen int) (string, error) {
	resp, err := n.client.Speak(command)
	if err != nil {
		return "", err
	}
	if len(resp) != responseLen {
		return "", fmt.Errorf("%w: unexpected reply %q to %q", ErrComm, resp, command)
	}
	return resp, nil
}

// getPair runs a precise two-angle read command ('e' or 'z').
func (n *NexStar) getPair(opcode string) (float64, float64, error) {
	r, err := n.speak(opcode, 17)
	if err != nil {
		return 0, 0, err
	}
	if r[8] != ',' {
		return 0, 0, fmt.Errorf("%w: unexpected reply %q", ErrComm, r)
	}
	a, err := hex8ToB24(r[0:8])
	if err != nil {
		return 0, 0, err
	}
	b, err := hex8ToB24(r[9:17])
	if err != nil {
		return 0, 0, err
	}
	return b24ToRad(a), b24ToRad(b), nil
}

// Attitude returns (azimuth, elevation) or (RA, declination) depending on
// the configured frame, using the precise get commands.
func (n *NexStar) Attitude() (float64, float64, error) {
	if n.frame == FrameEquatorial {
		return n.getPair("e")
	}
	return n.getPair("z")
}

// slewAxis issues a variable-rate passthrough command. dest is the motor
// ID (16 for azimuth/RA, 17 for elevation/declination).
func (n *NexStar) slewAxis(dest int, rate float64) error {
	arg := radToQuarterArcsec(math.Min(math.Abs(rate), nexstarMaxRate))
	if arg > 0xffff {
		arg = 0xffff
	}
	dir := byte(6)
	if rate < 0 {
		dir = 7
	}
	cmd := string([]byte{'P', 3, byte(dest), dir, byte(arg / 256), byte(arg % 256), 0, 0})
	_, err := n.speak(cmd, 0)
	return err
}

// SlewRate commands one axis. In the equatorial frame the RA motor runs
// backwards relative to increasing right ascension.
func (n *NexStar) SlewRate(axis Axis, rate float64) error {
	switch axis {
	case AxisPrimary:
		if n.frame == FrameEquatorial {
			rate = -rate
		}
		return n.slewAxis(16, rate)
	case AxisSecondary:
		return n.slewAxis(17, rate)
	}
	return fmt.Errorf("invalid axis %d", axis)
}

// SlewBoth commands both axis rates.
func (n *NexStar) SlewBoth(rate1, rate2 float64) error {
	if err := n.SlewRate(AxisPrimary, rate1); err != nil {
		return err
	}
	return n.SlewRate(AxisSecondary, rate2)
}

// SlewTo starts a precise GOTO to the given axis angles.
func (n *NexStar) SlewTo(axis1, axis2 float64) error {
	opcode := "b"
	if n.frame == FrameEquatorial {
		opcode = "r"
	}
	cmd := fmt.Sprintf("%s%s,%s", opcode, b24ToHex8(radToB24(axis1)), b24ToHex8(radToB24(axis2)))
	_, err := n.speak(cmd, 0)
	return err
}

// SlewInProgress reports whether a GOTO is still running.
func (n *NexStar) SlewInProgress() (bool, error) {
	r, err := n.speak("L", 1)
	if err != nil {
		return false, err
	}
	switch r {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: unexpected reply %q to L", ErrComm, r)
}

// SetTrackingMode sets the hand controller's tracking drive.
func (n *NexStar) SetTrackingMode(mode TrackingMode) error {
	_, err := n.speak("T"+string(byte(mode)), 0)
	return err
}

// Cancel stops any GOTO and zeroes both slew rates.
func (n *NexStar) Cancel() error {
	if _, err := n.speak("M", 0); err != nil {
		return err
	}
	return n.SlewBoth(0, 0)
}

// FrameKind reports the configured frame.
func (n *NexStar) FrameKind() FrameKind { return n.frame }

// MaxSlewRate is the protocol's variable-rate ceiling.
func (n *NexStar) MaxSlewRate() float64 { return nexstarMaxRate }

// Aligned is true: a NexStar hand controller aligned through its own
// star-alignment procedure reports world-frame angles.
func (n *NexStar) Aligned() bool { return true }

// Close closes the underlying transport.
func (n *NexStar) Close() error { return n.client.Close() }
