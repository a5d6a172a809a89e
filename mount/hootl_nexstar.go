package mount

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/nexplane/astro"
)

// gotoRate is the fastest fixed slew rate of a NexStar mount (5 degrees
// per second), used by the simulator to execute GOTOs.
const gotoRate = 5 * math.Pi / 180

// NexStarHOOTL is an in-memory mount speaking the NexStar serial language,
// used for hardware-out-of-the-loop testing. State advances lazily: every
// command integrates the commanded rates over the wall time elapsed since
// the previous command, then answers from the updated state. Reported
// angles are quantized to the protocol's 24-bit resolution.
type NexStarHOOTL struct {
	mu sync.Mutex

	frame    FrameKind
	observer astro.Geodetic

	// Axis state in the native frame (radians).
	pos1, pos2   float64
	rate1, rate2 float64

	gotoActive       bool
	gotoTo1, gotoTo2 float64

	tracking TrackingMode

	last time.Time

	// Now is the simulator clock, swappable for deterministic tests.
	Now func() time.Time

	// Delay, if set, is slept on every command to imitate serial
	// round-trip latency.
	Delay time.Duration
}

// NewNexStarHOOTL builds a simulator whose axes start at zero.
func NewNexStarHOOTL(observer astro.Geodetic, frame FrameKind) *NexStarHOOTL {
	h := &NexStarHOOTL{
		frame:    frame,
		observer: observer,
		Now:      time.Now,
	}
	h.last = time.Time{}
	return h
}

// advance integrates the simulator state up to the current clock.
func (h *NexStarHOOTL) advance() {
	now := h.Now()
	if h.last.IsZero() {
		h.last = now
		return
	}
	dt := now.Sub(h.last).Seconds()
	h.last = now
	if dt <= 0 {
		return
	}

	if h.gotoActive {
		maxStep := gotoRate * dt
		d1 := astro.WrapRad(h.gotoTo1-h.pos1, -math.Pi)
		d2 := astro.WrapRad(h.gotoTo2-h.pos2, -math.Pi)
		h.pos1 += astro.Clamp(d1, -maxStep, maxStep)
		h.pos2 += astro.Clamp(d2, -maxStep, maxStep)
		if math.Abs(d1) <= maxStep && math.Abs(d2) <= maxStep {
			h.pos1 = h.gotoTo1
			h.pos2 = h.gotoTo2
			h.gotoActive = false
		}
		return
	}

	if h.tracking != TrackingOff {
		// The hand controller's own tracking holds the current sky
		// position; the axes do not respond to slew rates.
		return
	}

	h.pos1 = astro.WrapRad(h.pos1+h.rate1*dt, 0)
	h.pos2 = astro.WrapRad(h.pos2+h.rate2*dt, 0)
}

// quantize rounds an angle to the protocol's 24-bit resolution.
func quantize(rad float64) float64 {
	return b24ToRad(radToB24(astro.WrapRad(rad, 0)))
}

// Speak decodes one NexStar command, advances the simulation, and encodes
// the reply.
func (h *NexStarHOOTL) Speak(command string) (string, error) {
	if h.Delay > 0 {
		time.Sleep(h.Delay)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()

	if command == "" {
		return "", fmt.Errorf("%w: empty command", ErrComm)
	}

	switch command[0] {
	case 'E': // get RA/Dec
		ra, dec := h.raDec()
		return fmt.Sprintf("%s,%s", b24ToHex4(radToB24(ra)), b24ToHex4(radToB24(dec))), nil

	case 'e': // get precise RA/Dec
		ra, dec := h.raDec()
		return fmt.Sprintf("%s,%s", b24ToHex8(radToB24(ra)), b24ToHex8(radToB24(dec))), nil

	case 'Z': // get azm/alt
		if h.frame != FrameAltAz {
			return "", fmt.Errorf("%w: GET AZM-ALT is not accurate in EQ mode", ErrComm)
		}
		return fmt.Sprintf("%s,%s", b24ToHex4(radToB24(h.pos1)), b24ToHex4(radToB24(h.pos2))), nil

	case 'z': // get precise azm/alt
		if h.frame != FrameAltAz {
			return "", fmt.Errorf("%w: GET AZM-ALT is not accurate in EQ mode", ErrComm)
		}
		return fmt.Sprintf("%s,%s", b24ToHex8(radToB24(h.pos1)), b24ToHex8(radToB24(h.pos2))), nil

	case 'b': // GOTO precise azm/alt
		if h.frame != FrameAltAz {
			return "", fmt.Errorf("%w: azm/alt GOTO in EQ mode", ErrComm)
		}
		return h.startGoto(command)

	case 'r': // GOTO precise RA/Dec
		if h.frame != FrameEquatorial {
			return "", fmt.Errorf("%w: RA/Dec GOTO in altaz mode", ErrComm)
		}
		return h.startGoto(command)

	case 't': // get tracking mode
		return string(byte(h.tracking)), nil

	case 'T': // set tracking mode
		if len(command) != 2 {
			return "", fmt.Errorf("%w: bad T command", ErrComm)
		}
		h.tracking = TrackingMode(command[1])
		return "", nil

	case 'P':
		return h.passthrough(command)

	case 'K': // echo
		if len(command) != 2 {
			return "", fmt.Errorf("%w: bad echo", ErrComm)
		}
		return command[1:], nil

	case 'L': // GOTO in progress?
		if h.gotoActive {
			return "1", nil
		}
		return "0", nil

	case 'M': // cancel GOTO
		h.gotoActive = false
		return "", nil
	}

	return "", fmt.Errorf("%w: invalid or unimplemented command %q", ErrComm, command)
}

// raDec returns the simulated equatorial position for the current state.
func (h *NexStarHOOTL) raDec() (float64, float64) {
	if h.frame == FrameEquatorial {
		return h.pos1, h.pos2
	}
	el := astro.Clamp(astro.WrapRad(h.pos2, -math.Pi), -math.Pi/2, math.Pi/2)
	return astro.AltAzToRaDec(h.pos1, el, h.observer, h.last)
}

// startGoto parses a precise GOTO ('b' or 'r') command.
func (h *NexStarHOOTL) startGoto(command string) (string, error) {
	if len(command) != 18 || command[9] != ',' {
		return "", fmt.Errorf("%w: bad GOTO command %q", ErrComm, command)
	}
	a, err := hex8ToB24(command[1:9])
	if err != nil {
		return "", err
	}
	b, err := hex8ToB24(command[10:18])
	if err != nil {
		return "", err
	}
	h.gotoTo1 = b24ToRad(a)
	h.gotoTo2 = b24ToRad(b)
	h.gotoActive = true
	return "", nil
}

// passthrough handles the variable-rate slew commands.
func (h *NexStarHOOTL) passthrough(command string) (string, error) {
	if len(command) != 8 || command[1] != 3 {
		return "", fmt.Errorf("%w: bad passthrough %q", ErrComm, command)
	}
	dest := command[2]
	dir := command[3]
	if (dest != 16 && dest != 17) || (dir != 6 && dir != 7) {
		return "", fmt.Errorf("%w: bad passthrough %q", ErrComm, command)
	}

	qas := int(command[4])*256 + int(command[5])
	rate := float64(qas) / quarterArcsecPerTurn * 2 * math.Pi
	if dir == 7 {
		rate = -rate
	}

	if dest == 16 {
		if h.frame == FrameEquatorial {
			// The RA motor turns against increasing right ascension.
			rate = -rate
		}
		h.rate1 = rate
	} else {
		h.rate2 = rate
	}
	return "", nil
}

// Attitude1 and Attitude2 expose quantized axis state for tests.
func (h *NexStarHOOTL) Attitude1() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()
	return quantize(h.pos1)
}

func (h *NexStarHOOTL) Attitude2() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advance()
	return quantize(h.pos2)
}

// Close is a no-op; the simulator has no resources.
func (h *NexStarHOOTL) Close() error { return nil }
