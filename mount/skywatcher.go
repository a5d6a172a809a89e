package mount

import (
	"fmt"
	"math"
	"strconv"
)

// The Sky-Watcher motor-controller protocol transfers multi-byte integers
// as hex with the bytes swapped to little-endian order.

func encodeInt2(v int) string {
	return fmt.Sprintf("%02X", v&0xff)
}

func decodeInt2(s string) (int, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("%w: bad 2-digit field %q", ErrComm, s)
	}
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad 2-digit field %q", ErrComm, s)
	}
	return int(v), nil
}

func encodeInt6(v int) string {
	h := fmt.Sprintf("%06X", v&0xffffff)
	return h[4:6] + h[2:4] + h[0:2]
}

func decodeInt6(s string) (int, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("%w: bad 6-digit field %q", ErrComm, s)
	}
	h := s[4:6] + s[2:4] + s[0:2]
	v, err := strconv.ParseInt(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad 6-digit field %q", ErrComm, s)
	}
	return int(v), nil
}

// axisStatus is the decoded ':f' status word.
type axisStatus struct {
	tracking      bool
	ccw           bool
	fast          bool
	running       bool
	blocked       bool
	initDone      bool
	levelSwitchOn bool
}

// skyWatcherMaxRate bounds commanded rates. The motor controller itself
// accepts faster step periods, but beyond a few degrees per second the
// mount stalls rather than slews.
const skyWatcherMaxRate = 0.07

// SkyWatcher drives a Sky-Watcher mount head through the motor-controller
// binary protocol (not the SynScan hand-controller language).
type SkyWatcher struct {
	client Client
	frame  FrameKind

	cpr       [3]int // counts per revolution, indexed by axis
	hsr       [3]int // high speed ratio
	timerFreq int

	// Last commanded rate per axis. Motion-mode and start commands are
	// only issued when the sign changes or motion starts from rest;
	// in-motion rate updates are bare step-period writes.
	rate [3]float64
}

// NewSkyWatcher wraps a Client speaking the motor-controller protocol and
// runs the initialization handshake: read the counts-per-revolution,
// high-speed ratio, and timer frequency, then confirm both axes are
// initialized and stopped.
func NewSkyWatcher(client Client, frame FrameKind) (*SkyWatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	s := &SkyWatcher{client: client, frame: frame}

	for axis := 1; axis <= 2; axis++ {
		cpr, err := s.inquireInt6(fmt.Sprintf(":a%d", axis))
		if err != nil {
			return nil, fmt.Errorf("counts per revolution: %w", err)
		}
		if cpr == 0 {
			return nil, fmt.Errorf("%w: axis %d reports zero counts per revolution", ErrComm, axis)
		}
		s.cpr[axis] = cpr

		hsr, err := s.inquireInt2(fmt.Sprintf(":g%d", axis))
		if err != nil {
			return nil, fmt.Errorf("high speed ratio: %w", err)
		}
		s.hsr[axis] = hsr
	}

	freq, err := s.inquireInt6(":b1")
	if err != nil {
		return nil, fmt.Errorf("timer frequency: %w", err)
	}
	s.timerFreq = freq

	for axis := 1; axis <= 2; axis++ {
		if _, err := s.speak(fmt.Sprintf(":F%d", axis), 0); err != nil {
			return nil, fmt.Errorf("initialization: %w", err)
		}
	}

	for axis := 1; axis <= 2; axis++ {
		st, err := s.status(axis)
		if err != nil {
			return nil, err
		}
		if st.running || st.blocked || !st.initDone {
			return nil, fmt.Errorf("%w: axis %d not ready (running=%v blocked=%v init=%v)",
				ErrComm, axis, st.running, st.blocked, st.initDone)
		}
	}

	return s, nil
}

func (s *SkyWatcher) speak(command string, responseLen int) (string, error) {
	resp, err := s.client.Speak(command)
	if err != nil {
		return "", err
	}
	if len(resp) != responseLen {
		return "", fmt.Errorf("%w: unexpected reply %q to %q", ErrComm, resp, command)
	}
	return resp, nil
}

func (s *SkyWatcher) inquireInt2(command string) (int, error) {
	r, err := s.speak(command, 2)
	if err != nil {
		return 0, err
	}
	return decodeInt2(r)
}

func (s *SkyWatcher) inquireInt6(command string) (int, error) {
	r, err := s.speak(command, 6)
	if err != nil {
		return 0, err
	}
	return decodeInt6(r)
}

func (s *SkyWatcher) status(axis int) (axisStatus, error) {
	r, err := s.speak(fmt.Sprintf(":f%d", axis), 3)
	if err != nil {
		return axisStatus{}, err
	}
	v, err := strconv.ParseInt(r, 16, 32)
	if err != nil {
		return axisStatus{}, fmt.Errorf("%w: bad status %q", ErrComm, r)
	}
	return axisStatus{
		tracking:      v&0x100 != 0,
		ccw:           v&0x200 != 0,
		fast:          v&0x400 != 0,
		running:       v&0x010 != 0,
		blocked:       v&0x020 != 0,
		initDone:      v&0x001 != 0,
		levelSwitchOn: v&0x002 != 0,
	}, nil
}

// position reads one axis, converting encoder counts to radians.
func (s *SkyWatcher) position(axis int) (float64, error) {
	v, err := s.inquireInt6(fmt.Sprintf(":j%d", axis))
	if err != nil {
		return 0, err
	}
	return float64(v) / float64(s.cpr[axis]) * 2 * math.Pi, nil
}

// Attitude reads both axis positions. The values are raw encoder angles;
// landmark alignment is mandatory for this mount family.
func (s *SkyWatcher) Attitude() (float64, float64, error) {
	a, err := s.position(1)
	if err != nil {
		return 0, 0, err
	}
	b, err := s.position(2)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (s *SkyWatcher) setMotionMode(axis int, fast, ccw bool) error {
	value := 0x10
	if fast {
		value |= 0x20
	}
	if ccw {
		value |= 0x01
	}
	_, err := s.speak(fmt.Sprintf(":G%d%s", axis, encodeInt2(value)), 0)
	return err
}

func (s *SkyWatcher) setStepPeriod(axis int, period float64) error {
	if period < 0 {
		return fmt.Errorf("negative step period %v", period)
	}
	p := int(period)
	if p > 0xffffff {
		p = 0xffffff
	}
	_, err := s.speak(fmt.Sprintf(":I%d%s", axis, encodeInt6(p)), 0)
	return err
}

// slewAxis applies a signed rate to one axis. Stopping, or reversing
// direction, issues a stop; starting from rest issues motion mode, step
// period, and start; rate changes while moving are step-period writes
// only.
func (s *SkyWatcher) slewAxis(axis int, rate float64) error {
	if rate > skyWatcherMaxRate {
		rate = skyWatcherMaxRate
	} else if rate < -skyWatcherMaxRate {
		rate = -skyWatcherMaxRate
	}

	if rate == 0 || s.rate[axis]*rate < 0 {
		if _, err := s.speak(fmt.Sprintf(":K%d", axis), 0); err != nil {
			return err
		}
		s.rate[axis] = 0
		if rate == 0 {
			return nil
		}
	}

	starting := s.rate[axis] == 0
	if starting {
		// If the motor is still spinning down from the stop we just
		// issued, let it finish; the next control cycle retries.
		st, err := s.status(axis)
		if err != nil {
			return err
		}
		if st.running {
			return nil
		}
		if err := s.setMotionMode(axis, true, rate < 0); err != nil {
			return err
		}
	}

	period := float64(s.hsr[axis]) * float64(s.timerFreq) * 2 * math.Pi / math.Abs(rate) / float64(s.cpr[axis])
	if err := s.setStepPeriod(axis, period); err != nil {
		return err
	}

	if starting {
		if _, err := s.speak(fmt.Sprintf(":J%d", axis), 0); err != nil {
			return err
		}
	}

	s.rate[axis] = rate
	return nil
}

// SlewRate commands one axis. As with the NexStar, the primary motor runs
// backwards relative to increasing right ascension.
func (s *SkyWatcher) SlewRate(axis Axis, rate float64) error {
	switch axis {
	case AxisPrimary:
		if s.frame == FrameEquatorial {
			rate = -rate
		}
		return s.slewAxis(1, rate)
	case AxisSecondary:
		return s.slewAxis(2, rate)
	}
	return fmt.Errorf("invalid axis %d", axis)
}

// SlewBoth commands both axis rates.
func (s *SkyWatcher) SlewBoth(rate1, rate2 float64) error {
	if err := s.SlewRate(AxisPrimary, rate1); err != nil {
		return err
	}
	return s.SlewRate(AxisSecondary, rate2)
}

// SlewTo is not provided by the motor-controller protocol at the rates
// this program uses; the controller converges with the rate loop instead.
func (s *SkyWatcher) SlewTo(axis1, axis2 float64) error {
	return fmt.Errorf("absolute slew unsupported by the Sky-Watcher motor controller")
}

// SlewInProgress is always false; see SlewTo.
func (s *SkyWatcher) SlewInProgress() (bool, error) { return false, nil }

// SetTrackingMode is a no-op, provided for interface compatibility with
// the NexStar hand controller.
func (s *SkyWatcher) SetTrackingMode(mode TrackingMode) error { return nil }

// Cancel stops both axes.
func (s *SkyWatcher) Cancel() error {
	if err := s.slewAxis(1, 0); err != nil {
		return err
	}
	return s.slewAxis(2, 0)
}

// FrameKind reports the configured frame.
func (s *SkyWatcher) FrameKind() FrameKind { return s.frame }

// MaxSlewRate is the commanded-rate ceiling.
func (s *SkyWatcher) MaxSlewRate() float64 { return skyWatcherMaxRate }

// Aligned is false: the motor controller exposes raw encoder counts.
func (s *SkyWatcher) Aligned() bool { return false }

// Close closes the underlying transport.
func (s *SkyWatcher) Close() error { return s.client.Close() }
