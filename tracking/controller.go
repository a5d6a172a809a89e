package tracking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/nexplane/alignment"
	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
	"github.com/signalsfoundry/nexplane/model"
	"github.com/signalsfoundry/nexplane/mount"
)

// State is the controller's operating mode.
type State int

const (
	StateIdle State = iota
	StateSlewing
	StateTracking
	StateSunLockout
)

func (s State) String() string {
	switch s {
	case StateSlewing:
		return "slewing"
	case StateTracking:
		return "tracking"
	case StateSunLockout:
		return "SUN LOCKOUT"
	}
	return "idle"
}

// Defaults.
const (
	// DefaultSunExclusion is the keep-out radius around the Sun.
	DefaultSunExclusion = 20 * math.Pi / 180

	// DefaultTickInterval is the control cadence (20 Hz).
	DefaultTickInterval = 50 * time.Millisecond

	// slewEngageError is the error above which the controller requests
	// an absolute slew before engaging the rate loop.
	slewEngageError = 5 * math.Pi / 180

	// attitudeLossLimit is how long attitude reads may fail before the
	// controller drops to Idle.
	attitudeLossLimit = time.Second
)

// TargetSource answers extrapolation queries; the fusion table implements
// it.
type TargetSource interface {
	Extrapolate(ctx context.Context, hex string, t time.Time) (model.Target, bool)
}

// Status is a snapshot of controller state for the display.
type Status struct {
	State       State
	TrackedHex  string
	ScopeAz     float64 // world frame, radians
	ScopeEl     float64
	BiasAz      float64
	BiasEl      float64
	Kp, Ki, Kd  float64
	CommFailure bool

	// Sun and Moon directions plus the keep-out radius, for the sky
	// view's exclusion-zone rendering.
	SunAz        float64
	SunEl        float64
	MoonAz       float64
	MoonEl       float64
	SunExclusion float64
}

// Controller runs the pointing loop for one mount.
type Controller struct {
	mnt      mount.Mount
	source   TargetSource
	observer astro.Geodetic
	offset   alignment.Offset

	pid1, pid2 *PID

	SunExclusion float64

	log     logging.Logger
	metrics *observability.Collector

	// now, sunAzEl, and moonAzEl are swappable for deterministic tests.
	now      func() time.Time
	sunAzEl  func(astro.Geodetic, time.Time) (float64, float64)
	moonAzEl func(astro.Geodetic, time.Time) (float64, float64)

	// Operator inputs, owned by the display task.
	mu         sync.Mutex
	trackedHex string
	biasAz     float64
	biasEl     float64
	kp, ki, kd float64
	gainEpoch  int // bumped on every gain change

	// Controller-task state.
	state          State
	lastGainEpoch  int
	lastGoodRead   time.Time
	lastTrackedHex string
	lastTargetAz   float64 // pole-crossing azimuth freeze
	commFailure    bool
	stopped        bool

	// Display snapshot.
	statusMu sync.RWMutex
	status   Status
}

// NewController wires the pointing loop. metrics may be nil.
func NewController(mnt mount.Mount, source TargetSource, observer astro.Geodetic, offset alignment.Offset, kp, ki, kd float64, log logging.Logger, metrics *observability.Collector) *Controller {
	if log == nil {
		log = logging.Noop()
	}
	maxRate := mnt.MaxSlewRate()
	return &Controller{
		mnt:          mnt,
		source:       source,
		observer:     observer,
		offset:       offset,
		pid1:         NewPID(kp, ki, kd, maxRate),
		pid2:         NewPID(kp, ki, kd, maxRate),
		SunExclusion: DefaultSunExclusion,
		log:          log,
		metrics:      metrics,
		now:          time.Now,
		sunAzEl:      astro.SunAzEl,
		moonAzEl: func(obs astro.Geodetic, t time.Time) (float64, float64) {
			return astro.BodyAzEl(astro.Moon, obs, t)
		},
		kp:           kp,
		ki:           ki,
		kd:           kd,
		stopped:      true,
	}
}

// Track selects a target (empty string deselects).
func (c *Controller) Track(hex string) {
	c.mu.Lock()
	c.trackedHex = hex
	c.mu.Unlock()
}

// NudgeBias adds to the operator's manual az/el pointing offset.
func (c *Controller) NudgeBias(dAz, dEl float64) {
	c.mu.Lock()
	c.biasAz += dAz
	c.biasEl += dEl
	c.mu.Unlock()
}

// SetGains replaces the PID gains; the controller resets both integrators
// on its next tick.
func (c *Controller) SetGains(kp, ki, kd float64) {
	c.mu.Lock()
	c.kp, c.ki, c.kd = kp, ki, kd
	c.gainEpoch++
	c.mu.Unlock()
}

// Status returns the latest display snapshot.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Run ticks the controller at the configured cadence until ctx is
// cancelled, then stops the mount best-effort.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(DefaultTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.mnt.Cancel()
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one control cycle: read attitude, predict the target, apply
// the Sun interlock, and emit at most one rate command.
func (c *Controller) Tick(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	trackedHex := c.trackedHex
	biasAz, biasEl := c.biasAz, c.biasEl
	kp, ki, kd := c.kp, c.ki, c.kd
	gainEpoch := c.gainEpoch
	c.mu.Unlock()

	// Gain changes reset both axis controllers.
	if gainEpoch != c.lastGainEpoch {
		c.pid1.SetGains(kp, ki, kd)
		c.pid2.SetGains(kp, ki, kd)
		c.lastGainEpoch = gainEpoch
	}

	// Target changes (including deselect) also reset them.
	if trackedHex != c.lastTrackedHex {
		c.pid1.Reset()
		c.pid2.Reset()
		c.lastTrackedHex = trackedHex
	}

	// Read the mount. Attitude loss beyond the limit degrades to Idle;
	// the loop keeps ticking so the operator keeps the display.
	m1, m2, err := c.mnt.Attitude()
	if err != nil || !astro.Finite(m1, m2) {
		if c.lastGoodRead.IsZero() {
			c.lastGoodRead = now
		}
		if now.Sub(c.lastGoodRead) > attitudeLossLimit {
			if !c.commFailure {
				c.log.Warn(ctx, "mount attitude lost; controller idle", logging.Err(errOrNaN(err)))
			}
			c.commFailure = true
			c.toIdle()
		}
		c.publishStatus(trackedHex, biasAz, biasEl, kp, ki, kd, now)
		return
	}
	c.lastGoodRead = now
	c.commFailure = false

	// Mount frame to world frame.
	w1, w2 := c.offset.Apply(m1, m2)
	var scopeAz, scopeEl float64
	if c.mnt.FrameKind() == mount.FrameEquatorial {
		scopeAz, scopeEl = astro.RaDecToAltAz(w1, w2, c.observer, now)
	} else {
		scopeAz, scopeEl = w1, astro.Clamp(astro.WrapRad(w2, -math.Pi), -math.Pi/2, math.Pi/2)
	}
	c.lastScope(scopeAz, scopeEl)

	sunAz, sunEl := c.sunAzEl(c.observer, now)

	// No target: idle.
	if trackedHex == "" {
		// Leaving lockout requires nothing further; with no target
		// selected the mount is already stopped.
		if c.state == StateSunLockout &&
			astro.AngularSeparation(scopeAz, scopeEl, sunAz, sunEl) > c.SunExclusion {
			c.state = StateIdle
		}
		c.toIdle()
		c.publishStatus(trackedHex, biasAz, biasEl, kp, ki, kd, now)
		return
	}

	target, ok := c.source.Extrapolate(ctx, trackedHex, now)
	if !ok {
		c.log.Info(ctx, "tracked target gone", logging.String("hex", trackedHex))
		c.Track("")
		c.toIdle()
		c.publishStatus("", biasAz, biasEl, kp, ki, kd, now)
		return
	}

	// Predicted world direction plus operator bias. Elevation clamps to
	// the pole; at the pole itself azimuth is undefined, so the last
	// finite azimuth is held.
	targetAz := astro.WrapRad(target.Az+biasAz, 0)
	targetEl := target.El + biasEl
	if targetEl >= math.Pi/2 || targetEl <= -math.Pi/2 {
		targetEl = astro.Clamp(targetEl, -math.Pi/2, math.Pi/2)
		targetAz = c.lastTargetAz
	}
	c.lastTargetAz = targetAz

	// Sun interlock: checked after prediction and before any command
	// leaves the controller. Both the predicted direction and the
	// current boresight must stay clear.
	if astro.AngularSeparation(targetAz, targetEl, sunAz, sunEl) < c.SunExclusion ||
		astro.AngularSeparation(scopeAz, scopeEl, sunAz, sunEl) < c.SunExclusion {
		c.toSunLockout(ctx)
		c.publishStatus(trackedHex, biasAz, biasEl, kp, ki, kd, now)
		return
	}
	if c.state == StateSunLockout {
		// Clear only once the operator has moved the boresight out of
		// the zone with the hand controller.
		c.state = StateIdle
	}

	// World direction to mount-frame setpoint. In the equatorial frame
	// the az/el bias was folded in above, which rotates it through the
	// parallactic angle at the target for free.
	var d1, d2 float64
	if c.mnt.FrameKind() == mount.FrameEquatorial {
		ra, dec := astro.AltAzToRaDec(targetAz, targetEl, c.observer, now)
		d1, d2 = c.offset.Unapply(ra, dec)
	} else {
		d1, d2 = c.offset.Unapply(targetAz, targetEl)
	}

	// Axis errors; the azimuth-like axis takes the short way around.
	e1 := astro.WrapRad(d1-m1, -math.Pi)
	e2 := astro.WrapRad(d2-m2, -math.Pi)

	// Large initial error: request one absolute slew to get close, then
	// let the rate loop converge. Mounts without GOTO support converge
	// on rates alone.
	if c.state != StateSlewing && c.state != StateTracking {
		if math.Abs(e1) > slewEngageError || math.Abs(e2) > slewEngageError {
			if err := c.mnt.SlewTo(d1, d2); err == nil {
				c.state = StateSlewing
				c.stopped = false
				c.publishStatus(trackedHex, biasAz, biasEl, kp, ki, kd, now)
				return
			}
		}
		c.state = StateTracking
	}

	if c.state == StateSlewing {
		busy, err := c.mnt.SlewInProgress()
		if err == nil && busy {
			c.publishStatus(trackedHex, biasAz, biasEl, kp, ki, kd, now)
			return
		}
		c.state = StateTracking
		c.pid1.Reset()
		c.pid2.Reset()
	}

	rate1 := c.pid1.Control(e1)
	rate2 := c.pid2.Control(e2)

	c.stopped = false
	if err := c.mnt.SlewBoth(rate1, rate2); err != nil {
		// Device rejections are logged and the loop continues; the next
		// tick retries.
		c.log.Warn(ctx, "rate command rejected", logging.Err(err))
	}

	c.publishStatus(trackedHex, biasAz, biasEl, kp, ki, kd, now)
}

// errOrNaN labels a non-finite reading when err is nil.
func errOrNaN(err error) error {
	if err != nil {
		return err
	}
	return mount.ErrComm
}

// toIdle stops the mount once and resets both controllers.
func (c *Controller) toIdle() {
	if !c.stopped {
		_ = c.mnt.SlewBoth(0, 0)
		_ = c.mnt.SetTrackingMode(mount.TrackingOff)
		c.stopped = true
	}
	if c.state != StateSunLockout {
		c.state = StateIdle
	}
	c.pid1.Reset()
	c.pid2.Reset()
}

// toSunLockout stops all motion and latches the emergency state. Only
// boresight motion commanded from the physical hand controller can clear
// it.
func (c *Controller) toSunLockout(ctx context.Context) {
	if c.state != StateSunLockout {
		c.log.Error(ctx, "sun exclusion violated; stopping all motion")
	}
	c.state = StateSunLockout
	if !c.stopped {
		_ = c.mnt.SlewBoth(0, 0)
		_ = c.mnt.SetTrackingMode(mount.TrackingOff)
		c.stopped = true
	}
	c.pid1.Reset()
	c.pid2.Reset()
}

// lastScope is kept for the status snapshot.
func (c *Controller) lastScope(az, el float64) {
	c.statusMu.Lock()
	c.status.ScopeAz = az
	c.status.ScopeEl = el
	c.statusMu.Unlock()
}

// publishStatus refreshes the display snapshot and the state gauge.
func (c *Controller) publishStatus(trackedHex string, biasAz, biasEl, kp, ki, kd float64, now time.Time) {
	sunAz, sunEl := c.sunAzEl(c.observer, now)
	moonAz, moonEl := c.moonAzEl(c.observer, now)

	c.statusMu.Lock()
	c.status.State = c.state
	c.status.TrackedHex = trackedHex
	c.status.BiasAz = biasAz
	c.status.BiasEl = biasEl
	c.status.Kp, c.status.Ki, c.status.Kd = kp, ki, kd
	c.status.CommFailure = c.commFailure
	c.status.SunAz = sunAz
	c.status.SunEl = sunEl
	c.status.MoonAz = moonAz
	c.status.MoonEl = moonEl
	c.status.SunExclusion = c.SunExclusion
	c.statusMu.Unlock()

	if c.metrics != nil {
		c.metrics.ControllerState.Set(float64(c.state))
	}
}
