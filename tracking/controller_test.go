package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/nexplane/alignment"
	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/model"
	"github.com/signalsfoundry/nexplane/mount"
)

var testObserver = astro.Geodetic{
	Lat: astro.DegToRad(38.879084),
	Lon: astro.DegToRad(-77.036531),
	Alt: 18,
}

// idealMount is an in-memory alt-az or equatorial mount with generous
// limits, integrating commanded rates against a fake clock. It records
// every command for assertions.
type idealMount struct {
	mu    sync.Mutex
	frame mount.FrameKind

	pos1, pos2   float64
	rate1, rate2 float64

	gotoActive       bool
	gotoTo1, gotoTo2 float64

	last time.Time
	now  func() time.Time

	attitudeErr error

	slewRateCalls int
	cancelCalls   int
}

const idealGotoRate = 30 * math.Pi / 180 // 30 deg/s

func newIdealMount(frame mount.FrameKind, now func() time.Time) *idealMount {
	return &idealMount{frame: frame, now: now}
}

func (m *idealMount) advance() {
	now := m.now()
	if m.last.IsZero() {
		m.last = now
		return
	}
	dt := now.Sub(m.last).Seconds()
	m.last = now
	if dt <= 0 {
		return
	}
	if m.gotoActive {
		step := idealGotoRate * dt
		d1 := astro.WrapRad(m.gotoTo1-m.pos1, -math.Pi)
		d2 := astro.WrapRad(m.gotoTo2-m.pos2, -math.Pi)
		m.pos1 += astro.Clamp(d1, -step, step)
		m.pos2 += astro.Clamp(d2, -step, step)
		if math.Abs(d1) <= step && math.Abs(d2) <= step {
			m.pos1, m.pos2 = m.gotoTo1, m.gotoTo2
			m.gotoActive = false
		}
		return
	}
	m.pos1 = astro.WrapRad(m.pos1+m.rate1*dt, 0)
	m.pos2 += m.rate2 * dt
}

func (m *idealMount) Attitude() (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attitudeErr != nil {
		return 0, 0, m.attitudeErr
	}
	m.advance()
	return m.pos1, m.pos2, nil
}

func (m *idealMount) SlewRate(axis mount.Axis, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.slewRateCalls++
	if axis == mount.AxisPrimary {
		m.rate1 = rate
	} else {
		m.rate2 = rate
	}
	return nil
}

func (m *idealMount) SlewBoth(rate1, rate2 float64) error {
	if err := m.SlewRate(mount.AxisPrimary, rate1); err != nil {
		return err
	}
	return m.SlewRate(mount.AxisSecondary, rate2)
}

func (m *idealMount) SlewTo(a1, a2 float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.gotoTo1, m.gotoTo2 = a1, a2
	m.gotoActive = true
	return nil
}

func (m *idealMount) SlewInProgress() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	return m.gotoActive, nil
}

func (m *idealMount) SetTrackingMode(mount.TrackingMode) error { return nil }

func (m *idealMount) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	m.gotoActive = false
	m.rate1, m.rate2 = 0, 0
	return nil
}

func (m *idealMount) FrameKind() mount.FrameKind { return m.frame }
func (m *idealMount) MaxSlewRate() float64       { return 1.0 }
func (m *idealMount) Aligned() bool              { return true }
func (m *idealMount) Close() error               { return nil }

// staticSource serves one fixed-direction target.
type staticSource struct {
	hex    string
	az, el float64
}

func (s *staticSource) Extrapolate(ctx context.Context, hex string, t time.Time) (model.Target, bool) {
	if hex != s.hex {
		return model.Target{}, false
	}
	pos := astro.AERToNED(s.az, s.el, 100000)
	return model.Target{
		Hex: hex, Callsign: "TEST",
		PosNED: pos,
		Az:     s.az, El: s.el, Range: 100000,
		Time: t,
	}, true
}

// testController builds a controller with a fake clock, a distant Sun,
// and the default gains.
func testController(frame mount.FrameKind, src TargetSource) (*Controller, *idealMount, *pidClock) {
	clock := &pidClock{t: time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)}
	mnt := newIdealMount(frame, clock.now)

	c := NewController(mnt, src, testObserver, alignment.Offset{}, 1.0, 0.1, 0.1, logging.Noop(), nil)
	c.now = clock.now
	c.pid1.now = clock.now
	c.pid2.now = clock.now
	// Park the Sun underfoot unless a test moves it.
	c.sunAzEl = func(astro.Geodetic, time.Time) (float64, float64) {
		return 0, -math.Pi / 2
	}
	return c, mnt, clock
}

func runTicks(c *Controller, clock *pidClock, n int, dt time.Duration) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		c.Tick(ctx)
		clock.step(dt)
	}
}

func TestController_HOOTLConvergence(t *testing.T) {
	// Synthetic target fixed at az 180, el 45; mount starts at (0, 0).
	// Ten seconds of simulated time at 20 Hz must converge both axes to
	// within 0.1 degrees.
	src := &staticSource{hex: "0:s1", az: astro.DegToRad(180), el: astro.DegToRad(45)}
	c, mnt, clock := testController(mount.FrameAltAz, src)

	c.Track("0:s1")
	runTicks(c, clock, 200, 50*time.Millisecond)

	az, el, _ := mnt.Attitude()
	azErr := math.Abs(astro.RadToDeg(astro.WrapRad(az-astro.DegToRad(180), -math.Pi)))
	elErr := math.Abs(astro.RadToDeg(el - astro.DegToRad(45)))
	if azErr > 0.1 || elErr > 0.1 {
		t.Errorf("after 10 s: az error %.4f deg, el error %.4f deg, want <= 0.1", azErr, elErr)
	}
	if c.Status().State != StateTracking {
		t.Errorf("state = %v, want tracking", c.Status().State)
	}
}

func TestController_AzimuthTakesShortWayAround(t *testing.T) {
	// Target at az 350, mount at az 10: the short way is -20 degrees
	// through north, never +340.
	src := &staticSource{hex: "0:w", az: astro.DegToRad(350), el: astro.DegToRad(20)}
	c, mnt, clock := testController(mount.FrameAltAz, src)

	mnt.pos1 = astro.DegToRad(10)
	mnt.pos2 = astro.DegToRad(20)
	c.Track("0:w")

	runTicks(c, clock, 400, 50*time.Millisecond)

	az, _, _ := mnt.Attitude()
	azErr := math.Abs(astro.RadToDeg(astro.WrapRad(az-astro.DegToRad(350), -math.Pi)))
	if azErr > 0.1 {
		t.Errorf("azimuth error %.3f deg after 20 s", azErr)
	}
}

func TestController_SunLockoutZeroRate(t *testing.T) {
	// Sun at az 180, el 30; target injected at az 181, el 30. Selecting
	// it must produce no motion commands at all.
	src := &staticSource{hex: "0:x", az: astro.DegToRad(181), el: astro.DegToRad(30)}
	c, mnt, clock := testController(mount.FrameAltAz, src)
	c.sunAzEl = func(astro.Geodetic, time.Time) (float64, float64) {
		return astro.DegToRad(180), astro.DegToRad(30)
	}

	c.Track("0:x")
	runTicks(c, clock, 40, 50*time.Millisecond)

	if got := c.Status().State; got != StateSunLockout {
		t.Fatalf("state = %v, want sun lockout", got)
	}
	if mnt.slewRateCalls != 0 {
		t.Errorf("%d rate commands reached the mount during lockout", mnt.slewRateCalls)
	}
	if mnt.gotoActive {
		t.Error("absolute slew initiated during lockout")
	}

	mnt.mu.Lock()
	if mnt.rate1 != 0 || mnt.rate2 != 0 {
		t.Errorf("mount rates = (%v, %v), want (0, 0)", mnt.rate1, mnt.rate2)
	}
	mnt.mu.Unlock()
}

func TestController_SunLockoutClearsWhenBoresightMoved(t *testing.T) {
	src := &staticSource{hex: "0:x", az: astro.DegToRad(181), el: astro.DegToRad(30)}
	c, mnt, clock := testController(mount.FrameAltAz, src)
	c.sunAzEl = func(astro.Geodetic, time.Time) (float64, float64) {
		return astro.DegToRad(180), astro.DegToRad(30)
	}

	// Start with the boresight inside the keep-out zone while a target
	// beside the Sun is selected.
	mnt.pos1 = astro.DegToRad(175)
	mnt.pos2 = astro.DegToRad(30)
	c.Track("0:x")
	runTicks(c, clock, 5, 50*time.Millisecond)
	if c.Status().State != StateSunLockout {
		t.Fatal("not locked out")
	}

	// Deselect, then simulate the operator moving the scope away with
	// the hand controller.
	c.Track("")
	mnt.mu.Lock()
	mnt.pos1 = astro.DegToRad(90)
	mnt.pos2 = astro.DegToRad(10)
	mnt.mu.Unlock()
	runTicks(c, clock, 5, 50*time.Millisecond)

	if got := c.Status().State; got != StateIdle {
		t.Errorf("state = %v, want idle after the operator cleared the zone", got)
	}
}

func TestController_IntegratorResetOnTargetDeselect(t *testing.T) {
	src := &staticSource{hex: "0:t", az: astro.DegToRad(100), el: astro.DegToRad(30)}
	c, _, clock := testController(mount.FrameAltAz, src)

	c.Track("0:t")
	runTicks(c, clock, 100, 50*time.Millisecond)

	// A small bias creates a persistent error so the integrator
	// accumulates.
	c.NudgeBias(astro.DegToRad(0.5), astro.DegToRad(0.5))
	runTicks(c, clock, 20, 50*time.Millisecond)
	if c.pid1.IntegratorContribution() == 0 && c.pid2.IntegratorContribution() == 0 {
		t.Fatal("integrator never accumulated")
	}

	c.Track("")
	runTicks(c, clock, 2, 50*time.Millisecond)

	if got := c.pid1.IntegratorContribution(); got != 0 {
		t.Errorf("axis 1 integrator contribution = %v after deselect, want 0", got)
	}
	if got := c.pid2.IntegratorContribution(); got != 0 {
		t.Errorf("axis 2 integrator contribution = %v after deselect, want 0", got)
	}
}

func TestController_IntegratorResetOnGainChange(t *testing.T) {
	src := &staticSource{hex: "0:t", az: astro.DegToRad(100), el: astro.DegToRad(30)}
	c, _, clock := testController(mount.FrameAltAz, src)

	c.Track("0:t")
	runTicks(c, clock, 100, 50*time.Millisecond)

	c.SetGains(2.0, 0.2, 0.0)
	runTicks(c, clock, 1, 50*time.Millisecond)

	// The gain change resets state; only the single tick after it may
	// have accumulated.
	limit := astro.DegToRad(360) * 0.05 // one tick of the largest plausible error
	if got := math.Abs(c.pid1.IntegratorContribution()); got > limit*0.2 {
		t.Errorf("axis 1 integrator contribution = %v right after gain change", got)
	}
}

func TestController_AttitudeLossDegradesToIdle(t *testing.T) {
	src := &staticSource{hex: "0:t", az: astro.DegToRad(100), el: astro.DegToRad(30)}
	c, mnt, clock := testController(mount.FrameAltAz, src)

	c.Track("0:t")
	runTicks(c, clock, 10, 50*time.Millisecond)

	mnt.mu.Lock()
	mnt.attitudeErr = errors.New("serial disappeared")
	mnt.mu.Unlock()

	// Over a second of failed reads drops the controller to idle with
	// the comm-failure flag for the banner.
	runTicks(c, clock, 30, 50*time.Millisecond)

	st := c.Status()
	if st.State != StateIdle {
		t.Errorf("state = %v, want idle", st.State)
	}
	if !st.CommFailure {
		t.Error("comm failure flag not raised")
	}
}

func TestController_NaNAttitudeTreatedAsFailure(t *testing.T) {
	src := &staticSource{hex: "0:t", az: astro.DegToRad(100), el: astro.DegToRad(30)}
	c, mnt, clock := testController(mount.FrameAltAz, src)

	c.Track("0:t")
	mnt.mu.Lock()
	mnt.pos1 = math.NaN()
	mnt.mu.Unlock()

	runTicks(c, clock, 30, 50*time.Millisecond)
	if !c.Status().CommFailure {
		t.Error("NaN attitude did not raise the comm failure flag")
	}
}

func TestController_EquatorialBiasIsVerticalOnDisplay(t *testing.T) {
	// An equatorial mount near the zenith: pressing "up" applies a
	// pure-elevation bias. Decomposing the resulting RA/Dec setpoint
	// back to az/el must show a vertical shift only.
	now := time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)
	targetAz := astro.DegToRad(135)
	targetEl := astro.DegToRad(80)
	bias := astro.DegToRad(0.5)

	raPlain, decPlain := astro.AltAzToRaDec(targetAz, targetEl, testObserver, now)
	raBiased, decBiased := astro.AltAzToRaDec(targetAz, targetEl+bias, testObserver, now)

	// The bias moved the setpoint in both RA and Dec...
	if raPlain == raBiased && decPlain == decBiased {
		t.Fatal("bias had no effect")
	}

	// ...but decomposed back onto the sky it is a pure vertical shift.
	azBack, elBack := astro.RaDecToAltAz(raBiased, decBiased, testObserver, now)
	if math.Abs(astro.WrapRad(azBack-targetAz, -math.Pi)) > astro.DegToRad(0.001) {
		t.Errorf("azimuth shifted by %v deg", astro.RadToDeg(azBack-targetAz))
	}
	if math.Abs(elBack-(targetEl+bias)) > astro.DegToRad(0.001) {
		t.Errorf("elevation shift = %v deg, want %v",
			astro.RadToDeg(elBack-targetEl), astro.RadToDeg(bias))
	}
}

func TestController_EquatorialTracking(t *testing.T) {
	src := &staticSource{hex: "0:eq", az: astro.DegToRad(120), el: astro.DegToRad(40)}
	c, mnt, clock := testController(mount.FrameEquatorial, src)

	c.Track("0:eq")
	runTicks(c, clock, 400, 50*time.Millisecond)

	// The mount's RA/Dec, mapped back to the sky, must sit on the
	// target.
	ra, dec, _ := mnt.Attitude()
	az, el := astro.RaDecToAltAz(ra, dec, testObserver, clock.now())
	azErr := math.Abs(astro.RadToDeg(astro.WrapRad(az-astro.DegToRad(120), -math.Pi)))
	elErr := math.Abs(astro.RadToDeg(el - astro.DegToRad(40)))
	if azErr > 0.2 || elErr > 0.2 {
		t.Errorf("sky error after 20 s: az %.3f deg, el %.3f deg", azErr, elErr)
	}
}

func TestController_StatusCarriesSkyMarkers(t *testing.T) {
	// The display draws the Sun keep-out rings and the Moon from the
	// status snapshot, so the controller must publish all three fields.
	src := &staticSource{hex: "0:t", az: astro.DegToRad(100), el: astro.DegToRad(30)}
	c, _, clock := testController(mount.FrameAltAz, src)
	c.moonAzEl = func(astro.Geodetic, time.Time) (float64, float64) {
		return astro.DegToRad(90), astro.DegToRad(25)
	}

	runTicks(c, clock, 2, 50*time.Millisecond)

	st := c.Status()
	if st.SunExclusion != c.SunExclusion {
		t.Errorf("status exclusion = %v, want %v", st.SunExclusion, c.SunExclusion)
	}
	if st.MoonAz != astro.DegToRad(90) || st.MoonEl != astro.DegToRad(25) {
		t.Errorf("status moon = (%v, %v)", st.MoonAz, st.MoonEl)
	}
}

func TestController_TargetAboveZenithClamped(t *testing.T) {
	// A (biased) target past the zenith clamps to 90 degrees elevation
	// and freezes the azimuth instead of producing NaNs or spinning the
	// azimuth axis.
	src := &staticSource{hex: "0:z", az: astro.DegToRad(45), el: astro.DegToRad(89.5)}
	c, mnt, clock := testController(mount.FrameAltAz, src)

	c.Track("0:z")
	runTicks(c, clock, 10, 50*time.Millisecond)
	c.NudgeBias(0, astro.DegToRad(2)) // pushes the setpoint past the pole
	runTicks(c, clock, 100, 50*time.Millisecond)

	_, el, err := mnt.Attitude()
	if err != nil {
		t.Fatal(err)
	}
	if !astro.Finite(el) {
		t.Fatal("mount elevation went non-finite")
	}
	if el > math.Pi/2+astro.DegToRad(1) {
		t.Errorf("elevation %v deg exceeded the zenith clamp", astro.RadToDeg(el))
	}
}

func TestController_DeselectIssuesStop(t *testing.T) {
	src := &staticSource{hex: "0:t", az: astro.DegToRad(90), el: astro.DegToRad(45)}
	c, mnt, clock := testController(mount.FrameAltAz, src)

	c.Track("0:t")
	runTicks(c, clock, 100, 50*time.Millisecond)

	c.Track("")
	runTicks(c, clock, 2, 50*time.Millisecond)

	mnt.mu.Lock()
	defer mnt.mu.Unlock()
	if mnt.rate1 != 0 || mnt.rate2 != 0 {
		t.Errorf("rates after deselect = (%v, %v), want (0, 0)", mnt.rate1, mnt.rate2)
	}
	if c.Status().State != StateIdle {
		t.Errorf("state = %v, want idle", c.Status().State)
	}
}
