// Package tracking closes the pointing loop: per-axis PID controllers
// turn the angular error between the predicted target direction and the
// mount's reported attitude into slew-rate commands, guarded by a hard
// Sun-exclusion interlock.
package tracking

import (
	"time"

	"github.com/signalsfoundry/nexplane/astro"
)

// PID is a single-axis proportional-integral-derivative controller
// operating on angular error in radians and emitting a rate in radians
// per second.
type PID struct {
	kp, ki, kd float64

	// maxOutput saturates the output; the integrator is clamped to the
	// level that alone would saturate, which stops windup during long
	// slews.
	maxOutput float64

	iErr     float64
	lastErr  float64
	haveLast bool
	lastTime time.Time

	now func() time.Time
}

// NewPID constructs a controller with the given gains and output limit.
func NewPID(kp, ki, kd, maxOutput float64) *PID {
	p := &PID{now: time.Now, maxOutput: maxOutput}
	p.SetGains(kp, ki, kd)
	return p
}

// SetGains replaces the gains and resets the controller state.
func (p *PID) SetGains(kp, ki, kd float64) {
	p.kp = kp
	p.ki = ki
	p.kd = kd
	p.Reset()
}

// Reset zeroes the integrator and derivative memory.
func (p *PID) Reset() {
	p.iErr = 0
	p.haveLast = false
}

// IntegratorContribution returns the integral term's share of the next
// output.
func (p *PID) IntegratorContribution() float64 {
	return p.ki * p.iErr
}

// Control advances one step with the given error and returns the rate
// command.
func (p *PID) Control(err float64) float64 {
	now := p.now()

	output := p.kp * err

	if p.haveLast {
		dt := now.Sub(p.lastTime).Seconds()
		if dt > 0 {
			p.iErr += err * dt
			if p.ki > 0 {
				// Anti-windup: the integral term alone may not exceed
				// the output limit.
				limit := p.maxOutput / p.ki
				p.iErr = astro.Clamp(p.iErr, -limit, limit)
			}
			output += p.ki * p.iErr
			output += p.kd * (err - p.lastErr) / dt
		}
	}

	p.lastErr = err
	p.lastTime = now
	p.haveLast = true

	return astro.Clamp(output, -p.maxOutput, p.maxOutput)
}
