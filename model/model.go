// Package model holds the shared data types passed between the ingest,
// fusion, control, and display layers.
package model

import (
	"time"

	"github.com/signalsfoundry/nexplane/astro"
)

// Report is one decoded position/velocity update for a target, expressed
// in the observer's north-east-down frame.
type Report struct {
	Hex      string // Mode S hex ident (satellites use their catalog number)
	Callsign string

	PosNED astro.Vec3 // metres
	VelNED astro.Vec3 // metres/second

	InSpace bool // above the McDowell line (80 km)

	Time time.Time // monotonic-clock receipt time of the position fix
}

// Target is the fused state of one tracked object.
type Target struct {
	Hex      string
	Callsign string

	PosNED astro.Vec3
	VelNED astro.Vec3

	Az, El float64 // radians, from the observer, at Time
	Range  float64 // metres

	InSpace bool
	Time    time.Time
}

// Extrapolate projects the target forward to t assuming constant velocity
// and returns the result as a new Target.
func (g Target) Extrapolate(t time.Time) Target {
	dt := t.Sub(g.Time).Seconds()
	out := g
	out.PosNED = g.PosNED.Add(g.VelNED.Scale(dt))
	out.Az, out.El, out.Range = astro.NEDToAER(out.PosNED)
	out.Time = t
	return out
}

// Stale reports whether the target has had no update for longer than
// maxAge at time now.
func (g Target) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(g.Time) > maxAge
}
