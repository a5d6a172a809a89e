// Package alignment implements one-point landmark alignment: a constant
// per-axis angular offset between the mount's reported frame and the
// world frame, derived from a single attitude reading taken while the
// mount points at a known object.
//
// The offset model assumes the mount and world frames share their
// vertical axis. For an arbitrarily oriented mount this is only exact at
// the landmark itself, and pointing accuracy degrades with angular
// distance from it. That limitation is inherited from the single-point
// procedure and accepted.
package alignment

import (
	"math"

	"github.com/signalsfoundry/nexplane/astro"
)

// Offset is the pair of angles added to every mount reading to map it
// into the world frame. For an alt-az mount the axes are azimuth and
// elevation; for an equatorial mount, right ascension and declination.
type Offset struct {
	A1, A2 float64 // radians
}

// Apply maps a mount-frame reading to the world frame.
func (o Offset) Apply(a1, a2 float64) (float64, float64) {
	return astro.WrapRad(a1+o.A1, 0), astro.WrapRad(a2+o.A2, -math.Pi)
}

// Unapply maps a world-frame direction to the mount frame. It is the
// exact inverse of Apply.
func (o Offset) Unapply(w1, w2 float64) (float64, float64) {
	return astro.WrapRad(w1-o.A1, 0), astro.WrapRad(w2-o.A2, -math.Pi)
}

// Compute derives the offset from the landmark's world-frame direction
// and the mount's reading taken while pointed at it.
func Compute(world1, world2, mount1, mount2 float64) Offset {
	return Offset{
		A1: astro.WrapRad(world1-mount1, 0),
		A2: astro.WrapRad(world2-mount2, 0),
	}
}
