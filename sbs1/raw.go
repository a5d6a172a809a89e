package sbs1

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/model"
)

// Unit conversions used by the BaseStation format.
const (
	metersPerFoot    = 0.3048
	metersPerSecondPerKnot = 0.514444
	feetPerMinuteToMPS     = metersPerFoot / 60

	// Altitude above which a target counts as being in space
	// (the McDowell line).
	spaceAltitudeMeters = 80000
)

// rawTarget accumulates fields for one hex ident until enough data is
// present to compute a pointing solution. Only the position fix records
// its receipt time; the other fields carry no timestamp.
type rawTarget struct {
	hex      string
	callsign string

	altitude     float64
	groundSpeed  float64
	track        float64
	lat, lon     float64
	verticalRate float64

	hasAltitude bool
	hasVelocity bool // ground speed + track + vertical rate
	hasPosition bool // lat + lon

	posTime time.Time // receipt time of the latest position fix
}

// update folds one decoded message into the accumulator. It returns true
// if the message carried a position fix.
func (r *rawTarget) update(m Message, now time.Time) bool {
	if m.HasCallsign {
		r.callsign = m.Callsign
	}
	if m.HasAltitude {
		r.altitude = m.Altitude
		r.hasAltitude = true
	}
	if m.HasGroundSpeed && m.HasTrack && m.HasVerticalRate {
		r.groundSpeed = m.GroundSpeed
		r.track = m.Track
		r.verticalRate = m.VerticalRate
		r.hasVelocity = true
	}
	if m.HasLat && m.HasLon {
		r.lat = m.Lat
		r.lon = m.Lon
		r.hasPosition = true
		r.posTime = now
		return true
	}
	return false
}

// complete reports whether a pointing solution can be computed.
func (r *rawTarget) complete() bool {
	return r.hasAltitude && r.hasVelocity && r.hasPosition
}

// report converts the accumulated raw data into a Report in the
// observer's NED frame.
func (r *rawTarget) report(observer astro.Geodetic) (model.Report, error) {
	if !r.complete() {
		return model.Report{}, fmt.Errorf("incomplete data for %s", r.hex)
	}

	altM := r.altitude * metersPerFoot
	position := astro.Geodetic{
		Lat: astro.DegToRad(r.lat),
		Lon: astro.DegToRad(r.lon),
		Alt: altM,
	}

	// Velocity in the aircraft's own NED frame from track, ground speed,
	// and climb rate.
	trackRad := astro.DegToRad(r.track)
	speed := r.groundSpeed * metersPerSecondPerKnot
	velLocal := astro.Vec3{
		X: math.Cos(trackRad) * speed,
		Y: math.Sin(trackRad) * speed,
		Z: -r.verticalRate * feetPerMinuteToMPS,
	}

	// Rotate through the geocentric frame into the observer's NED frame.
	nP, eP, dP := position.NEDUnitVectors()
	velGC := nP.Scale(velLocal.X).Add(eP.Scale(velLocal.Y)).Add(dP.Scale(velLocal.Z))

	nO, eO, dO := observer.NEDUnitVectors()
	velNED := astro.Vec3{X: velGC.Dot(nO), Y: velGC.Dot(eO), Z: velGC.Dot(dO)}

	posNED := observer.NEDTo(position)

	if !astro.Finite(posNED.X, posNED.Y, posNED.Z, velNED.X, velNED.Y, velNED.Z) {
		return model.Report{}, fmt.Errorf("non-finite state for %s", r.hex)
	}

	callsign := r.callsign
	if callsign == "" {
		callsign = "?"
	}

	return model.Report{
		Hex:      r.hex,
		Callsign: callsign,
		PosNED:   posNED,
		VelNED:   velNED,
		InSpace:  altM > spaceAltitudeMeters,
		Time:     r.posTime,
	}, nil
}
