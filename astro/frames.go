package astro

import (
	"math"
	"time"
)

// AltAzToRaDec converts topocentric azimuth/elevation (radians, azimuth
// from north through east) to right ascension and declination for an
// observer at the given geodetic position and time.
func AltAzToRaDec(az, el float64, obs Geodetic, t time.Time) (ra, dec float64) {
	sinLat := math.Sin(obs.Lat)
	cosLat := math.Cos(obs.Lat)
	sinEl := math.Sin(el)
	cosEl := math.Cos(el)

	sinDec := sinLat*sinEl + cosLat*cosEl*math.Cos(az)
	dec = math.Asin(Clamp(sinDec, -1, 1))

	// Hour angle from the same spherical triangle.
	ha := math.Atan2(-cosEl*math.Sin(az), cosLat*sinEl-sinLat*cosEl*math.Cos(az))

	ra = WrapRad(LST(t, obs.Lon)-ha, 0)
	return ra, dec
}

// RaDecToAltAz converts right ascension and declination (radians) to
// topocentric azimuth/elevation for an observer at the given geodetic
// position and time.
func RaDecToAltAz(ra, dec float64, obs Geodetic, t time.Time) (az, el float64) {
	ha := LST(t, obs.Lon) - ra

	sinLat := math.Sin(obs.Lat)
	cosLat := math.Cos(obs.Lat)
	sinDec := math.Sin(dec)
	cosDec := math.Cos(dec)

	sinEl := sinLat*sinDec + cosLat*cosDec*math.Cos(ha)
	el = math.Asin(Clamp(sinEl, -1, 1))

	az = WrapRad(math.Atan2(-cosDec*math.Sin(ha), cosLat*sinDec-sinLat*cosDec*math.Cos(ha)), 0)
	return az, el
}

// ParallacticAngle returns the angle between the direction of the celestial
// pole and the local vertical at the given sky position, in radians.
// It is the rotation between "up on the sky display" and "+declination"
// for an equatorial mount.
func ParallacticAngle(ra, dec float64, obs Geodetic, t time.Time) float64 {
	ha := LST(t, obs.Lon) - ra
	num := math.Sin(ha)
	den := math.Tan(obs.Lat)*math.Cos(dec) - math.Sin(dec)*math.Cos(ha)
	return math.Atan2(num, den)
}
