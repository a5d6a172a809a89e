package astro

import (
	"math"
	"time"
)

// SunRaDec returns the apparent right ascension and declination of the Sun
// at t, in radians. Low-precision series from the Astronomical Almanac,
// good to about 0.01 degrees. That is far tighter than the Sun keep-out
// radius it guards.
func SunRaDec(t time.Time) (ra, dec float64) {
	jd := JulianDate(t)
	tc := (jd - 2451545.0) / 36525.0

	// Mean longitude and mean anomaly of the Sun, degrees.
	l0 := math.Mod(280.46646+36000.76983*tc+0.0003032*tc*tc, 360)
	m := math.Mod(357.52911+35999.05029*tc-0.0001537*tc*tc, 360)
	mRad := DegToRad(m)

	// Equation of center.
	c := (1.914602-0.004817*tc-0.000014*tc*tc)*math.Sin(mRad) +
		(0.019993-0.000101*tc)*math.Sin(2*mRad) +
		0.000289*math.Sin(3*mRad)

	trueLon := l0 + c

	// Apparent longitude, corrected for aberration and nutation.
	omega := 125.04 - 1934.136*tc
	appLon := trueLon - 0.00569 - 0.00478*math.Sin(DegToRad(omega))

	// Obliquity of the ecliptic.
	eps0 := 23.439291 - 0.0130042*tc - 0.00000016*tc*tc + 0.000000504*tc*tc*tc
	eps := eps0 + 0.00256*math.Cos(DegToRad(omega))

	lonRad := DegToRad(appLon)
	epsRad := DegToRad(eps)

	ra = WrapRad(math.Atan2(math.Cos(epsRad)*math.Sin(lonRad), math.Cos(lonRad)), 0)
	dec = math.Asin(Clamp(math.Sin(epsRad)*math.Sin(lonRad), -1, 1))
	return ra, dec
}

// SunAzEl returns the topocentric azimuth and elevation of the Sun for an
// observer at t, in radians.
func SunAzEl(obs Geodetic, t time.Time) (az, el float64) {
	ra, dec := SunRaDec(t)
	return RaDecToAltAz(ra, dec, obs, t)
}
