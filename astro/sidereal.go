package astro

import (
	"math"
	"time"
)

// JulianDate returns the Julian Date for t.
func JulianDate(t time.Time) float64 {
	t = t.UTC()

	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())

	dayFrac := (float64(t.Hour()) +
		float64(t.Minute())/60 +
		float64(t.Second())/3600 +
		float64(t.Nanosecond())/3600e9) / 24.0

	// January and February count as months 13 and 14 of the previous year.
	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) +
		math.Floor(30.6001*(m+1)) +
		d + dayFrac + b - 1524.5
}

// GMST returns Greenwich mean sidereal time at t, in radians.
// IAU 1982 series.
func GMST(t time.Time) float64 {
	jd := JulianDate(t)
	tc := (jd - 2451545.0) / 36525.0

	deg := 280.46061837 +
		360.98564736629*(jd-2451545.0) +
		0.000387933*tc*tc -
		tc*tc*tc/38710000.0

	return WrapRad(DegToRad(deg), 0)
}

// LST returns local mean sidereal time for an observer at the given east
// longitude (radians), in radians.
func LST(t time.Time, lon float64) float64 {
	return WrapRad(GMST(t)+lon, 0)
}
