package astro

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Body is a solar-system object with a local low-precision ephemeris.
type Body int

const (
	Sun Body = iota
	Moon
	Mercury
	Venus
	Mars
	Jupiter
	Saturn
	Uranus
	Neptune
)

var bodyNames = map[string]Body{
	"sun":     Sun,
	"moon":    Moon,
	"mercury": Mercury,
	"venus":   Venus,
	"mars":    Mars,
	"jupiter": Jupiter,
	"saturn":  Saturn,
	"uranus":  Uranus,
	"neptune": Neptune,
}

// BodyByName resolves a lowercase solar-system body name.
func BodyByName(name string) (Body, error) {
	b, ok := bodyNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown solar-system body %q", name)
	}
	return b, nil
}

// BodyRaDec returns the geocentric right ascension and declination of a
// solar-system body at t, in radians. Accuracy is a small fraction of a
// degree, which is adequate for landmark alignment and keep-out checks.
func BodyRaDec(b Body, t time.Time) (ra, dec float64) {
	switch b {
	case Sun:
		return SunRaDec(t)
	case Moon:
		return moonRaDec(t)
	default:
		return planetRaDec(b, t)
	}
}

// BodyAzEl returns the topocentric azimuth and elevation of a body for an
// observer at t, in radians.
func BodyAzEl(b Body, obs Geodetic, t time.Time) (az, el float64) {
	ra, dec := BodyRaDec(b, t)
	return RaDecToAltAz(ra, dec, obs, t)
}

// moonRaDec is a truncated lunar series (largest longitude and latitude
// terms only), giving geocentric coordinates good to roughly 0.3 degrees;
// no parallax correction is applied.
func moonRaDec(t time.Time) (ra, dec float64) {
	tc := (JulianDate(t) - 2451545.0) / 36525.0

	// Mean elements, degrees.
	lp := math.Mod(218.3164477+481267.88123421*tc, 360) // mean longitude
	d := math.Mod(297.8501921+445267.1114034*tc, 360)   // mean elongation
	m := math.Mod(357.5291092+35999.0502909*tc, 360)    // Sun mean anomaly
	mp := math.Mod(134.9633964+477198.8675055*tc, 360)  // Moon mean anomaly
	f := math.Mod(93.272095+483202.0175233*tc, 360)     // argument of latitude

	dR := DegToRad(d)
	mR := DegToRad(m)
	mpR := DegToRad(mp)
	fR := DegToRad(f)

	lon := lp +
		6.288774*math.Sin(mpR) +
		1.274027*math.Sin(2*dR-mpR) +
		0.658314*math.Sin(2*dR) +
		0.213618*math.Sin(2*mpR) -
		0.185116*math.Sin(mR) -
		0.114332*math.Sin(2*fR)

	lat := 5.128122*math.Sin(fR) +
		0.280602*math.Sin(mpR+fR) +
		0.277693*math.Sin(mpR-fR) +
		0.173237*math.Sin(2*dR-fR)

	return eclipticToRaDec(DegToRad(lon), DegToRad(lat), tc)
}

// planetElements holds Keplerian mean elements at J2000 and their rates
// per Julian century (Standish, valid 1800-2050): semi-major axis (AU),
// eccentricity, inclination, mean longitude, longitude of perihelion,
// longitude of ascending node (degrees).
type planetElements struct {
	a, aDot       float64
	e, eDot       float64
	i, iDot       float64
	l, lDot       float64
	peri, periDot float64
	node, nodeDot float64
}

var planetTable = map[Body]planetElements{
	Mercury: {0.38709927, 0.00000037, 0.20563593, 0.00001906, 7.00497902, -0.00594749, 252.25032350, 149472.67411175, 77.45779628, 0.16047689, 48.33076593, -0.12534081},
	Venus:   {0.72333566, 0.00000390, 0.00677672, -0.00004107, 3.39467605, -0.00078890, 181.97909950, 58517.81538729, 131.60246718, 0.00268329, 76.67984255, -0.27769418},
	Mars:    {1.52371034, 0.00001847, 0.09339410, 0.00007882, 1.84969142, -0.00813131, -4.55343205, 19140.30268499, -23.94362959, 0.44441088, 49.55953891, -0.29257343},
	Jupiter: {5.20288700, -0.00011607, 0.04838624, -0.00013253, 1.30439695, -0.00183714, 34.39644051, 3034.74612775, 14.72847983, 0.21252668, 100.47390909, 0.20469106},
	Saturn:  {9.53667594, -0.00125060, 0.05386179, -0.00050991, 2.48599187, 0.00193609, 49.95424423, 1222.49362201, 92.59887831, -0.41897216, 113.66242448, -0.28867794},
	Uranus:  {19.18916464, -0.00196176, 0.04725744, -0.00004397, 0.77263783, -0.00242939, 313.23810451, 428.48202785, 170.95427630, 0.40805281, 74.01692503, 0.04240589},
	Neptune: {30.06992276, 0.00026291, 0.00859048, 0.00005105, 1.77004347, 0.00035372, -55.12002969, 218.45945325, 44.96476227, -0.32241464, 131.78422574, -0.00508664},
}

// earthElements are the EM-barycentre elements, used to place the observer.
var earthElements = planetElements{1.00000261, 0.00000562, 0.01671123, -0.00004392, -0.00001531, -0.01294668, 100.46457166, 35999.37244981, 102.93768193, 0.32327364, 0.0, 0.0}

// heliocentricEcliptic returns the heliocentric ecliptic position of a
// planet in AU at the given Julian centuries from J2000.
func heliocentricEcliptic(el planetElements, tc float64) Vec3 {
	a := el.a + el.aDot*tc
	e := el.e + el.eDot*tc
	i := DegToRad(el.i + el.iDot*tc)
	l := DegToRad(el.l + el.lDot*tc)
	peri := DegToRad(el.peri + el.periDot*tc)
	node := DegToRad(el.node + el.nodeDot*tc)

	// Mean anomaly and argument of perihelion.
	ma := WrapRad(l-peri, -math.Pi)
	argPeri := peri - node

	// Solve Kepler's equation by Newton iteration.
	ea := ma
	for n := 0; n < 8; n++ {
		ea -= (ea - e*math.Sin(ea) - ma) / (1 - e*math.Cos(ea))
	}

	// Position in the orbital plane.
	xp := a * (math.Cos(ea) - e)
	yp := a * math.Sqrt(1-e*e) * math.Sin(ea)

	cosW := math.Cos(argPeri)
	sinW := math.Sin(argPeri)
	cosO := math.Cos(node)
	sinO := math.Sin(node)
	cosI := math.Cos(i)
	sinI := math.Sin(i)

	return Vec3{
		X: (cosW*cosO-sinW*sinO*cosI)*xp + (-sinW*cosO-cosW*sinO*cosI)*yp,
		Y: (cosW*sinO+sinW*cosO*cosI)*xp + (-sinW*sinO+cosW*cosO*cosI)*yp,
		Z: sinW*sinI*xp + cosW*sinI*yp,
	}
}

// planetRaDec returns the geocentric RA/Dec of a planet from mean orbital
// elements.
func planetRaDec(b Body, t time.Time) (ra, dec float64) {
	tc := (JulianDate(t) - 2451545.0) / 36525.0

	planet := heliocentricEcliptic(planetTable[b], tc)
	earth := heliocentricEcliptic(earthElements, tc)
	geo := planet.Sub(earth)

	lon := math.Atan2(geo.Y, geo.X)
	lat := math.Atan2(geo.Z, math.Hypot(geo.X, geo.Y))
	return eclipticToRaDec(lon, lat, tc)
}

// eclipticToRaDec rotates ecliptic longitude/latitude (radians) into
// equatorial RA/Dec using the mean obliquity.
func eclipticToRaDec(lon, lat, tc float64) (ra, dec float64) {
	eps := DegToRad(23.439291 - 0.0130042*tc)

	sinLon := math.Sin(lon)
	ra = WrapRad(math.Atan2(sinLon*math.Cos(eps)-math.Tan(lat)*math.Sin(eps), math.Cos(lon)), 0)
	dec = math.Asin(Clamp(math.Sin(lat)*math.Cos(eps)+math.Cos(lat)*math.Sin(eps)*sinLon, -1, 1))
	return ra, dec
}
