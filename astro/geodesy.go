package astro

import "math"

// WGS-84 ellipsoid constants.
const (
	wgs84A  = 6378137.0          // semi-major axis, metres
	wgs84F  = 1 / 298.257223563  // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Vec3 is a Cartesian vector in metres. Depending on context it is either
// geocentric (ECEF) or local north-east-down.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Geodetic is a WGS-84 position: latitude and longitude in radians
// (north and east positive), altitude in metres above the ellipsoid.
type Geodetic struct {
	Lat, Lon, Alt float64
}

// ECEF converts the geodetic position to Earth-centred Earth-fixed
// coordinates in metres.
func (g Geodetic) ECEF() Vec3 {
	sinLat := math.Sin(g.Lat)
	cosLat := math.Cos(g.Lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return Vec3{
		X: (n + g.Alt) * cosLat * math.Cos(g.Lon),
		Y: (n + g.Alt) * cosLat * math.Sin(g.Lon),
		Z: (n*(1-wgs84E2) + g.Alt) * sinLat,
	}
}

// NEDUnitVectors returns the geocentric directions of local north, east,
// and down at the position.
func (g Geodetic) NEDUnitVectors() (n, e, d Vec3) {
	sinLat := math.Sin(g.Lat)
	cosLat := math.Cos(g.Lat)
	sinLon := math.Sin(g.Lon)
	cosLon := math.Cos(g.Lon)

	n = Vec3{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	e = Vec3{-sinLon, cosLon, 0}
	d = Vec3{-cosLat * cosLon, -cosLat * sinLon, -sinLat}
	return n, e, d
}

// NEDTo computes the position of target in the local north-east-down frame
// of g, in metres.
func (g Geodetic) NEDTo(target Geodetic) Vec3 {
	rel := target.ECEF().Sub(g.ECEF())
	n, e, d := g.NEDUnitVectors()
	return Vec3{rel.Dot(n), rel.Dot(e), rel.Dot(d)}
}

// NEDToAER converts a north-east-down vector to azimuth, elevation
// (radians) and range (metres).
func NEDToAER(ned Vec3) (az, el, rng float64) {
	az = WrapRad(math.Atan2(ned.Y, ned.X), 0)
	el = WrapRad(math.Atan2(-ned.Z, math.Hypot(ned.X, ned.Y)), -math.Pi)
	rng = ned.Norm()
	return az, el, rng
}

// AERToNED converts azimuth, elevation, and range to a north-east-down
// vector.
func AERToNED(az, el, rng float64) Vec3 {
	horiz := rng * math.Cos(el)
	return Vec3{
		X: horiz * math.Cos(az),
		Y: horiz * math.Sin(az),
		Z: -rng * math.Sin(el),
	}
}
