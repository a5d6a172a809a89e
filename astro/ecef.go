package astro

import "math"

// ECEFToGeodetic converts an Earth-centred Earth-fixed position in metres
// to WGS-84 geodetic coordinates by fixed-point iteration. Converges to
// well under a millimetre in a handful of rounds everywhere off the
// geocentre.
func ECEFToGeodetic(v Vec3) Geodetic {
	lon := math.Atan2(v.Y, v.X)
	p := math.Hypot(v.X, v.Y)

	if p == 0 {
		// On the polar axis.
		alt := math.Abs(v.Z) - wgs84A*(1-wgs84F)
		lat := math.Pi / 2
		if v.Z < 0 {
			lat = -lat
		}
		return Geodetic{Lat: lat, Lon: lon, Alt: alt}
	}

	lat := math.Atan2(v.Z, p*(1-wgs84E2))
	var alt float64
	for i := 0; i < 8; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		alt = p/math.Cos(lat) - n
		lat = math.Atan2(v.Z, p*(1-wgs84E2*n/(n+alt)))
	}
	return Geodetic{Lat: lat, Lon: lon, Alt: alt}
}
