package ephemeris

import (
	"fmt"
	"strconv"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/nexplane/astro"
)

// Satellite propagates one TLE with SGP4.
type Satellite struct {
	Name    string
	Catalog string // NORAD catalog number
	Hex     string // SBS-1 hex ident derived from the catalog number

	sat satellite.Satellite
}

// NewSatellite builds a propagator from a TLE entry. The SBS-1 hex ident
// is the catalog number rendered as zero-padded hex, so identities stay
// stable across restarts.
func NewSatellite(tle TLE) (*Satellite, error) {
	catalog := tle.CatalogNumber()
	num, err := strconv.Atoi(catalog)
	if err != nil {
		return nil, fmt.Errorf("satellite %q: bad catalog number %q", tle.Name, catalog)
	}
	return &Satellite{
		Name:    tle.Name,
		Catalog: catalog,
		Hex:     fmt.Sprintf("%06X", num),
		sat:     satellite.TLEToSat(tle.Line1, tle.Line2, satellite.GravityWGS72),
	}, nil
}

// Geodetic returns the satellite's WGS-84 position at t.
// go-satellite propagates in kilometres; the result is metres.
func (s *Satellite) Geodetic(t time.Time) (astro.Geodetic, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(s.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	ecef := astro.Vec3{X: posECEF.X * kmToM, Y: posECEF.Y * kmToM, Z: posECEF.Z * kmToM}
	if !astro.Finite(ecef.X, ecef.Y, ecef.Z) || ecef.Norm() < 6.3e6 {
		return astro.Geodetic{}, fmt.Errorf("satellite %s: propagation failed at %v", s.Name, t)
	}
	return astro.ECEFToGeodetic(ecef), nil
}
