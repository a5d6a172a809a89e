package astro

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

var testObserver = Geodetic{
	Lat: DegToRad(38.879084),
	Lon: DegToRad(-77.036531),
	Alt: 18,
}

func TestAltAzRaDec_RoundTrip(t *testing.T) {
	// Conversion to equatorial and back must recover the input to well
	// under an arcsecond.
	const arcsec = math.Pi / 180 / 3600

	now := time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		az := rng.Float64() * 2 * math.Pi
		el := (rng.Float64() - 0.5) * math.Pi * 0.96

		ra, dec := AltAzToRaDec(az, el, testObserver, now)
		gotAz, gotEl := RaDecToAltAz(ra, dec, testObserver, now)

		if math.Abs(WrapRad(gotAz-az, -math.Pi)) > arcsec || math.Abs(gotEl-el) > arcsec {
			t.Fatalf("round trip az=%v el=%v -> az=%v el=%v", az, el, gotAz, gotEl)
		}
	}
}

func TestAltAzRaDec_RoundTripOtherLatitudes(t *testing.T) {
	const arcsec = math.Pi / 180 / 3600
	now := time.Date(2025, 11, 2, 22, 30, 0, 0, time.UTC)

	rng := rand.New(rand.NewSource(4))
	for _, lat := range []float64{-60, -33.9, 0, 10, 51.5, 78} {
		obs := Geodetic{Lat: DegToRad(lat), Lon: DegToRad(18.4)}
		for i := 0; i < 200; i++ {
			az := rng.Float64() * 2 * math.Pi
			el := (rng.Float64() - 0.5) * math.Pi * 0.96

			ra, dec := AltAzToRaDec(az, el, obs, now)
			gotAz, gotEl := RaDecToAltAz(ra, dec, obs, now)
			if math.Abs(WrapRad(gotAz-az, -math.Pi)) > arcsec || math.Abs(gotEl-el) > arcsec {
				t.Fatalf("lat=%v: round trip az=%v el=%v -> az=%v el=%v", lat, az, el, gotAz, gotEl)
			}
		}
	}
}

func TestRaDecToAltAz_PoleDeclination(t *testing.T) {
	// The celestial pole sits at elevation equal to the observer latitude,
	// azimuth north, regardless of time.
	for _, hour := range []int{0, 6, 13, 21} {
		now := time.Date(2024, 6, 1, hour, 0, 0, 0, time.UTC)
		az, el := RaDecToAltAz(0, math.Pi/2, testObserver, now)
		if math.Abs(el-testObserver.Lat) > DegToRad(0.01) {
			t.Errorf("hour %d: pole elevation = %v deg, want %v", hour, RadToDeg(el), RadToDeg(testObserver.Lat))
		}
		if math.Abs(WrapRad(az, -math.Pi)) > DegToRad(0.01) {
			t.Errorf("hour %d: pole azimuth = %v deg, want 0", hour, RadToDeg(az))
		}
	}
}

func TestParallacticAngle_MeridianIsZero(t *testing.T) {
	// On the meridian (hour angle zero, south of zenith) the parallactic
	// angle vanishes.
	now := time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)
	ra := LST(now, testObserver.Lon)
	q := ParallacticAngle(ra, DegToRad(10), testObserver, now)
	if math.Abs(q) > DegToRad(0.01) {
		t.Errorf("parallactic angle on meridian = %v deg, want 0", RadToDeg(q))
	}
}

func TestGeodetic_NEDTo(t *testing.T) {
	// A point 1 km due north should appear almost exactly on the +N axis.
	obs := testObserver
	north := Geodetic{Lat: obs.Lat + 1000/6371000.0, Lon: obs.Lon, Alt: obs.Alt}

	ned := obs.NEDTo(north)
	az, el, rng := NEDToAER(ned)
	if math.Abs(WrapRad(az, -math.Pi)) > DegToRad(0.1) {
		t.Errorf("azimuth to northern point = %v deg, want ~0", RadToDeg(az))
	}
	if math.Abs(el) > DegToRad(1) {
		t.Errorf("elevation to northern point = %v deg, want ~0", RadToDeg(el))
	}
	if rng < 900 || rng > 1100 {
		t.Errorf("range to northern point = %v m, want ~1000", rng)
	}
}

func TestSunAzEl_Noon(t *testing.T) {
	// Local solar noon in Washington DC in March: Sun roughly south,
	// elevation roughly 90 - lat + dec (dec ~ -2.4 deg on Mar 14).
	noon := time.Date(2024, 3, 14, 17, 10, 0, 0, time.UTC)
	az, el := SunAzEl(testObserver, noon)
	if math.Abs(RadToDeg(az)-180) > 5 {
		t.Errorf("sun azimuth at noon = %v deg, want ~180", RadToDeg(az))
	}
	if math.Abs(RadToDeg(el)-48.7) > 2 {
		t.Errorf("sun elevation at noon = %v deg, want ~48.7", RadToDeg(el))
	}
}

func TestBodyByName(t *testing.T) {
	if _, err := BodyByName("jupiter"); err != nil {
		t.Errorf("jupiter not resolved: %v", err)
	}
	if _, err := BodyByName("vulcan"); err == nil {
		t.Error("expected error for unknown body")
	}
}

func TestBodyAzEl_AllBodiesFinite(t *testing.T) {
	now := time.Date(2025, 8, 6, 12, 0, 0, 0, time.UTC)
	for name, b := range bodyNames {
		az, el := BodyAzEl(b, testObserver, now)
		if !Finite(az, el) {
			t.Errorf("%s: non-finite az/el", name)
		}
		if el < -math.Pi/2-1e-9 || el > math.Pi/2+1e-9 {
			t.Errorf("%s: elevation %v out of range", name, el)
		}
	}
}
