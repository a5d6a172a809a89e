package ephemeris

import (
	"bufio"
	"context"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/sbs1"
)

// The ISS, epoch late 2021. Good enough for propagation sanity checks
// near its epoch.
const issTLE = `ISS (ZARYA)
1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990
2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760
`

func writeTLE(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sats.tle")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFile_ThreeLineGroups(t *testing.T) {
	path := writeTLE(t, issTLE)
	entries, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Name != "ISS (ZARYA)" {
		t.Errorf("name = %q", entries[0].Name)
	}
	if entries[0].CatalogNumber() != "25544" {
		t.Errorf("catalog = %q", entries[0].CatalogNumber())
	}
}

func TestParseFile_BadLineOrder(t *testing.T) {
	path := writeTLE(t, "SAT\n2 bogus\n1 bogus\n")
	if _, err := ParseFile(path); err == nil {
		t.Error("expected error for swapped TLE lines")
	}
}

func TestLoadFiles_DedupeByCatalog(t *testing.T) {
	first := writeTLE(t, issTLE)
	second := writeTLE(t, issTLE)
	entries, err := LoadFiles([]string{first, second})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries after dedupe, want 1", len(entries))
	}
}

func TestSatellite_GeodeticNearEpoch(t *testing.T) {
	entries, err := ParseFile(writeTLE(t, issTLE))
	if err != nil {
		t.Fatal(err)
	}
	sat, err := NewSatellite(entries[0])
	if err != nil {
		t.Fatal(err)
	}
	if sat.Hex != "0063C8" {
		t.Errorf("hex ident = %q, want 0063C8 (25544 in hex)", sat.Hex)
	}

	// Near the TLE epoch (2021 day 275).
	at := time.Date(2021, 10, 2, 14, 11, 0, 0, time.UTC)
	loc, err := sat.Geodetic(at)
	if err != nil {
		t.Fatal(err)
	}

	// ISS altitude is roughly 420 km; orbital inclination bounds the
	// latitude.
	if loc.Alt < 350e3 || loc.Alt > 500e3 {
		t.Errorf("altitude = %v km", loc.Alt/1000)
	}
	if math.Abs(astro.RadToDeg(loc.Lat)) > 52.5 {
		t.Errorf("latitude %v deg exceeds the ISS inclination", astro.RadToDeg(loc.Lat))
	}

	// A second later it has moved by roughly its orbital speed over the
	// ground (~7 km).
	locNext, err := sat.Geodetic(at.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	dist := loc.NEDTo(locNext).Norm()
	if dist < 5000 || dist > 9000 {
		t.Errorf("1-second ground-frame displacement = %v m, want ~7000", dist)
	}
}

func TestFeed_EmitRoundTripsThroughCodec(t *testing.T) {
	entries, err := ParseFile(writeTLE(t, issTLE))
	if err != nil {
		t.Fatal(err)
	}
	sat, err := NewSatellite(entries[0])
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2021, 10, 2, 14, 11, 0, 0, time.UTC)
	loc, err := sat.Geodetic(at)
	if err != nil {
		t.Fatal(err)
	}

	// Put the observer directly underneath so the satellite is high in
	// the sky.
	observer := astro.Geodetic{Lat: loc.Lat, Lon: loc.Lon, Alt: 0}

	srv, err := NewTextServer("127.0.0.1:0", logging.Noop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	feed := NewFeed(observer, []*Satellite{sat}, srv, logging.Noop(), nil)
	line, ok := feed.emit(context.Background(), 0, sat, at)
	if !ok {
		t.Fatal("overhead satellite not emitted")
	}

	m, err := sbs1.Decode(line)
	if err != nil {
		t.Fatalf("emitted line does not decode: %v", err)
	}
	if m.Hex != "0063C8" || m.Callsign != "ISS (ZARYA)" {
		t.Errorf("hex=%q callsign=%q", m.Hex, m.Callsign)
	}
	if !m.HasLat || !m.HasLon || !m.HasAltitude || !m.HasGroundSpeed || !m.HasTrack || !m.HasVerticalRate {
		t.Errorf("incomplete message: %+v", m)
	}
	if math.Abs(m.Lat-astro.RadToDeg(loc.Lat)) > 0.01 {
		t.Errorf("latitude %v, want %v", m.Lat, astro.RadToDeg(loc.Lat))
	}
	// Orbital speed in knots is around 14-15 thousand.
	if m.GroundSpeed < 10000 || m.GroundSpeed > 17000 {
		t.Errorf("ground speed = %v kn", m.GroundSpeed)
	}
}

func TestFeed_BelowHorizonCulled(t *testing.T) {
	entries, err := ParseFile(writeTLE(t, issTLE))
	if err != nil {
		t.Fatal(err)
	}
	sat, err := NewSatellite(entries[0])
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2021, 10, 2, 14, 11, 0, 0, time.UTC)
	loc, err := sat.Geodetic(at)
	if err != nil {
		t.Fatal(err)
	}

	// Observer on the opposite side of the planet.
	observer := astro.Geodetic{Lat: -loc.Lat, Lon: astro.WrapRad(loc.Lon+math.Pi, -math.Pi), Alt: 0}

	srv, err := NewTextServer("127.0.0.1:0", logging.Noop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	feed := NewFeed(observer, []*Satellite{sat}, srv, logging.Noop(), nil)
	if _, ok := feed.emit(context.Background(), 0, sat, at); ok {
		t.Error("antipodal satellite emitted")
	}
	if !feed.nextUpdate[0].After(at) {
		t.Error("deep-below-horizon satellite not deferred")
	}
}

func TestTextServer_BroadcastsToClients(t *testing.T) {
	srv, err := NewTextServer("127.0.0.1:0", logging.Noop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the accept loop a moment to register the client, then keep
	// writing until the line arrives.
	reader := bufio.NewReader(conn)
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.Write("MSG,test\r\n")
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		line, err := reader.ReadString('\n')
		if err == nil {
			if !strings.HasPrefix(line, "MSG,test") {
				t.Errorf("got %q", line)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("client never received broadcast")
		}
	}
}
