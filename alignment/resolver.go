package alignment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/nexplane/astro"
)

// The sky: prefix selects a celestial landmark; anything else names a
// terrestrial location from the config file.
const skyPrefix = "sky:"

// sesameURL is the CDS name-resolver endpoint used for star landmarks.
// This lookup is the only operation in the system that needs internet
// access.
const sesameURL = "https://cds.unistra.fr/cgi-bin/nph-sesame/-oI/A?"

// Resolver turns a landmark name into a world-frame azimuth/elevation.
type Resolver struct {
	Observer  astro.Geodetic
	Locations map[string]astro.Geodetic

	// HTTPClient serves star catalog lookups; a 30 s timeout default is
	// installed when nil.
	HTTPClient *http.Client

	// LookupURL overrides the catalog endpoint, for tests.
	LookupURL string
}

// Resolve returns the landmark's azimuth and elevation from the observer
// at time t, in radians.
func (r *Resolver) Resolve(ctx context.Context, name string, t time.Time) (az, el float64, err error) {
	if strings.HasPrefix(name, skyPrefix) {
		object := strings.TrimPrefix(name, skyPrefix)
		if body, err := astro.BodyByName(object); err == nil {
			az, el = astro.BodyAzEl(body, r.Observer, t)
			return az, el, nil
		}
		return r.resolveStar(ctx, object, t)
	}

	loc, ok := r.Locations[name]
	if !ok {
		return 0, 0, fmt.Errorf("landmark %q not found in config", name)
	}
	az, el, _ = astro.NEDToAER(r.Observer.NEDTo(loc))
	return az, el, nil
}

// resolveStar queries the name resolver for the object's J2000
// coordinates and converts them for the observer.
func (r *Resolver) resolveStar(ctx context.Context, name string, t time.Time) (az, el float64, err error) {
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	base := r.LookupURL
	if base == "" {
		base = sesameURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+strings.ReplaceAll(name, " ", "+"), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("star lookup for %q: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("star lookup for %q: status %d", name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, err
	}

	ra, dec, err := parseSesame(string(body))
	if err != nil {
		return 0, 0, fmt.Errorf("star lookup for %q: %w", name, err)
	}

	az, el = astro.RaDecToAltAz(ra, dec, r.Observer, t)
	return az, el, nil
}

// parseSesame extracts J2000 degrees from a Sesame ASCII response. The
// coordinates arrive on a line like "%J 279.23473479 +38.78368896 = ...".
func parseSesame(body string) (ra, dec float64, err error) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "%J ") {
			continue
		}
		fields := strings.Fields(line[3:])
		if len(fields) < 2 {
			continue
		}
		raDeg, err1 := strconv.ParseFloat(fields[0], 64)
		decDeg, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return astro.DegToRad(raDeg), astro.DegToRad(decDeg), nil
	}
	return 0, 0, fmt.Errorf("no J2000 coordinates in resolver response")
}
