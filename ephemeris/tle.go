// Package ephemeris turns two-line element sets into a live SBS-1 feed:
// each satellite is propagated with SGP4 and published as though it were
// a very fast, very high-altitude airplane.
package ephemeris

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// TLE is one three-line entry from a CelesTrak element file.
type TLE struct {
	Name  string
	Line1 string
	Line2 string
}

// CatalogNumber returns the NORAD catalog number field of line 1.
func (t TLE) CatalogNumber() string {
	if len(t.Line1) < 8 {
		return ""
	}
	return strings.TrimSpace(t.Line1[2:7])
}

// ParseFile reads a TLE file: repeating groups of name line, line 1,
// line 2.
func ParseFile(path string) ([]TLE, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []TLE
	var name, one string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case name == "":
			name = strings.TrimSpace(line)
		case one == "":
			if !strings.HasPrefix(line, "1") {
				return nil, fmt.Errorf("%s: expected TLE line 1 after %q, got %q", path, name, line)
			}
			one = line
		default:
			if !strings.HasPrefix(line, "2") {
				return nil, fmt.Errorf("%s: expected TLE line 2 for %q, got %q", path, name, line)
			}
			out = append(out, TLE{Name: name, Line1: one, Line2: line})
			name, one = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if name != "" || one != "" {
		return nil, fmt.Errorf("%s: truncated TLE entry for %q", path, name)
	}
	return out, nil
}

// LoadFiles parses every file and deduplicates by catalog number; entries
// from later files replace earlier ones.
func LoadFiles(paths []string) ([]TLE, error) {
	byCatalog := make(map[string]TLE)
	var order []string
	for _, path := range paths {
		entries, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			num := e.CatalogNumber()
			if _, seen := byCatalog[num]; !seen {
				order = append(order, num)
			}
			byCatalog[num] = e
		}
	}
	out := make([]TLE, 0, len(byCatalog))
	for _, num := range order {
		out = append(out, byCatalog[num])
	}
	return out, nil
}
