// Package config loads the layered YAML configuration shared by the
// tracker, telescope server, and ephemeris server. A built-in default is
// merged with an optional config.yaml next to the binary and any number of
// --config override files; later layers win per key.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/nexplane/astro"
)

// Location is a named geodetic position from the config file.
type Location struct {
	LatDegrees float64 `yaml:"lat_degrees"`
	LonDegrees float64 `yaml:"lon_degrees"`
	AltMeters  float64 `yaml:"alt_meters"`
}

// Geodetic converts the location to radians/metres.
func (l Location) Geodetic() astro.Geodetic {
	return astro.Geodetic{
		Lat: astro.DegToRad(l.LatDegrees),
		Lon: astro.DegToRad(l.LonDegrees),
		Alt: l.AltMeters,
	}
}

// Gains are the PID gains applied to both axes.
type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// Config is the merged configuration tree.
type Config struct {
	Locations map[string]Location `yaml:"locations"`

	Location string `yaml:"location"`
	Landmark string `yaml:"landmark"`

	Gains Gains `yaml:"gains"`

	Hootl             bool     `yaml:"hootl"`
	TelescopeServer   string   `yaml:"telescope_server"`
	TelescopeProtocol string   `yaml:"telescope_protocol"`
	MountMode         string   `yaml:"mount_mode"`
	SBS1Servers       []string `yaml:"sbs1_servers"`
	TLEFiles          []string `yaml:"tle_files"`
	SerialPort        string   `yaml:"serial_port"`
}

// defaultYAML is the built-in bottom layer.
const defaultYAML = `
locations: {}
location: ""
landmark: ""
gains:
  kp: 1.0
  ki: 0.1
  kd: 0.1
hootl: true
telescope_server: "localhost:45345"
telescope_protocol: "nexstar-hand-control"
mount_mode: "altaz"
sbs1_servers:
  - "localhost:40004"
tle_files: []
serial_port: "auto"
`

// Protocols recognized by the telescope_protocol key.
const (
	ProtocolNexStar        = "nexstar-hand-control"
	ProtocolSkyWatcherUSB   = "skywatcher-mount-head-usb"
	ProtocolSkyWatcherEQMOD = "skywatcher-mount-head-eqmod"
	ProtocolSkyWatcherWiFi  = "skywatcher-mount-head-wifi"
)

// ValidProtocol reports whether name is one of the four adapter names.
func ValidProtocol(name string) bool {
	switch name {
	case ProtocolNexStar, ProtocolSkyWatcherUSB, ProtocolSkyWatcherEQMOD, ProtocolSkyWatcherWiFi:
		return true
	}
	return false
}

// SkyWatcherProtocol reports whether name is one of the Sky-Watcher
// motor-controller protocols.
func SkyWatcherProtocol(name string) bool {
	switch name {
	case ProtocolSkyWatcherUSB, ProtocolSkyWatcherEQMOD, ProtocolSkyWatcherWiFi:
		return true
	}
	return false
}

// Load reads the built-in defaults, a config.yaml next to the executable
// (if present), and each file in extra in order. Later layers win per key;
// nested maps merge.
func Load(extra []string) (*Config, error) {
	merged := map[string]any{}

	if err := mergeYAML(merged, []byte(defaultYAML)); err != nil {
		return nil, fmt.Errorf("built-in config: %w", err)
	}

	if user := userConfigPath(); user != "" {
		data, err := os.ReadFile(user)
		if err == nil {
			if err := mergeYAML(merged, data); err != nil {
				return nil, fmt.Errorf("%s: %w", user, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	for _, name := range extra {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := mergeYAML(merged, data); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	// Round-trip the merged tree through YAML into the typed struct.
	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ObserverLocation resolves the named location from the config.
func (c *Config) ObserverLocation(name string) (astro.Geodetic, error) {
	loc, ok := c.Locations[name]
	if !ok {
		return astro.Geodetic{}, fmt.Errorf("location %q not found in config", name)
	}
	return loc.Geodetic(), nil
}

// mergeYAML unmarshals data and deep-merges it over dst.
func mergeYAML(dst map[string]any, data []byte) error {
	var layer map[string]any
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return err
	}
	mergeMap(dst, layer)
	return nil
}

// mergeMap merges over into under in place. Nested maps merge key-wise;
// any other value (including lists) is replaced wholesale.
func mergeMap(under, over map[string]any) {
	for key, value := range over {
		if overMap, ok := value.(map[string]any); ok {
			if underMap, ok := under[key].(map[string]any); ok {
				mergeMap(underMap, overMap)
				continue
			}
		}
		under[key] = value
	}
}

// userConfigPath returns the path of the optional config.yaml next to the
// running binary.
func userConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "config.yaml")
}
