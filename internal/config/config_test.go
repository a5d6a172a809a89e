package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gains.Kp != 1.0 || cfg.Gains.Ki != 0.1 || cfg.Gains.Kd != 0.1 {
		t.Errorf("default gains = %+v", cfg.Gains)
	}
	if cfg.TelescopeServer != "localhost:45345" {
		t.Errorf("default telescope_server = %q", cfg.TelescopeServer)
	}
	if !cfg.Hootl {
		t.Error("hootl should default to true")
	}
	if cfg.SerialPort != "auto" {
		t.Errorf("default serial_port = %q", cfg.SerialPort)
	}
}

func TestLoad_LaterLayerWinsPerKey(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.yaml", `
gains:
  kp: 2.5
location: home
locations:
  home:
    lat_degrees: 38.879084
    lon_degrees: -77.036531
    alt_meters: 18
`)
	second := writeFile(t, dir, "second.yaml", `
gains:
  ki: 0.7
`)

	cfg, err := Load([]string{first, second})
	if err != nil {
		t.Fatal(err)
	}

	// kp from the first override must survive the second layer, which only
	// touches ki.
	if cfg.Gains.Kp != 2.5 {
		t.Errorf("kp = %v, want 2.5", cfg.Gains.Kp)
	}
	if cfg.Gains.Ki != 0.7 {
		t.Errorf("ki = %v, want 0.7", cfg.Gains.Ki)
	}
	if cfg.Gains.Kd != 0.1 {
		t.Errorf("kd = %v, want default 0.1", cfg.Gains.Kd)
	}

	loc, err := cfg.ObserverLocation("home")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Alt != 18 {
		t.Errorf("alt = %v, want 18", loc.Alt)
	}
}

func TestLoad_MissingOverrideFile(t *testing.T) {
	if _, err := Load([]string{"/nonexistent/override.yaml"}); err == nil {
		t.Error("expected error for missing override file")
	}
}

func TestObserverLocation_Unknown(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.ObserverLocation("nowhere"); err == nil {
		t.Error("expected error for unknown location")
	}
}

func TestValidProtocol(t *testing.T) {
	for _, p := range []string{ProtocolNexStar, ProtocolSkyWatcherUSB, ProtocolSkyWatcherEQMOD, ProtocolSkyWatcherWiFi} {
		if !ValidProtocol(p) {
			t.Errorf("%q should be valid", p)
		}
	}
	if ValidProtocol("meade-lx200") {
		t.Error("unknown protocol accepted")
	}
}
