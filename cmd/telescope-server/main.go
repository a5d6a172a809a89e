// The telescope server runs on the machine physically wired to the
// mount. It owns the serial device (or a HOOTL simulator) and exposes
// the mount's operations over the length-prefixed RPC protocol on TCP
// port 45345.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/signalsfoundry/nexplane/internal/config"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
	"github.com/signalsfoundry/nexplane/internal/serialport"
	"github.com/signalsfoundry/nexplane/mount"
	"github.com/signalsfoundry/nexplane/rpc"
)

const (
	exitOK        = 0
	exitConfig    = 1
	exitTransport = 2
)

type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var configs stringList
	flag.Var(&configs, "config", "additional config file, later files win (repeatable)")
	hootl := flag.Bool("hootl", false, "serve an internal mount simulation instead of hardware")
	noHootl := flag.Bool("no-hootl", false, "opposite of --hootl")
	serialPort := flag.String("serial-port", "", "serial device, or auto to scan /dev/ttyUSB0..9")
	networkPort := flag.Int("network-port", rpc.DefaultPort, "TCP port to serve on")
	protocol := flag.String("telescope-protocol", "", "mount protocol")
	location := flag.String("location", "", "named observer location (used by the HOOTL simulation)")
	mountMode := flag.String("mount-mode", "", "altaz or eq")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(configs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitConfig
	}
	if *serialPort == "" {
		*serialPort = cfg.SerialPort
	}
	if *protocol == "" {
		*protocol = cfg.TelescopeProtocol
	}
	if *location == "" {
		*location = cfg.Location
	}
	if *mountMode == "" {
		*mountMode = cfg.MountMode
	}
	runHootl := cfg.Hootl
	if *hootl {
		runHootl = true
	}
	if *noHootl {
		runHootl = false
	}

	frame, err := mount.ParseFrameKind(*mountMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if !config.ValidProtocol(*protocol) {
		fmt.Fprintf(os.Stderr, "invalid --telescope-protocol %q\n", *protocol)
		return exitConfig
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "metrics:", err)
		return exitConfig
	}
	metrics.Serve(*metricsAddr)

	sigCtx, sigStop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer sigStop()

	// A Wi-Fi mount head is its own bridge; serving that protocol here
	// only makes sense as the UDP HOOTL simulator.
	if *protocol == config.ProtocolSkyWatcherWiFi {
		if !runHootl {
			fmt.Fprintln(os.Stderr, "the Wi-Fi mount head is its own bridge; use --hootl to simulate one")
			return exitConfig
		}
		srv, err := mount.NewUDPServer(fmt.Sprintf(":%d", mount.SkyWatcherUDPPort), mount.NewSkyWatcherHOOTL())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitTransport
		}
		defer srv.Close()
		log.Info(ctx, "wifi mount simulator ready", logging.String("addr", srv.Addr()))
		<-sigCtx.Done()
		return exitOK
	}

	device, err := openDevice(runHootl, *protocol, frame, cfg, *location, *serialPort)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTransport
	}
	defer device.Close()

	server := rpc.NewServer(log, metrics)
	registerMethods(server, device, *protocol, frame, metrics)

	if err := server.Listen(fmt.Sprintf(":%d", *networkPort)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTransport
	}
	log.Info(ctx, "telescope server ready",
		logging.String("addr", server.Addr()),
		logging.String("protocol", *protocol))

	if err := server.Serve(sigCtx); err != nil && sigCtx.Err() == nil {
		log.Error(ctx, "server failed", logging.Err(err))
		return exitTransport
	}
	return exitOK
}

// openDevice builds the device-side transport: a simulator or the real
// serial port.
func openDevice(hootl bool, protocol string, frame mount.FrameKind, cfg *config.Config, location, serialDevice string) (mount.Client, error) {
	if hootl {
		if protocol == config.ProtocolNexStar {
			observer, err := cfg.ObserverLocation(location)
			if err != nil {
				return nil, err
			}
			sim := mount.NewNexStarHOOTL(observer, frame)
			// Imitate serial round-trip latency.
			sim.Delay = 40 * time.Millisecond
			return sim, nil
		}
		sim := mount.NewSkyWatcherHOOTL()
		sim.Delay = 40 * time.Millisecond
		return sim, nil
	}

	settings, err := serialport.SettingsFor(protocol)
	if err != nil {
		return nil, err
	}
	device, err := serialport.Resolve(serialDevice)
	if err != nil {
		return nil, err
	}
	return serialport.Open(device, settings)
}

// registerMethods wires the RPC surface. A single mutex is the mount I/O
// owner: the device sees exactly one outstanding command at a time, in
// arrival order.
func registerMethods(server *rpc.Server, device mount.Client, protocol string, frame mount.FrameKind, metrics *observability.Collector) {
	var ioMu sync.Mutex

	speak := func(command string) (string, error) {
		ioMu.Lock()
		defer ioMu.Unlock()
		start := time.Now()
		resp, err := device.Speak(command)
		if metrics != nil {
			metrics.MountRoundTrip.Observe(time.Since(start).Seconds())
		}
		return resp, err
	}

	server.Register("hello", func(params []any) (any, error) {
		return "hello", nil
	})

	server.Register("speak", func(params []any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("speak wants one argument")
		}
		line, ok := params[0].(string)
		if !ok {
			return nil, fmt.Errorf("speak wants a string, got %T", params[0])
		}
		resp, err := speak(line)
		if err != nil {
			return nil, &rpc.DeviceError{Message: err.Error()}
		}
		return resp, nil
	})

	// First-class mount methods share the same serialized transport
	// through an adapter of their own.
	adapter, adapterErr := buildAdapter(speakClient{speak: speak}, protocol, frame)

	server.Register("frame_kind", func(params []any) (any, error) {
		return frame.String(), nil
	})

	mountMethod := func(name string, fn func(params []any) (any, error)) {
		server.Register(name, func(params []any) (any, error) {
			if adapterErr != nil {
				return nil, &rpc.DeviceError{Message: adapterErr.Error()}
			}
			return fn(params)
		})
	}

	mountMethod("read_attitude", func(params []any) (any, error) {
		a1, a2, err := adapter.Attitude()
		if err != nil {
			return nil, &rpc.DeviceError{Message: err.Error()}
		}
		return []any{a1, a2}, nil
	})

	mountMethod("slew_rate", func(params []any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("slew_rate wants (axis, rate)")
		}
		axis, ok := toInt(params[0])
		if !ok || (axis != 1 && axis != 2) {
			return nil, fmt.Errorf("bad axis %v", params[0])
		}
		rate, ok := toFloat(params[1])
		if !ok || math.IsNaN(rate) {
			return nil, fmt.Errorf("bad rate %v", params[1])
		}
		if err := adapter.SlewRate(mount.Axis(axis), rate); err != nil {
			return nil, &rpc.DeviceError{Message: err.Error()}
		}
		return "ok", nil
	})

	mountMethod("slew_to", func(params []any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("slew_to wants (axis1, axis2)")
		}
		a1, ok1 := toFloat(params[0])
		a2, ok2 := toFloat(params[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("bad angles %v", params)
		}
		if err := adapter.SlewTo(a1, a2); err != nil {
			return nil, &rpc.DeviceError{Message: err.Error()}
		}
		return "ok", nil
	})

	mountMethod("cancel", func(params []any) (any, error) {
		if err := adapter.Cancel(); err != nil {
			return nil, &rpc.DeviceError{Message: err.Error()}
		}
		return "ok", nil
	})
}

// speakClient adapts the serialized speak closure back into a
// mount.Client for the adapter.
type speakClient struct {
	speak func(string) (string, error)
}

func (s speakClient) Speak(command string) (string, error) { return s.speak(command) }
func (s speakClient) Close() error                         { return nil }

// buildAdapter constructs the protocol adapter for the first-class
// methods.
func buildAdapter(client mount.Client, protocol string, frame mount.FrameKind) (mount.Mount, error) {
	if protocol == config.ProtocolNexStar {
		return mount.NewNexStar(client, frame)
	}
	return mount.NewSkyWatcher(client, frame)
}

// msgpack integers and floats arrive as several concrete types.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		if i, ok := toInt(v); ok {
			return float64(i), true
		}
	}
	return 0, false
}
