// The tracker is the operator-facing process: it ingests SBS-1 target
// data, runs the pointing controller against the mount (directly in
// HOOTL, or through the telescope-server bridge), and drives the
// terminal display.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/nexplane/alignment"
	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/internal/config"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
	"github.com/signalsfoundry/nexplane/internal/ui"
	"github.com/signalsfoundry/nexplane/mount"
	"github.com/signalsfoundry/nexplane/rpc"
	"github.com/signalsfoundry/nexplane/sbs1"
	"github.com/signalsfoundry/nexplane/tracking"
)

// Exit codes: 0 clean shutdown, 1 configuration error, 2 transport
// failure at startup. Runtime incidents never set an exit code; they are
// displayed and logged.
const (
	exitOK        = 0
	exitConfig    = 1
	exitTransport = 2
)

// stringList collects a repeatable flag.
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
	var configs, sbs1Servers stringList
	flag.Var(&configs, "config", "additional config file, later files win (repeatable)")
	hootl := flag.Bool("hootl", false, "run against an internal mount simulation")
	noHootl := flag.Bool("no-hootl", false, "opposite of --hootl")
	location := flag.String("location", "", "named observer location from the config")
	landmark := flag.String("landmark", "", "landmark for one-point alignment (<name> or sky:<body>)")
	alignFile := flag.String("alignment", "", "load a saved alignment file instead of sighting a landmark")
	saveAlign := flag.String("save-alignment", "", "write the computed alignment to this file and exit")
	telescope := flag.String("telescope", "", "host:port of the telescope server (or the Wi-Fi mount head)")
	protocol := flag.String("telescope-protocol", "", "mount protocol")
	mountMode := flag.String("mount-mode", "", "altaz or eq")
	flag.Var(&sbs1Servers, "sbs1", "host:port of an SBS-1 server (repeatable)")
	bw := flag.Bool("bw", false, "reduced-color display for daylight use")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(configs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitConfig
	}
	applyStringFlag(location, cfg.Location)
	applyStringFlag(landmark, cfg.Landmark)
	applyStringFlag(telescope, cfg.TelescopeServer)
	applyStringFlag(protocol, cfg.TelescopeProtocol)
	applyStringFlag(mountMode, cfg.MountMode)
	if len(sbs1Servers) == 0 {
		sbs1Servers = cfg.SBS1Servers
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
	observer, err := cfg.ObserverLocation(*location)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "metrics:", err)
		return exitConfig
	}
	metrics.Serve(*metricsAddr)

	// Mount transport and adapter.
	mnt, err := buildMount(runHootl, *protocol, *telescope, frame, observer, log, metrics)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTransport
	}
	defer mnt.Close()

	// Alignment.
	offset, err := resolveAlignment(ctx, cfg, mnt, frame, observer, *landmark, *alignFile, *mountMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if *saveAlign != "" {
		if err := alignment.SaveFile(*saveAlign, offset, *mountMode); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfig
		}
		fmt.Println("alignment saved to", *saveAlign)
		return exitOK
	}

	// Fusion and ingest.
	table := sbs1.NewTargetTable(log, metrics)
	receiver := sbs1.NewReceiver(sbs1Servers, observer, table.Reports, log, metrics)

	controller := tracking.NewController(mnt, table, observer, offset,
		cfg.Gains.Kp, cfg.Gains.Ki, cfg.Gains.Kd, log, metrics)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCtx, sigStop := signal.NotifyContext(runCtx, os.Interrupt, syscall.SIGTERM)
	defer sigStop()

	group, groupCtx := errgroup.WithContext(sigCtx)
	group.Go(func() error {
		table.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		receiver.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		controller.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		defer cancel()
		return ui.Run(groupCtx, ui.New(table, controller, table.StaleAfter, *bw))
	})

	// The tasks unwind on cancellation; the controller issues a
	// best-effort stop on its way out.
	err = group.Wait()
	if err != nil && groupCtx.Err() == nil {
		log.Error(ctx, "tracker failed", logging.Err(err))
		return exitTransport
	}
	return exitOK
}

// applyStringFlag substitutes the config default when the flag was left
// empty.
func applyStringFlag(flagValue *string, configValue string) {
	if *flagValue == "" {
		*flagValue = configValue
	}
}

// buildMount constructs the protocol adapter over the right transport.
func buildMount(hootl bool, protocol, telescope string, frame mount.FrameKind, observer astro.Geodetic, log logging.Logger, metrics *observability.Collector) (mount.Mount, error) {
	var client mount.Client
	switch {
	case hootl && protocol == config.ProtocolNexStar:
		client = mount.NewNexStarHOOTL(observer, frame)
	case hootl:
		client = mount.NewSkyWatcherHOOTL()
	case protocol == config.ProtocolSkyWatcherWiFi:
		udp, err := mount.NewUDPClient(telescope)
		if err != nil {
			return nil, err
		}
		client = udp
	default:
		rpcClient, err := rpc.Dial(telescope, log, metrics)
		if err != nil {
			return nil, err
		}
		client = &rpc.SpeakClient{Client: rpcClient}
	}

	if protocol == config.ProtocolNexStar {
		return mount.NewNexStar(client, frame)
	}
	return mount.NewSkyWatcher(client, frame)
}

// resolveAlignment produces the mount-to-world offset from a saved file,
// a sighted landmark, or (for mounts that self-align) nothing.
func resolveAlignment(ctx context.Context, cfg *config.Config, mnt mount.Mount, frame mount.FrameKind, observer astro.Geodetic, landmark, alignFile, mountMode string) (alignment.Offset, error) {
	if alignFile != "" {
		return alignment.LoadFile(alignFile, mountMode)
	}
	if landmark == "" {
		if !mnt.Aligned() {
			return alignment.Offset{}, fmt.Errorf(
				"this mount exposes raw encoder counts; --landmark (or --alignment) is required")
		}
		return alignment.Offset{}, nil
	}

	locations := make(map[string]astro.Geodetic, len(cfg.Locations))
	for name, loc := range cfg.Locations {
		locations[name] = loc.Geodetic()
	}
	resolver := &alignment.Resolver{Observer: observer, Locations: locations}

	now := time.Now()
	az, el, err := resolver.Resolve(ctx, landmark, now)
	if err != nil {
		return alignment.Offset{}, err
	}

	m1, m2, err := mnt.Attitude()
	if err != nil {
		return alignment.Offset{}, fmt.Errorf("reading mount for alignment: %w", err)
	}

	if frame == mount.FrameEquatorial {
		ra, dec := astro.AltAzToRaDec(az, el, observer, now)
		return alignment.Compute(ra, dec, m1, m2), nil
	}
	return alignment.Compute(az, el, m1, m2), nil
}
