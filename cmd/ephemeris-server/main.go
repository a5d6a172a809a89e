// The ephemeris server consumes TLE files downloaded from CelesTrak,
// propagates each satellite with SGP4, and serves their positions as an
// SBS-1 stream the tracker ingests alongside real aircraft data.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalsfoundry/nexplane/ephemeris"
	"github.com/signalsfoundry/nexplane/internal/config"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
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
	location := flag.String("location", "", "named observer location from the config")
	port := flag.Int("port", 40004, "TCP port to serve SBS-1 data on")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(configs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitConfig
	}
	if *location == "" {
		*location = cfg.Location
	}
	observer, err := cfg.ObserverLocation(*location)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	tleFiles := flag.Args()
	if len(tleFiles) == 0 {
		tleFiles = cfg.TLEFiles
	}
	if len(tleFiles) == 0 {
		fmt.Fprintln(os.Stderr, "no TLE files given (arguments or tle_files in the config)")
		return exitConfig
	}

	entries, err := ephemeris.LoadFiles(tleFiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	satellites := make([]*ephemeris.Satellite, 0, len(entries))
	for _, entry := range entries {
		sat, err := ephemeris.NewSatellite(entry)
		if err != nil {
			log.Warn(ctx, "skipping satellite", logging.Err(err))
			continue
		}
		satellites = append(satellites, sat)
	}
	if len(satellites) == 0 {
		fmt.Fprintln(os.Stderr, "no usable satellites in the TLE files")
		return exitConfig
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "metrics:", err)
		return exitConfig
	}
	metrics.Serve(*metricsAddr)

	server, err := ephemeris.NewTextServer(fmt.Sprintf(":%d", *port), log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitTransport
	}
	defer server.Close()

	log.Info(ctx, "ephemeris server ready",
		logging.String("addr", server.Addr()),
		logging.Int("satellites", len(satellites)))

	sigCtx, sigStop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer sigStop()

	feed := ephemeris.NewFeed(observer, satellites, server, log, metrics)
	feed.Run(sigCtx)
	return exitOK
}
