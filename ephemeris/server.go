package ephemeris

import (
	"context"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
	"github.com/signalsfoundry/nexplane/sbs1"
)

// Feed cadence and culling thresholds.
const (
	feedInterval = 500 * time.Millisecond

	// A satellite more than 200 km below the horizon plane is rechecked
	// only every 15-60 s (randomized so the rechecks spread out).
	deepBelowHorizonMeters = 200000
	recheckMin             = 15 * time.Second
	recheckJitter          = 45 * time.Second

	// Unit conversions for the SBS-1 fields.
	feetPerMeter     = 1 / 0.3048
	knotsPerMPS      = 1 / 0.514444
	ftPerMinPerMPS   = 60 / 0.3048
)

// Feed propagates a set of satellites and writes SBS-1 lines to a
// TextServer.
type Feed struct {
	observer   astro.Geodetic
	satellites []*Satellite
	server     *TextServer

	log     logging.Logger
	metrics *observability.Collector

	nextUpdate []time.Time
	rng        *rand.Rand
}

// NewFeed builds the feed. metrics may be nil.
func NewFeed(observer astro.Geodetic, satellites []*Satellite, server *TextServer, log logging.Logger, metrics *observability.Collector) *Feed {
	if log == nil {
		log = logging.Noop()
	}
	f := &Feed{
		observer:   observer,
		satellites: satellites,
		server:     server,
		log:        log,
		metrics:    metrics,
		nextUpdate: make([]time.Time, len(satellites)),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if metrics != nil {
		metrics.SatellitesTracked.Set(float64(len(satellites)))
	}
	return f
}

// Run publishes until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.step(ctx, time.Now())
		}
	}
}

// step publishes one update round.
func (f *Feed) step(ctx context.Context, now time.Time) {
	for i, sat := range f.satellites {
		if f.nextUpdate[i].After(now) {
			continue
		}
		if line, ok := f.emit(ctx, i, sat, now); ok {
			f.server.Write(line)
			if f.metrics != nil {
				f.metrics.SBS1Emitted.Inc()
			}
		}
	}
}

// emit computes one satellite's SBS-1 line. It returns false when the
// satellite is below the horizon or cannot be propagated. Satellites that
// cannot be propagated or sit far below the horizon get a deferred next
// recheck; those just below the horizon are tried again next round.
func (f *Feed) emit(ctx context.Context, i int, sat *Satellite, now time.Time) (string, bool) {
	loc, err := sat.Geodetic(now)
	if err != nil {
		// Decayed or otherwise unpropagatable; sideline it.
		f.log.Warn(ctx, "satellite sidelined", logging.String("name", sat.Name), logging.Err(err))
		f.nextUpdate[i] = now.Add(24 * time.Hour)
		return "", false
	}

	ned := f.observer.NEDTo(loc)

	if ned.Z > deepBelowHorizonMeters {
		// Far below the horizon; not worth rechecking often.
		f.nextUpdate[i] = now.Add(recheckMin + time.Duration(f.rng.Float64()*float64(recheckJitter)))
		return "", false
	}
	if ned.Z > 0 {
		// Below the horizon but close; keep rechecking every round.
		return "", false
	}

	// Velocity by one-second finite difference.
	locNext, err := sat.Geodetic(now.Add(time.Second))
	if err != nil {
		f.nextUpdate[i] = now.Add(24 * time.Hour)
		return "", false
	}
	velNED := loc.NEDTo(locNext)
	track, _, _ := astro.NEDToAER(velNED)

	groundSpeed := math.Hypot(velNED.X, velNED.Y)

	line := sbs1.EncodePosition(
		sat.Hex,
		sat.Name,
		int(loc.Alt*feetPerMeter),
		groundSpeed*knotsPerMPS,
		astro.RadToDeg(track),
		astro.RadToDeg(loc.Lat),
		astro.RadToDeg(loc.Lon),
		-velNED.Z*ftPerMinPerMPS,
	)
	return line, true
}

// TextServer accepts TCP clients and streams text to all of them,
// dropping connections that break.
type TextServer struct {
	listener net.Listener

	mu    sync.Mutex
	conns []net.Conn

	log logging.Logger
}

// NewTextServer starts listening on addr.
func NewTextServer(addr string, log logging.Logger) (*TextServer, error) {
	if log == nil {
		log = logging.Noop()
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &TextServer{listener: l, log: log}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound address.
func (s *TextServer) Addr() string { return s.listener.Addr().String() }

func (s *TextServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.log.Info(context.Background(), "sbs1 client connected",
			logging.String("peer", conn.RemoteAddr().String()))
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
	}
}

// Write sends text to every connected client, pruning dead connections.
func (s *TextServer) Write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.conns[:0]
	for _, conn := range s.conns {
		if _, err := conn.Write([]byte(text)); err != nil {
			conn.Close()
			continue
		}
		live = append(live, conn)
	}
	s.conns = live
}

// Close stops the listener and drops all clients.
func (s *TextServer) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	return err
}
