package sbs1

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
	"github.com/signalsfoundry/nexplane/model"
)

// reconnectDelay is how long an ingest goroutine waits before redialing a
// lost SBS-1 server.
const reconnectDelay = 5 * time.Second

// Receiver ingests SBS-1 streams from one or more servers and feeds
// complete position reports into a TargetTable.
type Receiver struct {
	servers  []string
	observer astro.Geodetic
	out      chan<- model.Report

	log     logging.Logger
	metrics *observability.Collector

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewReceiver constructs a receiver feeding out. metrics may be nil.
func NewReceiver(servers []string, observer astro.Geodetic, out chan<- model.Report, log logging.Logger, metrics *observability.Collector) *Receiver {
	if log == nil {
		log = logging.Noop()
	}
	return &Receiver{
		servers:  servers,
		observer: observer,
		out:      out,
		log:      log,
		metrics:  metrics,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Run starts one ingest goroutine per server and blocks until ctx is
// cancelled.
func (r *Receiver) Run(ctx context.Context) {
	done := make(chan struct{})
	for i, server := range r.servers {
		go func(idx int, addr string) {
			defer func() { done <- struct{}{} }()
			r.ingest(ctx, idx, addr)
		}(i, server)
	}
	for range r.servers {
		<-done
	}
}

// ingest reads one server's stream, reconnecting on loss, until ctx is
// cancelled.
func (r *Receiver) ingest(ctx context.Context, idx int, addr string) {
	for ctx.Err() == nil {
		conn, err := r.dial(ctx, addr)
		if err != nil {
			r.log.Warn(ctx, "sbs1 connect failed",
				logging.String("server", addr), logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		r.log.Info(ctx, "sbs1 connected", logging.String("server", addr))
		r.readStream(ctx, idx, addr, conn)
		conn.Close()
	}
}

// readStream consumes lines from one connection until it breaks.
func (r *Receiver) readStream(ctx context.Context, idx int, addr string, conn net.Conn) {
	// Close the connection when the context ends so the blocking read
	// unwinds promptly.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	raw := make(map[string]*rawTarget)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if r.metrics != nil {
			r.metrics.SBS1Lines.WithLabelValues(addr).Inc()
		}
		r.handleLine(idx, raw, scanner.Text())
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		r.log.Warn(ctx, "sbs1 stream broken",
			logging.String("server", addr), logging.Err(err))
	}
}

// handleLine decodes one SBS-1 line and publishes a report when the
// target's data set becomes complete.
func (r *Receiver) handleLine(idx int, raw map[string]*rawTarget, line string) {
	if line == "" {
		return
	}
	m, err := Decode(line)
	if err != nil {
		r.drop("truncated")
		return
	}
	switch m.TType {
	case TypeIdent, TypePosition, TypeVelocity:
	default:
		return
	}

	// Prefix the hex ident with the source index so targets from
	// different servers can never collide.
	key := fmt.Sprintf("%x:%s", idx, m.Hex)

	rt, ok := raw[key]
	if !ok {
		rt = &rawTarget{hex: key}
		raw[key] = rt
	}
	gotPosition := rt.update(m, time.Now())

	if !gotPosition || !rt.complete() {
		return
	}

	// Zero altitude is transmitted by some aircraft and is never true or
	// useful.
	if rt.altitude == 0 {
		r.drop("zero_altitude")
		return
	}

	rep, err := rt.report(r.observer)
	if err != nil {
		r.drop("non_finite")
		return
	}
	r.out <- rep
}

func (r *Receiver) drop(reason string) {
	if r.metrics != nil {
		r.metrics.SBS1Dropped.WithLabelValues(reason).Inc()
	}
}
