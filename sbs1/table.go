package sbs1

import (
	"context"
	"time"

	"github.com/signalsfoundry/nexplane/astro"
	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
	"github.com/signalsfoundry/nexplane/model"
)

// Staleness defaults. A target with no position update for StaleAfter is
// rendered grey but stays selectable; after EvictAfter it is removed.
const (
	DefaultStaleAfter = 60 * time.Second
	DefaultEvictAfter = 2 * DefaultStaleAfter

	sweepInterval = time.Second
)

// TargetTable is the single owner of the fused target map. Reports arrive
// on a channel from the ingest goroutines; queries are answered over
// request/response channels so all access is serialized through Run.
type TargetTable struct {
	Reports chan model.Report

	StaleAfter time.Duration
	EvictAfter time.Duration

	queries chan tableQuery

	log     logging.Logger
	metrics *observability.Collector
	now     func() time.Time
}

type tableQuery struct {
	hex   string // empty for snapshot
	at    time.Time
	reply chan tableReply
}

type tableReply struct {
	target  model.Target
	ok      bool
	targets []model.Target
}

// NewTargetTable constructs the fusion table. metrics may be nil.
func NewTargetTable(log logging.Logger, metrics *observability.Collector) *TargetTable {
	if log == nil {
		log = logging.Noop()
	}
	return &TargetTable{
		Reports:    make(chan model.Report, 256),
		StaleAfter: DefaultStaleAfter,
		EvictAfter: DefaultEvictAfter,
		queries:    make(chan tableQuery),
		log:        log,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run owns the target map until ctx is cancelled.
func (tt *TargetTable) Run(ctx context.Context) {
	targets := make(map[string]model.Target)

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case rep := <-tt.Reports:
			tt.apply(targets, rep)

		case q := <-tt.queries:
			if q.hex == "" {
				out := make([]model.Target, 0, len(targets))
				for _, g := range targets {
					out = append(out, g)
				}
				q.reply <- tableReply{targets: out}
				break
			}
			g, ok := targets[q.hex]
			if ok && !q.at.IsZero() {
				g = g.Extrapolate(q.at)
			}
			q.reply <- tableReply{target: g, ok: ok}

		case <-sweep.C:
			now := tt.now()
			for hex, g := range targets {
				if now.Sub(g.Time) > tt.EvictAfter {
					delete(targets, hex)
				}
			}
		}
	}
}

// apply folds one report into the map, enforcing the time-monotonicity
// rule and the stale-position filter.
func (tt *TargetTable) apply(targets map[string]model.Target, rep model.Report) {
	if !astro.Finite(rep.PosNED.X, rep.PosNED.Y, rep.PosNED.Z,
		rep.VelNED.X, rep.VelNED.Y, rep.VelNED.Z) {
		tt.drop("non_finite")
		tt.log.Warn(context.Background(), "dropping non-finite report", logging.String("hex", rep.Hex))
		return
	}

	old, exists := targets[rep.Hex]

	if exists {
		// Never step a target backward in time.
		if rep.Time.Before(old.Time) {
			tt.drop("stale_time")
			return
		}

		// ADS-B decoders sometimes repeat an old position as though it
		// were fresh. If the position has moved less than half the
		// distance the velocity predicts for the elapsed time, treat the
		// fix as stale and keep the old state.
		if rep.Time.After(old.Time) {
			dt := rep.Time.Sub(old.Time).Seconds()
			avgVel := rep.VelNED.Add(old.VelNED).Scale(0.5)
			expected := avgVel.Norm() * dt
			moved := rep.PosNED.Sub(old.PosNED).Norm()
			if expected > 0 && moved <= expected*0.5 {
				tt.drop("stale_position")
				return
			}
		}
	}

	az, el, rng := astro.NEDToAER(rep.PosNED)
	targets[rep.Hex] = model.Target{
		Hex:      rep.Hex,
		Callsign: rep.Callsign,
		PosNED:   rep.PosNED,
		VelNED:   rep.VelNED,
		Az:       az,
		El:       el,
		Range:    rng,
		InSpace:  rep.InSpace,
		Time:     rep.Time,
	}
}

func (tt *TargetTable) drop(reason string) {
	if tt.metrics != nil {
		tt.metrics.SBS1Dropped.WithLabelValues(reason).Inc()
	}
}

// Snapshot returns a copy of every current target. It blocks until the
// fusion task services the request.
func (tt *TargetTable) Snapshot(ctx context.Context) []model.Target {
	reply := make(chan tableReply, 1)
	select {
	case tt.queries <- tableQuery{reply: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r.targets
	case <-ctx.Done():
		return nil
	}
}

// Extrapolate returns the state of the named target projected to t.
func (tt *TargetTable) Extrapolate(ctx context.Context, hex string, t time.Time) (model.Target, bool) {
	reply := make(chan tableReply, 1)
	select {
	case tt.queries <- tableQuery{hex: hex, at: t, reply: reply}:
	case <-ctx.Done():
		return model.Target{}, false
	}
	select {
	case r := <-reply:
		return r.target, r.ok
	case <-ctx.Done():
		return model.Target{}, false
	}
}
