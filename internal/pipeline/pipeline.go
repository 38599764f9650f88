// Package pipeline runs the decision stream: observations are validated,
// turned into signal factors, fused into a decision, pushed through the
// execution guard, and handed to the outcome tracker when allowed.
//
// One worker goroutine per instrument keeps the stream sequential per
// instrument while instruments proceed concurrently; the only state shared
// across workers is the venue health table and the append-only histories.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/consensus"
	"github.com/sawpanic/tradeguard/internal/factors"
	"github.com/sawpanic/tradeguard/internal/guard"
	"github.com/sawpanic/tradeguard/internal/models"
	"github.com/sawpanic/tradeguard/internal/outcome"
	"github.com/sawpanic/tradeguard/internal/persistence"
	"github.com/sawpanic/tradeguard/internal/snapshot"
	"github.com/sawpanic/tradeguard/internal/telemetry"
	"github.com/sawpanic/tradeguard/internal/validate"
)

// Pipeline owns one validator/engine/guard/tracker set and fans observations
// out to per-instrument workers.
type Pipeline struct {
	cfg       config.GuardConfig
	validator *validate.Validator
	engine    *consensus.Engine
	guard     *guard.Guard
	tracker   *outcome.Tracker

	producers []factors.Producer
	agreement factors.Agreement

	metrics *telemetry.Metrics
	audit   *persistence.AuditRepo
	snaps   *snapshot.Store

	mu      sync.Mutex
	workers map[string]chan models.Observation
	wg      sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) bool
}

// Options carries the optional collaborators. Any field may be nil.
type Options struct {
	Metrics *telemetry.Metrics
	Audit   *persistence.AuditRepo
	Snaps   *snapshot.Store
}

// New wires a pipeline from the core components.
func New(cfg *config.Config, validator *validate.Validator, engine *consensus.Engine, g *guard.Guard, tracker *outcome.Tracker, opts Options) *Pipeline {
	p := &Pipeline{
		cfg:       cfg.Guard,
		validator: validator,
		engine:    engine,
		guard:     g,
		tracker:   tracker,
		producers: []factors.Producer{
			// The gate factor stays first; the engine treats it as the hard gate.
			factors.TrustGate{Threshold: 0.6},
			factors.NewMomentum(10, 0.3, 0.5),
			factors.NewVolumeSurge(0.3, 0.3),
		},
		agreement: factors.Agreement{Threshold: 0.7},
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		snaps:     opts.Snaps,
		workers:   make(map[string]chan models.Observation),
		sleep:     sleepCtx,
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Run consumes observations until the channel closes or the context ends.
func (p *Pipeline) Run(ctx context.Context, observations <-chan models.Observation) {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case obs, ok := <-observations:
			if !ok {
				p.drain()
				return
			}
			p.route(ctx, obs)
		}
	}
}

// route hands the observation to its instrument's worker, starting one on
// first sight.
func (p *Pipeline) route(ctx context.Context, obs models.Observation) {
	p.mu.Lock()
	ch, ok := p.workers[obs.Instrument]
	if !ok {
		ch = make(chan models.Observation, 64)
		p.workers[obs.Instrument] = ch
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for o := range ch {
				p.Process(ctx, o)
			}
		}()
	}
	p.mu.Unlock()

	select {
	case ch <- obs:
	default:
		log.Warn().Str("instrument", obs.Instrument).Msg("worker queue full, observation dropped")
	}
}

func (p *Pipeline) drain() {
	p.mu.Lock()
	for _, ch := range p.workers {
		close(ch)
	}
	p.workers = make(map[string]chan models.Observation)
	p.mu.Unlock()
	p.wg.Wait()
}

// Process runs one observation through the full pipeline. Exported so tests
// and one-shot commands can drive the pipeline without a feed.
func (p *Pipeline) Process(ctx context.Context, obs models.Observation) {
	validation := p.validator.Validate(obs)
	p.metrics.ObserveDataHealth(p.validator.DataHealthScore())

	if !validation.Valid {
		// The consensus engine must never see data the validator rejected.
		log.Debug().
			Str("venue", obs.Venue).
			Str("instrument", obs.Instrument).
			Strs("errors", validation.Errors).
			Msg("observation dropped by validator")
		return
	}

	p.tracker.UpdatePrice(obs.Instrument, obs.Price)

	produced := make([]models.SignalFactor, 0, len(p.producers)+1)
	for _, prod := range p.producers {
		produced = append(produced, prod.Produce(obs, validation))
	}
	// The agreement lock reads the directional factors produced this cycle.
	produced = append(produced, p.agreement.FromFactors(produced))

	decision := p.engine.Decide(
		produced,
		consensus.Context{Instrument: obs.Instrument, Timestamp: obs.Timestamp},
	)
	p.metrics.ObserveDecision(decision)
	p.persistDecision(ctx, decision)

	p.attempt(ctx, decision, obs)
	p.publishSnapshots(ctx)
}

// attempt pushes the decision through the guard, requeueing exactly once on
// a rate-limit rejection. The requeued attempt re-enters at gate 1.
func (p *Pipeline) attempt(ctx context.Context, decision models.Decision, obs models.Observation) {
	for try := 0; try < 2; try++ {
		dataAge := time.Since(obs.Timestamp)
		ack, err := p.guard.Attempt(ctx, decision, obs.Price, dataAge)
		p.metrics.ObserveGuard(p.guard.Snapshot())

		if err == nil {
			p.metrics.ObserveOrderPlaced()
			p.tracker.Track(decision, obs.Price)
			log.Info().
				Str("decision_id", decision.ID).
				Str("order_id", ack.OrderID).
				Msg("decision executed and tracked")
			return
		}

		r := guard.AsRejection(err)
		if r == nil {
			log.Error().Err(err).Msg("guard attempt failed")
			return
		}
		p.metrics.ObserveRejection(r.Code)

		if r.Code == guard.CodeRateLimited && try == 0 {
			if !p.sleep(ctx, p.cfg.RequeueDelay) {
				return
			}
			continue
		}
		return
	}
}

func (p *Pipeline) persistDecision(ctx context.Context, decision models.Decision) {
	if p.audit == nil {
		return
	}
	if err := p.audit.InsertDecision(ctx, decision); err != nil {
		log.Error().Err(err).Str("decision_id", decision.ID).Msg("audit write failed")
	}
}

func (p *Pipeline) publishSnapshots(ctx context.Context) {
	metrics := p.tracker.Metrics()
	p.metrics.ObserveAccuracy(metrics)

	if p.snaps == nil {
		return
	}
	if latest, ok := p.engine.Latest(); ok {
		logSnapshotErr("latest_decision", p.snaps.PutLatestDecision(ctx, latest))
	}
	logSnapshotErr("venue_health", p.snaps.PutVenueHealth(ctx, p.validator.AllVenueHealth()))
	logSnapshotErr("guard_state", p.snaps.PutGuardState(ctx, p.guard.Snapshot()))
	logSnapshotErr("accuracy", p.snaps.PutAccuracy(ctx, metrics))
}

func logSnapshotErr(key string, err error) {
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("snapshot write failed")
	}
}
