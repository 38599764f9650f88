// Package guard wraps every order attempt in kill switches, a circuit
// breaker, and a sliding-window rate limiter. Every rejection carries a
// machine-readable code and a human-readable reason; silent rejection is a
// defect.
package guard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/broker"
	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

// Rejection codes, one per gate plus placement failure.
const (
	CodeDuplicate       = "duplicate"
	CodeStaleData       = "stale_data"
	CodeBadPrice        = "bad_price"
	CodeCircuitOpen     = "circuit_open"
	CodeRateLimited     = "rate_limited"
	CodeLowConfidence   = "low_confidence"
	CodePlacementFailed = "placement_failed"
)

// maxAttemptKeys bounds the idempotency key set.
const maxAttemptKeys = 1024

// Rejection is a typed guard rejection. It implements error so callers can
// branch on the code without parsing the reason text.
type Rejection struct {
	Code   string
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Code, r.Reason, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// AsRejection extracts a *Rejection from an attempt error, or nil.
func AsRejection(err error) *Rejection {
	if r, ok := err.(*Rejection); ok {
		return r
	}
	return nil
}

// Guard is the execution guard for one instrument (or one process, matching
// deployment). All mutable state lives here; there are no package-level
// counters.
type Guard struct {
	mu        sync.Mutex
	cfg       config.GuardConfig
	placer    broker.Placer
	mode      broker.ModeProvider
	attempted map[string]bool
	keyOrder  []string
	inFlight  map[string]bool
	window    []time.Time
	failures  int
	tripUntil time.Time

	totalAttempts int64
	totalAllowed  int64
	totalRejected int64

	now func() time.Time
}

// New creates a guard delegating to the given placer. A nil mode behaves as
// live (dry-run off).
func New(cfg config.GuardConfig, placer broker.Placer, mode broker.ModeProvider) *Guard {
	return &Guard{
		cfg:       cfg,
		placer:    placer,
		mode:      mode,
		attempted: make(map[string]bool),
		inFlight:  make(map[string]bool),
		now:       time.Now,
	}
}

func idempotencyKey(d models.Decision) string {
	return fmt.Sprintf("%d|%s|%.6f", d.Timestamp.UnixNano(), d.Action, d.Confidence)
}

// Attempt runs the full gate sequence for one decision and, if every gate
// passes, delegates to the order placer. Gates are evaluated fail-fast with
// no partial side effects before all of them pass; the rate window only
// records attempts that cleared every gate.
func (g *Guard) Attempt(ctx context.Context, decision models.Decision, currentPrice float64, dataAge time.Duration) (*broker.Ack, error) {
	key := idempotencyKey(decision)

	g.mu.Lock()
	g.totalAttempts++
	now := g.now()

	// Gate 1: idempotency and re-entrancy.
	if g.attempted[key] || g.inFlight[key] {
		return nil, g.reject(decision, &Rejection{
			Code:   CodeDuplicate,
			Reason: fmt.Sprintf("decision %s already attempted", decision.ID),
		})
	}

	// Gate 2: data-age kill switch, a second line of defense stricter than
	// the validator's freshness thresholds.
	if dataAge > g.cfg.MaxDataAge {
		return nil, g.reject(decision, &Rejection{
			Code:   CodeStaleData,
			Reason: fmt.Sprintf("stale data: age %dms exceeds %dms", dataAge.Milliseconds(), g.cfg.MaxDataAge.Milliseconds()),
		})
	}

	// Gate 3: price sanity.
	if currentPrice <= 0 || math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) {
		return nil, g.reject(decision, &Rejection{
			Code:   CodeBadPrice,
			Reason: fmt.Sprintf("invalid current price: %v", currentPrice),
		})
	}

	// Gate 4: circuit breaker, cooldown evaluated lazily on attempt.
	if !g.tripUntil.IsZero() {
		if now.Before(g.tripUntil) {
			remaining := g.tripUntil.Sub(now)
			return nil, g.reject(decision, &Rejection{
				Code:   CodeCircuitOpen,
				Reason: fmt.Sprintf("circuit breaker open, retrying in %.0fs", remaining.Seconds()),
			})
		}
		g.tripUntil = time.Time{}
		log.Info().Msg("circuit breaker cooldown elapsed, closing")
	}

	// Gate 5: sliding-window rate limit.
	g.pruneWindow(now)
	if len(g.window) >= g.cfg.RateLimit {
		return nil, g.reject(decision, &Rejection{
			Code:   CodeRateLimited,
			Reason: fmt.Sprintf("rate limited: %d attempts in %s window", len(g.window), g.cfg.RateWindow),
		})
	}

	// Gate 6: signal quality filter.
	if decision.Action == models.ActionHold {
		return nil, g.reject(decision, &Rejection{
			Code:   CodeLowConfidence,
			Reason: "HOLD decisions are never forwarded to order placement",
		})
	}
	if decision.Confidence < g.cfg.MinConfidence {
		return nil, g.reject(decision, &Rejection{
			Code:   CodeLowConfidence,
			Reason: fmt.Sprintf("confidence %.2f below execution floor %.2f", decision.Confidence, g.cfg.MinConfidence),
		})
	}

	// All gates passed: record the attempt and mark it in flight before
	// releasing the lock for the blocking placement call.
	g.window = append(g.window, now)
	g.recordKey(key)
	g.inFlight[key] = true
	g.totalAllowed++

	placer := g.placer
	if g.mode != nil && g.mode.DryRun() {
		placer = broker.DryRunPlacer{}
	}
	g.mu.Unlock()

	ack, err := placer.Place(ctx, broker.Order{
		Action:     decision.Action,
		Instrument: decision.Instrument,
		Size:       g.cfg.DefaultOrderQty,
		PriceHint:  currentPrice,
		DecisionID: decision.ID,
	})

	g.mu.Lock()
	delete(g.inFlight, key)

	if err != nil {
		g.failures++
		rejection := &Rejection{
			Code:   CodePlacementFailed,
			Reason: fmt.Sprintf("order placement failed (%d consecutive)", g.failures),
			Err:    err,
		}
		if g.failures >= g.cfg.TripThreshold {
			g.tripUntil = g.now().Add(g.cfg.Cooldown)
			g.failures = 0 // next cooldown window starts clean
			log.Warn().
				Time("trip_until", g.tripUntil).
				Msg("circuit breaker tripped")
			rejection.Reason += fmt.Sprintf("; circuit breaker tripped until %s", g.tripUntil.Format(time.RFC3339))
		}
		g.mu.Unlock()

		log.Error().
			Err(err).
			Str("decision_id", decision.ID).
			Msg("order placement failed")
		return nil, rejection
	}

	g.failures = 0
	g.mu.Unlock()

	log.Info().
		Str("decision_id", decision.ID).
		Str("order_id", ack.OrderID).
		Bool("dry_run", ack.DryRun).
		Msg("order placed")
	return ack, nil
}

// reject finalizes a gate rejection. Caller must hold the lock; reject
// releases it.
func (g *Guard) reject(decision models.Decision, r *Rejection) *Rejection {
	g.totalRejected++
	g.mu.Unlock()

	log.Warn().
		Str("decision_id", decision.ID).
		Str("code", r.Code).
		Str("reason", r.Reason).
		Msg("attempt rejected")
	return r
}

func (g *Guard) pruneWindow(now time.Time) {
	cutoff := now.Add(-g.cfg.RateWindow)
	kept := g.window[:0]
	for _, ts := range g.window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.window = kept
}

func (g *Guard) recordKey(key string) {
	g.attempted[key] = true
	g.keyOrder = append(g.keyOrder, key)
	if len(g.keyOrder) > maxAttemptKeys {
		delete(g.attempted, g.keyOrder[0])
		g.keyOrder = g.keyOrder[1:]
	}
}

// Snapshot returns the current guard state for callers and the status API.
func (g *Guard) Snapshot() models.GuardSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneWindow(now)

	remaining := time.Duration(0)
	open := false
	if !g.tripUntil.IsZero() && now.Before(g.tripUntil) {
		open = true
		remaining = g.tripUntil.Sub(now)
	}

	return models.GuardSnapshot{
		CircuitOpen:         open,
		CooldownRemaining:   remaining,
		ConsecutiveFailures: g.failures,
		WindowCount:         len(g.window),
		WindowCapacity:      g.cfg.RateLimit,
		TotalAttempts:       g.totalAttempts,
		TotalAllowed:        g.totalAllowed,
		TotalRejected:       g.totalRejected,
	}
}
