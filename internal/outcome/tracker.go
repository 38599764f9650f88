// Package outcome schedules delayed evaluation of allowed decisions against
// realized price movement and maintains rolling accuracy statistics.
//
// Horizon evaluation is sweep-driven: both the periodic sweep and the
// price-driven sweep call the same evaluation and a horizon field is written
// at most once, so whichever path fires first wins and the other is a no-op.
package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

// Tracker records allowed decisions and evaluates them at fixed horizons.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	cfg     config.TrackerConfig
	entries []*models.TrackedDecision // oldest first, bounded ring
	latest  map[string]pricePoint     // per instrument
	now     func() time.Time
}

// pricePoint is the newest observed price for one instrument.
type pricePoint struct {
	price float64
	at    time.Time
}

// NewTracker creates a tracker.
func NewTracker(cfg config.TrackerConfig) *Tracker {
	return &Tracker{
		cfg:    cfg,
		latest: make(map[string]pricePoint),
		now:    time.Now,
	}
}

// Track stores a decision the guard allowed. The oldest entry is evicted
// once capacity is reached; an entry that never completes is not an error,
// only a quiet feed.
func (t *Tracker) Track(decision models.Decision, priceAtDecision float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, &models.TrackedDecision{
		Decision:        decision,
		PriceAtDecision: priceAtDecision,
	})
	if len(t.entries) > t.cfg.Capacity {
		t.entries = t.entries[len(t.entries)-t.cfg.Capacity:]
	}

	log.Debug().
		Str("decision_id", decision.ID).
		Float64("price", priceAtDecision).
		Msg("decision tracked")
}

// UpdatePrice records the latest observed price for one instrument and
// immediately evaluates any horizon that has elapsed. Decisions for other
// instruments are untouched; each entry is only ever scored against its own
// instrument's prices.
func (t *Tracker) UpdatePrice(instrument string, price float64) {
	if price <= 0 {
		return
	}
	t.mu.Lock()
	t.latest[instrument] = pricePoint{price: price, at: t.now()}
	t.sweepLocked()
	t.mu.Unlock()
}

// Sweep evaluates every pending horizon whose offset has elapsed. Called
// periodically by Run and implicitly by UpdatePrice; both paths produce
// identical results for the same inputs.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	t.sweepLocked()
	t.mu.Unlock()
}

// Run sweeps on a fixed cadence until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) sweepLocked() {
	if len(t.latest) == 0 {
		return // no price ever observed, nothing to evaluate
	}
	now := t.now()
	for _, e := range t.entries {
		for i := range t.cfg.Horizons {
			t.evaluateLocked(e, i, now)
		}
	}
}

// evaluateLocked writes the horizon result if and only if it is unset, the
// horizon has elapsed, and a price newer than the decision has been seen for
// the decision's own instrument.
func (t *Tracker) evaluateLocked(e *models.TrackedDecision, horizon int, now time.Time) {
	slot := t.slot(e, horizon)
	if *slot != nil {
		return // already written by the other path
	}
	if now.Sub(e.Decision.Timestamp) < t.cfg.Horizons[horizon] {
		return
	}
	pp, ok := t.latest[e.Decision.Instrument]
	if !ok || !pp.at.After(e.Decision.Timestamp) {
		return // starved feed: remain incomplete rather than score old data
	}
	if e.PriceAtDecision <= 0 {
		return
	}

	pctChange := (pp.price - e.PriceAtDecision) / e.PriceAtDecision * 100

	direction := models.DirectionFlat
	switch {
	case pctChange > t.cfg.DeadBandPct:
		direction = models.DirectionUp
	case pctChange < -t.cfg.DeadBandPct:
		direction = models.DirectionDown
	}

	accurate := (e.Decision.Action == models.ActionBuy && direction == models.DirectionUp) ||
		(e.Decision.Action == models.ActionSell && direction == models.DirectionDown) ||
		(e.Decision.Action == models.ActionHold && direction == models.DirectionFlat)

	*slot = &models.HorizonResult{
		Price:       pp.price,
		PctChange:   pctChange,
		Direction:   direction,
		Accurate:    accurate,
		EvaluatedAt: now,
	}

	if e.Completed() {
		e.CompletedAt = now
	}

	log.Debug().
		Str("decision_id", e.Decision.ID).
		Dur("horizon", t.cfg.Horizons[horizon]).
		Str("direction", string(direction)).
		Bool("accurate", accurate).
		Msg("horizon evaluated")
}

func (t *Tracker) slot(e *models.TrackedDecision, horizon int) **models.HorizonResult {
	switch horizon {
	case 0:
		return &e.Result1m
	case 1:
		return &e.Result5m
	default:
		return &e.Result15m
	}
}

// Tracked returns a copy of the tracked decisions, oldest first.
func (t *Tracker) Tracked() []models.TrackedDecision {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TrackedDecision, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Metrics returns the rolling accuracy snapshot. Completed means the
// 1-minute horizon has a result; the streak counts consecutive
// 5-minute-accurate decisions backward from the most recent evaluated one.
func (t *Tracker) Metrics() models.AccuracyMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := models.AccuracyMetrics{
		TotalTracked: len(t.entries),
		ByAction:     make(map[models.Action]models.ActionAccuracy),
	}

	for _, e := range t.entries {
		if e.Result1m != nil {
			m.TotalCompleted++
		}
		tally(&m.Horizon1m, e.Result1m)
		tally(&m.Horizon5m, e.Result5m)
		tally(&m.Horizon15m, e.Result15m)

		if e.Result5m != nil {
			a := m.ByAction[e.Decision.Action]
			a.Total++
			if e.Result5m.Accurate {
				a.Correct++
			}
			m.ByAction[e.Decision.Action] = a
		}
	}

	finalize(&m.Horizon1m)
	finalize(&m.Horizon5m)
	finalize(&m.Horizon15m)
	for action, a := range m.ByAction {
		if a.Total > 0 {
			a.Accuracy = float64(a.Correct) / float64(a.Total)
		}
		m.ByAction[action] = a
	}

	for i := len(t.entries) - 1; i >= 0; i-- {
		r := t.entries[i].Result5m
		if r == nil {
			continue
		}
		if !r.Accurate {
			break
		}
		m.CurrentStreak++
	}

	return m
}

func tally(h *models.HorizonAccuracy, r *models.HorizonResult) {
	if r == nil {
		return
	}
	h.Evaluated++
	if r.Accurate {
		h.Correct++
	}
}

func finalize(h *models.HorizonAccuracy) {
	if h.Evaluated > 0 {
		h.Accuracy = float64(h.Correct) / float64(h.Evaluated)
	}
}
