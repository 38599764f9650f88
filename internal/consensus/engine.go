// Package consensus combines independently computed subsystem readings into
// a single trade action with confidence and a mandatory reasoning trail.
// The engine never recomputes factor thresholds; it only aggregates what the
// owning subsystems already scored.
package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

// holdConfidence is the confidence assigned when the gate passes but no side
// clears the action threshold.
const holdConfidence = 0.5

// Context carries per-decision inputs that are not factors.
type Context struct {
	Instrument string
	Timestamp  time.Time
}

// Subscriber receives every decision as it is produced.
type Subscriber func(models.Decision)

// Engine is the weighted multi-source consensus engine. Deterministic given
// identical inputs; its only side effects are the bounded history append and
// subscriber notification.
type Engine struct {
	mu      sync.RWMutex
	cfg     config.ConsensusConfig
	history []models.Decision // most-recent-first
	subs    []Subscriber
}

// NewEngine creates a consensus engine.
func NewEngine(cfg config.ConsensusConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Subscribe registers a callback invoked synchronously for every decision.
func (e *Engine) Subscribe(sub Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, sub)
}

// Decide aggregates the given factors into one decision. The first factor is
// the hard gate: if it does not pass, the decision is a forced HOLD with
// confidence 1-gateValue regardless of every other factor. Callers must not
// feed the engine observations the validator rejected.
func (e *Engine) Decide(factors []models.SignalFactor, dctx Context) models.Decision {
	ts := dctx.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	decision := models.Decision{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Instrument: dctx.Instrument,
		Factors:    factors,
		Reasoning:  []string{},
	}

	if len(factors) == 0 {
		// No readings at all: trust nothing.
		decision.Action = models.ActionHold
		decision.Confidence = holdConfidence
		decision.Reasoning = append(decision.Reasoning, "no signal factors supplied - holding")
		decision.Summary = "HOLD with 50% confidence - 0 of 0 factors aligned"
		e.record(decision)
		return decision
	}

	gate := factors[0]
	decision.Reasoning = append(decision.Reasoning, factorLine(gate))

	if !gate.Passed {
		decision.Action = models.ActionHold
		decision.Confidence = clamp01(1.0 - gate.Value)
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("gate %s failed (%.2f vs %.2f) - forced HOLD", gate.Name, gate.Value, gate.Threshold))
		decision.Summary = e.summary(decision.Action, decision.Confidence, factors)
		e.record(decision)
		return decision
	}

	buyScore, sellScore := 0.0, 0.0

	for _, f := range factors[1:] {
		if f.Name == e.cfg.LockFactor {
			// The agreement bonus goes to whichever side leads at this point
			// in the ordering; applying it can itself flip the lead.
			if f.Passed && buyScore != sellScore {
				if buyScore > sellScore {
					buyScore += e.cfg.LockBonus
					decision.Reasoning = append(decision.Reasoning,
						fmt.Sprintf("%s active - +%.2f bonus to BUY side", f.Name, e.cfg.LockBonus))
				} else {
					sellScore += e.cfg.LockBonus
					decision.Reasoning = append(decision.Reasoning,
						fmt.Sprintf("%s active - +%.2f bonus to SELL side", f.Name, e.cfg.LockBonus))
				}
			} else {
				decision.Reasoning = append(decision.Reasoning, factorLine(f))
			}
			continue
		}

		decision.Reasoning = append(decision.Reasoning, factorLine(f))
		if !f.Passed {
			continue
		}
		switch f.Direction {
		case models.ActionBuy:
			buyScore += f.Weight * f.Value
		case models.ActionSell:
			sellScore += f.Weight * f.Value
		}
	}

	switch {
	case buyScore > sellScore && buyScore > e.cfg.ActionThreshold:
		decision.Action = models.ActionBuy
		decision.Confidence = min64(e.cfg.MaxConfidence, buyScore)
	case sellScore > buyScore && sellScore > e.cfg.ActionThreshold:
		decision.Action = models.ActionSell
		decision.Confidence = min64(e.cfg.MaxConfidence, sellScore)
	default:
		// Exact ties and sub-threshold scores both resolve to HOLD.
		decision.Action = models.ActionHold
		decision.Confidence = holdConfidence
	}

	margin := buyScore - sellScore
	if margin < 0 {
		margin = -margin
	}
	decision.Reasoning = append(decision.Reasoning,
		fmt.Sprintf("%s selected: buy %.2f vs sell %.2f (margin %.2f)", decision.Action, buyScore, sellScore, margin))
	decision.Summary = e.summary(decision.Action, decision.Confidence, factors)

	e.record(decision)
	return decision
}

func factorLine(f models.SignalFactor) string {
	status := "FAIL"
	if f.Passed {
		status = "PASS"
	}
	line := fmt.Sprintf("%s: %.2f vs threshold %.2f - %s", f.Name, f.Value, f.Threshold, status)
	if f.Passed && f.Direction != "" {
		line += fmt.Sprintf(", leans %s (weight %.2f)", f.Direction, f.Weight)
	}
	if f.Contribution != "" {
		line += " [" + f.Contribution + "]"
	}
	return line
}

func (e *Engine) summary(action models.Action, confidence float64, factors []models.SignalFactor) string {
	aligned := 0
	for _, f := range factors {
		if f.Passed {
			aligned++
		}
	}
	return fmt.Sprintf("%s with %.0f%% confidence - %d of %d factors aligned",
		action, confidence*100, aligned, len(factors))
}

func (e *Engine) record(d models.Decision) {
	e.mu.Lock()
	e.history = append([]models.Decision{d}, e.history...)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[:e.cfg.HistorySize]
	}
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	log.Info().
		Str("decision_id", d.ID).
		Str("instrument", d.Instrument).
		Str("action", string(d.Action)).
		Float64("confidence", d.Confidence).
		Msg("decision produced")

	for _, sub := range subs {
		sub(d)
	}
}

// Latest returns the most recent decision, or false if none exists.
func (e *Engine) Latest() (models.Decision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.history) == 0 {
		return models.Decision{}, false
	}
	return e.history[0], true
}

// History returns a copy of the decision history, most recent first.
func (e *Engine) History() []models.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Decision, len(e.history))
	copy(out, e.history)
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
