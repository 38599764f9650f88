// Package models defines the shared domain types for the tradeguard
// decision-to-execution pipeline: market observations, validation verdicts,
// consensus decisions, and outcome bookkeeping.
package models

import "time"

// Action is the trade action produced by the consensus engine.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether the action is one of the three known values.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// Freshness classifies an observation's age against fixed thresholds.
type Freshness string

const (
	FreshnessLive    Freshness = "live"
	FreshnessStale   Freshness = "stale"
	FreshnessExpired Freshness = "expired"
)

// Direction is the realized price direction at an evaluation horizon.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionFlat Direction = "FLAT"
)

// Observation is one price/volume/spread sample from one venue at one
// instant. Immutable once created; optional fields are nil when the venue
// did not supply them.
type Observation struct {
	Venue      string    `json:"venue"`
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Volume     *float64  `json:"volume,omitempty"`
	Bid        *float64  `json:"bid,omitempty"`
	Ask        *float64  `json:"ask,omitempty"`
	Spread     *float64  `json:"spread,omitempty"`
	Volatility *float64  `json:"volatility,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationResult is the validator's verdict for one Observation.
// Errors force Valid=false; warnings do not.
type ValidationResult struct {
	Valid      bool      `json:"valid"`
	Errors     []string  `json:"errors"`
	Warnings   []string  `json:"warnings"`
	Freshness  Freshness `json:"freshness"`
	AgeMs      int64     `json:"age_ms"`
	Confidence float64   `json:"confidence"`
}

// VenueHealth tracks per-venue data quality over the process lifetime.
type VenueHealth struct {
	Venue             string    `json:"venue"`
	LastGoodAt        time.Time `json:"last_good_at"`
	LastGoodPrice     float64   `json:"last_good_price"`
	Stale             bool      `json:"stale"`
	ErrorCount        int       `json:"error_count"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
}

// DataHealthScore is the aggregate venue health snapshot exposed to callers.
type DataHealthScore struct {
	Score  float64 `json:"score"`
	Status string  `json:"status"` // healthy | degraded | critical
}

// SignalFactor is one named input to the consensus engine. The owning
// subsystem computes Value, Passed, and Weight; the engine only aggregates.
// Direction is empty for non-directional factors (gates, locks).
type SignalFactor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Threshold    float64 `json:"threshold"`
	Passed       bool    `json:"passed"`
	Weight       float64 `json:"weight"`
	Direction    Action  `json:"direction,omitempty"`
	Contribution string  `json:"contribution,omitempty"`
}

// Decision is the output of one consensus computation. Immutable once
// produced; Reasoning is mandatory and never empty.
type Decision struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Instrument string         `json:"instrument"`
	Action     Action         `json:"action"`
	Confidence float64        `json:"confidence"`
	Factors    []SignalFactor `json:"factors"`
	Reasoning  []string       `json:"reasoning"`
	Summary    string         `json:"summary"`
}

// HorizonResult records the realized outcome of a decision at one horizon.
// A nil *HorizonResult on TrackedDecision means the horizon is unevaluated;
// once written it is never overwritten.
type HorizonResult struct {
	Price       float64   `json:"price"`
	PctChange   float64   `json:"pct_change"`
	Direction   Direction `json:"direction"`
	Accurate    bool      `json:"accurate"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// TrackedDecision is a Decision plus execution/outcome bookkeeping. Created
// when the execution guard allows a decision; horizon fields are filled
// asynchronously, each at most once.
type TrackedDecision struct {
	Decision        Decision       `json:"decision"`
	PriceAtDecision float64        `json:"price_at_decision"`
	Result1m        *HorizonResult `json:"result_1m,omitempty"`
	Result5m        *HorizonResult `json:"result_5m,omitempty"`
	Result15m       *HorizonResult `json:"result_15m,omitempty"`
	CompletedAt     time.Time      `json:"completed_at,omitempty"`
}

// Completed reports whether all three horizons have been evaluated.
func (t *TrackedDecision) Completed() bool {
	return t.Result1m != nil && t.Result5m != nil && t.Result15m != nil
}

// HorizonAccuracy aggregates correctness at a single horizon.
type HorizonAccuracy struct {
	Evaluated int     `json:"evaluated"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
}

// ActionAccuracy aggregates 5-minute correctness for one action.
type ActionAccuracy struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// AccuracyMetrics is the outcome tracker's rolling statistics snapshot.
type AccuracyMetrics struct {
	TotalTracked   int                       `json:"total_tracked"`
	TotalCompleted int                       `json:"total_completed"`
	Horizon1m      HorizonAccuracy           `json:"horizon_1m"`
	Horizon5m      HorizonAccuracy           `json:"horizon_5m"`
	Horizon15m     HorizonAccuracy           `json:"horizon_15m"`
	ByAction       map[Action]ActionAccuracy `json:"by_action"`
	CurrentStreak  int                       `json:"current_streak"`
}

// GuardSnapshot is the read-only view of the execution guard's state.
type GuardSnapshot struct {
	CircuitOpen         bool          `json:"circuit_open"`
	CooldownRemaining   time.Duration `json:"cooldown_remaining"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	WindowCount         int           `json:"window_count"`
	WindowCapacity      int           `json:"window_capacity"`
	TotalAttempts       int64         `json:"total_attempts"`
	TotalAllowed        int64         `json:"total_allowed"`
	TotalRejected       int64         `json:"total_rejected"`
}
