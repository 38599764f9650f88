// Package validate scores incoming market observations for freshness and
// sanity and tracks per-venue data health. Validation never returns an
// error: every fault is reported as structured errors/warnings on the
// ValidationResult, and errors force valid=false while warnings do not.
package validate

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

// Confidence penalties. A single error dominates minor warnings, and expiry
// dominates everything.
const (
	errorPenalty   = 0.30
	warningPenalty = 0.05
	stalePenalty   = 0.20
	expiredPenalty = 0.50
)

// Health score bands for the aggregate venue table.
const (
	healthyThreshold  = 0.8
	degradedThreshold = 0.5
)

type pricePoint struct {
	price float64
	ts    time.Time
}

type priceRing struct {
	points []pricePoint
	cap    int
}

func (r *priceRing) append(p pricePoint) {
	r.points = append(r.points, p)
	if len(r.points) > r.cap {
		r.points = r.points[len(r.points)-r.cap:]
	}
}

// latestBefore returns the most recent point strictly older than ts.
func (r *priceRing) latestBefore(ts time.Time) (pricePoint, bool) {
	for i := len(r.points) - 1; i >= 0; i-- {
		if r.points[i].ts.Before(ts) {
			return r.points[i], true
		}
	}
	return pricePoint{}, false
}

func (r *priceRing) newest() (pricePoint, bool) {
	if len(r.points) == 0 {
		return pricePoint{}, false
	}
	return r.points[len(r.points)-1], true
}

// Validator scores observations and maintains the process-wide venue health
// table. Safe for concurrent use.
type Validator struct {
	mu      sync.RWMutex
	cfg     config.ValidatorConfig
	health  map[string]*models.VenueHealth
	history map[string]*priceRing // keyed venue|instrument
	now     func() time.Time
}

// New creates a Validator with the given thresholds.
func New(cfg config.ValidatorConfig) *Validator {
	return &Validator{
		cfg:     cfg,
		health:  make(map[string]*models.VenueHealth),
		history: make(map[string]*priceRing),
		now:     time.Now,
	}
}

func historyKey(venue, instrument string) string {
	return venue + "|" + instrument
}

// Validate scores one observation. Deterministic for an identical
// observation: the price history only advances for observations newer than
// the stored newest point, so re-validating the same sample yields the same
// result.
func (v *Validator) Validate(obs models.Observation) models.ValidationResult {
	now := v.now()
	age := now.Sub(obs.Timestamp)

	result := models.ValidationResult{
		Valid:     true,
		Errors:    []string{},
		Warnings:  []string{},
		Freshness: models.FreshnessLive,
		AgeMs:     age.Milliseconds(),
	}

	// Freshness, hardest class first.
	switch {
	case age > v.cfg.ExpireAge:
		result.Errors = append(result.Errors, fmt.Sprintf("data expired: age %dms exceeds %dms", age.Milliseconds(), v.cfg.ExpireAge.Milliseconds()))
		result.Freshness = models.FreshnessExpired
	case age > v.cfg.StaleAge:
		result.Warnings = append(result.Warnings, fmt.Sprintf("data stale: age %dms exceeds %dms", age.Milliseconds(), v.cfg.StaleAge.Milliseconds()))
		result.Freshness = models.FreshnessStale
	case age > v.cfg.WarnAge:
		result.Warnings = append(result.Warnings, fmt.Sprintf("data aging: age %dms exceeds %dms", age.Milliseconds(), v.cfg.WarnAge.Milliseconds()))
	}

	// Price sanity against the venue's own recent history. Large moves are
	// valid market behavior, so deviation is a warning, never an error.
	if obs.Price <= 0 || math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0) {
		result.Errors = append(result.Errors, fmt.Sprintf("invalid price: %v", obs.Price))
	} else {
		v.checkDeviation(obs, &result)
	}

	if obs.Volume != nil {
		switch {
		case *obs.Volume < 0:
			result.Errors = append(result.Errors, fmt.Sprintf("negative volume: %v", *obs.Volume))
		case *obs.Volume == 0:
			result.Warnings = append(result.Warnings, "zero volume")
		}
	}

	if obs.Bid != nil && obs.Ask != nil && *obs.Bid > *obs.Ask {
		result.Errors = append(result.Errors, fmt.Sprintf("crossed book: bid %.8f above ask %.8f", *obs.Bid, *obs.Ask))
	}
	if obs.Spread != nil && obs.Price > 0 && *obs.Spread/obs.Price > v.cfg.MaxSpreadPct {
		result.Warnings = append(result.Warnings, fmt.Sprintf("wide spread: %.2f%% of price", *obs.Spread/obs.Price*100))
	}

	if obs.Volatility != nil {
		switch {
		case *obs.Volatility < 0:
			result.Errors = append(result.Errors, fmt.Sprintf("negative volatility: %v", *obs.Volatility))
		case *obs.Volatility > v.cfg.MaxVolatility:
			result.Warnings = append(result.Warnings, fmt.Sprintf("extreme volatility: %.1f%%", *obs.Volatility*100))
		}
	}

	if obs.Venue == "" {
		result.Warnings = append(result.Warnings, "missing venue id")
	}

	result.Valid = len(result.Errors) == 0
	result.Confidence = confidence(result)

	v.updateHealth(obs, result, now)

	if !result.Valid {
		log.Debug().
			Str("venue", obs.Venue).
			Str("instrument", obs.Instrument).
			Strs("errors", result.Errors).
			Msg("observation rejected")
	}

	return result
}

// checkDeviation compares the price to the most recent stored price for the
// same venue+instrument and appends the new point. Out-of-order and repeated
// samples never advance the history.
func (v *Validator) checkDeviation(obs models.Observation, result *models.ValidationResult) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := historyKey(obs.Venue, obs.Instrument)
	ring, ok := v.history[key]
	if !ok {
		ring = &priceRing{cap: v.cfg.PriceHistorySize}
		v.history[key] = ring
	}

	if prev, ok := ring.latestBefore(obs.Timestamp); ok && prev.price > 0 {
		deviation := math.Abs(obs.Price-prev.price) / prev.price
		if deviation > v.cfg.MaxDeviationPct {
			result.Warnings = append(result.Warnings, fmt.Sprintf("price deviation %.1f%% from previous %.8f", deviation*100, prev.price))
		}
	}

	if newest, ok := ring.newest(); !ok || obs.Timestamp.After(newest.ts) {
		ring.append(pricePoint{price: obs.Price, ts: obs.Timestamp})
	}
}

func confidence(result models.ValidationResult) float64 {
	c := 1.0
	c -= errorPenalty * float64(len(result.Errors))
	c -= warningPenalty * float64(len(result.Warnings))
	switch result.Freshness {
	case models.FreshnessStale:
		c -= stalePenalty
	case models.FreshnessExpired:
		c -= expiredPenalty
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// updateHealth applies the verdict to the venue health table. A late
// observation older than the stored last-good timestamp never overwrites it.
func (v *Validator) updateHealth(obs models.Observation, result models.ValidationResult, now time.Time) {
	if obs.Venue == "" {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	h, ok := v.health[obs.Venue]
	if !ok {
		h = &models.VenueHealth{Venue: obs.Venue}
		v.health[obs.Venue] = h
	}

	if result.Valid {
		if obs.Timestamp.Before(h.LastGoodAt) {
			return // late arrival, keep the newer last-good
		}
		h.LastGoodAt = obs.Timestamp
		h.LastGoodPrice = obs.Price
		h.Stale = false
		h.ConsecutiveErrors = 0
		return
	}

	h.ErrorCount++
	h.ConsecutiveErrors++
	h.LastError = result.Errors[0]
	// A single transient error does not mark a venue stale; only sustained
	// silence since the last good sample does.
	if now.Sub(h.LastGoodAt) > v.cfg.StaleAge {
		if !h.Stale {
			log.Warn().Str("venue", obs.Venue).Str("error", h.LastError).Msg("venue marked stale")
		}
		h.Stale = true
	}
}

// VenueHealth returns a copy of the health record for one venue, or false if
// the venue has never been seen.
func (v *Validator) VenueHealth(venue string) (models.VenueHealth, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	h, ok := v.health[venue]
	if !ok {
		return models.VenueHealth{}, false
	}
	return *h, true
}

// AllVenueHealth returns a copy of the full venue health table.
func (v *Validator) AllVenueHealth() map[string]models.VenueHealth {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]models.VenueHealth, len(v.health))
	for venue, h := range v.health {
		out[venue] = *h
	}
	return out
}

// HasStaleData reports whether any venue is currently marked stale.
func (v *Validator) HasStaleData() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, h := range v.health {
		if h.Stale {
			return true
		}
	}
	return false
}

// DataHealthScore returns the fraction of venues that are neither stale nor
// failing, banded into healthy/degraded/critical. Zero venues is critical:
// trusting an empty table would mean trusting nothing at all.
func (v *Validator) DataHealthScore() models.DataHealthScore {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.health) == 0 {
		return models.DataHealthScore{Score: 0, Status: "critical"}
	}

	healthy := 0
	for _, h := range v.health {
		if !h.Stale && h.ConsecutiveErrors == 0 {
			healthy++
		}
	}
	score := float64(healthy) / float64(len(v.health))

	status := "critical"
	switch {
	case score >= healthyThreshold:
		status = "healthy"
	case score >= degradedThreshold:
		status = "degraded"
	}
	return models.DataHealthScore{Score: score, Status: status}
}
