// Package factors ships reference SignalFactor producers. The consensus
// engine is agnostic to how many producers exist or what they measure; these
// cover the pipeline's own needs (a data-trust gate, momentum, volume surge,
// and the harmonic agreement lock) and show the producer contract.
package factors

import (
	"fmt"
	"sync"

	"github.com/sawpanic/tradeguard/internal/models"
)

// Producer turns the latest observation context into one signal factor.
type Producer interface {
	Name() string
	Produce(obs models.Observation, validation models.ValidationResult) models.SignalFactor
}

// TrustGate derives the pipeline's primary gate factor from the validator's
// confidence. By convention it is always the first factor handed to the
// consensus engine.
type TrustGate struct {
	Threshold float64
}

// Name implements Producer.
func (TrustGate) Name() string { return "data_trust" }

// Produce implements Producer.
func (g TrustGate) Produce(_ models.Observation, validation models.ValidationResult) models.SignalFactor {
	return models.SignalFactor{
		Name:         "data_trust",
		Value:        validation.Confidence,
		Threshold:    g.Threshold,
		Passed:       validation.Valid && validation.Confidence >= g.Threshold,
		Weight:       1.0,
		Contribution: fmt.Sprintf("validator confidence %.2f, freshness %s", validation.Confidence, validation.Freshness),
	}
}

// Momentum scores short-term price direction over a small per-instrument
// window of recent prices.
type Momentum struct {
	mu        sync.Mutex
	window    map[string][]float64
	Span      int
	Threshold float64
	Weight    float64
}

// NewMomentum creates a momentum producer with the given window span.
func NewMomentum(span int, threshold, weight float64) *Momentum {
	return &Momentum{
		window:    make(map[string][]float64),
		Span:      span,
		Threshold: threshold,
		Weight:    weight,
	}
}

// Name implements Producer.
func (*Momentum) Name() string { return "momentum" }

// Produce implements Producer.
func (m *Momentum) Produce(obs models.Observation, _ models.ValidationResult) models.SignalFactor {
	m.mu.Lock()
	w := append(m.window[obs.Instrument], obs.Price)
	if len(w) > m.Span {
		w = w[len(w)-m.Span:]
	}
	m.window[obs.Instrument] = w
	m.mu.Unlock()

	factor := models.SignalFactor{
		Name:      "momentum",
		Threshold: m.Threshold,
		Weight:    m.Weight,
	}
	if len(w) < 2 || w[0] <= 0 {
		factor.Contribution = "insufficient history"
		return factor
	}

	change := (w[len(w)-1] - w[0]) / w[0]
	strength := change
	if strength < 0 {
		strength = -strength
	}
	// Normalize: a 1% move over the window saturates the signal.
	strength = strength * 100
	if strength > 1 {
		strength = 1
	}

	factor.Value = strength
	factor.Passed = strength >= m.Threshold
	if change > 0 {
		factor.Direction = models.ActionBuy
	} else if change < 0 {
		factor.Direction = models.ActionSell
	}
	factor.Contribution = fmt.Sprintf("%.3f%% move over %d samples", change*100, len(w))
	return factor
}

// VolumeSurge scores the latest volume against the instrument's rolling
// average, leaning in the direction of the last price move.
type VolumeSurge struct {
	mu        sync.Mutex
	avg       map[string]float64
	lastPrice map[string]float64
	Threshold float64
	Weight    float64
}

// NewVolumeSurge creates a volume surge producer.
func NewVolumeSurge(threshold, weight float64) *VolumeSurge {
	return &VolumeSurge{
		avg:       make(map[string]float64),
		lastPrice: make(map[string]float64),
		Threshold: threshold,
		Weight:    weight,
	}
}

// Name implements Producer.
func (*VolumeSurge) Name() string { return "volume_surge" }

// Produce implements Producer.
func (v *VolumeSurge) Produce(obs models.Observation, _ models.ValidationResult) models.SignalFactor {
	factor := models.SignalFactor{
		Name:      "volume_surge",
		Threshold: v.Threshold,
		Weight:    v.Weight,
	}
	if obs.Volume == nil {
		factor.Contribution = "no volume supplied"
		return factor
	}

	v.mu.Lock()
	avg := v.avg[obs.Instrument]
	prev := v.lastPrice[obs.Instrument]
	if avg == 0 {
		avg = *obs.Volume
	}
	// Exponential moving average, slow decay.
	v.avg[obs.Instrument] = avg*0.9 + *obs.Volume*0.1
	v.lastPrice[obs.Instrument] = obs.Price
	v.mu.Unlock()

	if avg <= 0 {
		factor.Contribution = "no volume baseline"
		return factor
	}

	ratio := *obs.Volume / avg
	strength := (ratio - 1.0) / 2.0 // 3x average volume saturates
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}

	factor.Value = strength
	factor.Passed = strength >= v.Threshold
	if prev > 0 && obs.Price > prev {
		factor.Direction = models.ActionBuy
	} else if prev > 0 && obs.Price < prev {
		factor.Direction = models.ActionSell
	}
	factor.Contribution = fmt.Sprintf("volume %.1fx rolling average", ratio)
	return factor
}

// Agreement is the lock factor: it is active when the directional factors
// already produced this cycle agree. The consensus engine grants its bonus
// to whichever side leads when this factor is processed.
type Agreement struct {
	Threshold float64
}

// Name implements Producer.
func (Agreement) Name() string { return "harmonic_agreement" }

// FromFactors builds the agreement factor from already-produced factors.
func (a Agreement) FromFactors(produced []models.SignalFactor) models.SignalFactor {
	var buy, sell int
	for _, f := range produced {
		if !f.Passed {
			continue
		}
		switch f.Direction {
		case models.ActionBuy:
			buy++
		case models.ActionSell:
			sell++
		}
	}

	total := buy + sell
	value := 0.0
	if total > 0 {
		lead := buy
		if sell > lead {
			lead = sell
		}
		value = float64(lead) / float64(total)
	}

	return models.SignalFactor{
		Name:         "harmonic_agreement",
		Value:        value,
		Threshold:    a.Threshold,
		Passed:       total > 1 && value >= a.Threshold,
		Weight:       0.2,
		Contribution: fmt.Sprintf("%d buy vs %d sell aligned factors", buy, sell),
	}
}
