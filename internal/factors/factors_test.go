package factors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/tradeguard/internal/models"
)

func obs(price float64, volume *float64) models.Observation {
	return models.Observation{
		Venue:      "kraken",
		Instrument: "BTC-USD",
		Price:      price,
		Volume:     volume,
		Timestamp:  time.Now(),
	}
}

func TestTrustGate(t *testing.T) {
	g := TrustGate{Threshold: 0.6}

	f := g.Produce(obs(100, nil), models.ValidationResult{Valid: true, Confidence: 0.9, Freshness: models.FreshnessLive})
	assert.True(t, f.Passed)
	assert.Equal(t, 0.9, f.Value)

	f = g.Produce(obs(100, nil), models.ValidationResult{Valid: true, Confidence: 0.5, Freshness: models.FreshnessStale})
	assert.False(t, f.Passed, "low confidence fails the gate even when valid")

	f = g.Produce(obs(100, nil), models.ValidationResult{Valid: false, Confidence: 0.7})
	assert.False(t, f.Passed, "invalid data never passes the gate")
}

func TestMomentum_Direction(t *testing.T) {
	m := NewMomentum(5, 0.3, 0.5)

	var f models.SignalFactor
	for _, p := range []float64{100, 100.2, 100.5, 100.9} {
		f = m.Produce(obs(p, nil), models.ValidationResult{})
	}

	assert.Equal(t, models.ActionBuy, f.Direction)
	assert.True(t, f.Passed, "0.9%% move saturates near 1.0")
	assert.Greater(t, f.Value, 0.3)
}

func TestMomentum_InsufficientHistory(t *testing.T) {
	m := NewMomentum(5, 0.3, 0.5)
	f := m.Produce(obs(100, nil), models.ValidationResult{})
	assert.False(t, f.Passed)
	assert.Equal(t, 0.0, f.Value)
}

func TestVolumeSurge(t *testing.T) {
	v := NewVolumeSurge(0.3, 0.3)

	base := 100.0
	var f models.SignalFactor
	for i := 0; i < 5; i++ {
		f = v.Produce(obs(100+float64(i)*0.1, &base), models.ValidationResult{})
	}
	assert.False(t, f.Passed, "steady volume is no surge")

	spike := 400.0
	f = v.Produce(obs(101, &spike), models.ValidationResult{})
	assert.True(t, f.Passed)
	assert.Equal(t, models.ActionBuy, f.Direction, "price rose on the spike")
}

func TestAgreement(t *testing.T) {
	a := Agreement{Threshold: 0.7}

	aligned := []models.SignalFactor{
		{Name: "momentum", Passed: true, Direction: models.ActionBuy},
		{Name: "volume_surge", Passed: true, Direction: models.ActionBuy},
	}
	f := a.FromFactors(aligned)
	assert.True(t, f.Passed)
	assert.Equal(t, 1.0, f.Value)

	split := []models.SignalFactor{
		{Name: "momentum", Passed: true, Direction: models.ActionBuy},
		{Name: "volume_surge", Passed: true, Direction: models.ActionSell},
	}
	f = a.FromFactors(split)
	assert.False(t, f.Passed, "an even split is no agreement")

	single := []models.SignalFactor{
		{Name: "momentum", Passed: true, Direction: models.ActionBuy},
	}
	f = a.FromFactors(single)
	assert.False(t, f.Passed, "one factor alone cannot lock consensus")
}
