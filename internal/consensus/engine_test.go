package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

func gateFactor(passed bool, value float64) models.SignalFactor {
	return models.SignalFactor{
		Name:      "data_trust",
		Value:     value,
		Threshold: 0.6,
		Passed:    passed,
		Weight:    1.0,
	}
}

func directional(name string, dir models.Action, value, weight float64) models.SignalFactor {
	return models.SignalFactor{
		Name:      name,
		Value:     value,
		Threshold: 0.5,
		Passed:    true,
		Weight:    weight,
		Direction: dir,
	}
}

func testContext() Context {
	return Context{Instrument: "BTC-USD", Timestamp: time.Now()}
}

func TestDecide_GateFailureForcesHold(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	factors := []models.SignalFactor{
		gateFactor(false, 0.3),
		directional("momentum", models.ActionBuy, 0.9, 0.9),
	}

	d := e.Decide(factors, testContext())

	assert.Equal(t, models.ActionHold, d.Action)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9, "confidence is 1-gateValue")
	assert.NotEmpty(t, d.Reasoning)
	assert.Contains(t, d.Reasoning[len(d.Reasoning)-1], "forced HOLD")
}

func TestDecide_WeightedBuyWins(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	// buyScore = 0.6*0.5 + 0.4*0.3 = 0.42, sellScore = 0.5*0.2 = 0.10
	factors := []models.SignalFactor{
		gateFactor(true, 0.9),
		directional("momentum", models.ActionBuy, 0.6, 0.5),
		directional("volume_surge", models.ActionBuy, 0.4, 0.3),
		directional("mean_reversion", models.ActionSell, 0.5, 0.2),
	}

	d := e.Decide(factors, testContext())

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.InDelta(t, 0.42, d.Confidence, 1e-9)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "BTC-USD", d.Instrument)
}

func TestDecide_LockBonusBoostsLeader(t *testing.T) {
	cfg := config.DefaultConsensusConfig()
	e := NewEngine(cfg)

	factors := []models.SignalFactor{
		gateFactor(true, 0.9),
		directional("momentum", models.ActionBuy, 0.6, 0.6), // buy 0.36
		{Name: cfg.LockFactor, Value: 0.8, Threshold: 0.5, Passed: true, Weight: 0.2},
	}

	d := e.Decide(factors, testContext())

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.InDelta(t, 0.46, d.Confidence, 1e-9, "0.36 + 0.10 lock bonus")
}

func TestDecide_LockBonusCanFlipLeader(t *testing.T) {
	cfg := config.DefaultConsensusConfig()
	e := NewEngine(cfg)

	// Sell leads by 0.04 when the lock factor is processed; the 0.10 bonus
	// pushes sell further ahead. Ordering dependency is intentional.
	factors := []models.SignalFactor{
		gateFactor(true, 0.9),
		directional("momentum", models.ActionSell, 0.5, 0.8), // sell 0.40
		{Name: cfg.LockFactor, Value: 0.8, Threshold: 0.5, Passed: true, Weight: 0.2},
		directional("volume_surge", models.ActionBuy, 0.6, 0.75), // buy 0.45
	}

	d := e.Decide(factors, testContext())

	assert.Equal(t, models.ActionSell, d.Action, "bonus applied mid-stream keeps sell ahead")
	assert.InDelta(t, 0.50, d.Confidence, 1e-9)
}

func TestDecide_TieResolvesToHold(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	factors := []models.SignalFactor{
		gateFactor(true, 0.9),
		directional("momentum", models.ActionBuy, 0.8, 0.5),
		directional("mean_reversion", models.ActionSell, 0.8, 0.5),
	}

	d := e.Decide(factors, testContext())

	assert.Equal(t, models.ActionHold, d.Action)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestDecide_SubThresholdScoresHold(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	factors := []models.SignalFactor{
		gateFactor(true, 0.9),
		directional("momentum", models.ActionBuy, 0.4, 0.5), // buy 0.20 < 0.3
	}

	d := e.Decide(factors, testContext())

	assert.Equal(t, models.ActionHold, d.Action)
}

func TestDecide_GateOnlyDegeneratesToHold(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	d := e.Decide([]models.SignalFactor{gateFactor(true, 0.9)}, testContext())

	assert.Equal(t, models.ActionHold, d.Action, "no ghost signals without factors")
}

func TestDecide_ConfidenceCeiling(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	factors := []models.SignalFactor{
		gateFactor(true, 0.9),
		directional("momentum", models.ActionBuy, 1.0, 1.0),
		directional("volume_surge", models.ActionBuy, 1.0, 1.0),
	}

	d := e.Decide(factors, testContext())

	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Equal(t, 0.95, d.Confidence)
}

func TestDecide_ReasoningTrailAlwaysPresent(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	for _, factors := range [][]models.SignalFactor{
		nil,
		{gateFactor(false, 0.2)},
		{gateFactor(true, 0.9), directional("momentum", models.ActionBuy, 0.8, 0.6)},
	} {
		d := e.Decide(factors, testContext())
		assert.NotEmpty(t, d.Reasoning, "reasoning is mandatory output")
		assert.NotEmpty(t, d.Summary)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	factors := []models.SignalFactor{
		gateFactor(true, 0.9),
		directional("momentum", models.ActionBuy, 0.6, 0.5),
	}
	dctx := Context{Instrument: "ETH-USD", Timestamp: time.Unix(1700000000, 0)}

	a := NewEngine(config.DefaultConsensusConfig()).Decide(factors, dctx)
	b := NewEngine(config.DefaultConsensusConfig()).Decide(factors, dctx)

	a.ID, b.ID = "", "" // ids are the only nondeterministic field
	assert.Equal(t, a, b)
}

func TestHistory_BoundedMostRecentFirst(t *testing.T) {
	cfg := config.DefaultConsensusConfig()
	cfg.HistorySize = 3
	e := NewEngine(cfg)

	for i := 0; i < 5; i++ {
		e.Decide([]models.SignalFactor{gateFactor(true, 0.9)}, Context{
			Instrument: "BTC-USD",
			Timestamp:  time.Unix(int64(i), 0),
		})
	}

	h := e.History()
	require.Len(t, h, 3)
	assert.Equal(t, time.Unix(4, 0), h[0].Timestamp)
	assert.Equal(t, time.Unix(2, 0), h[2].Timestamp)

	latest, ok := e.Latest()
	require.True(t, ok)
	assert.Equal(t, h[0], latest)
}

func TestSubscribe_NotifiedPerDecision(t *testing.T) {
	e := NewEngine(config.DefaultConsensusConfig())

	var seen []models.Decision
	e.Subscribe(func(d models.Decision) { seen = append(seen, d) })

	e.Decide([]models.SignalFactor{gateFactor(true, 0.9)}, testContext())
	e.Decide([]models.SignalFactor{gateFactor(false, 0.2)}, testContext())

	require.Len(t, seen, 2)
	assert.Equal(t, models.ActionHold, seen[1].Action)
}
