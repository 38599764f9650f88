package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

func newTestValidator(now time.Time) *Validator {
	v := New(config.DefaultValidatorConfig())
	v.now = func() time.Time { return now }
	return v
}

func obsAt(ts time.Time, price float64) models.Observation {
	return models.Observation{
		Venue:      "kraken",
		Instrument: "BTC-USD",
		Price:      price,
		Timestamp:  ts,
	}
}

func fptr(f float64) *float64 { return &f }

func TestValidate_LiveObservation(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	result := v.Validate(obsAt(now.Add(-2*time.Second), 50000.0))

	assert.True(t, result.Valid)
	assert.Equal(t, models.FreshnessLive, result.Freshness)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestValidate_ExpiredAlwaysInvalid(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	result := v.Validate(obsAt(now.Add(-61*time.Second), 50000.0))

	assert.False(t, result.Valid)
	assert.Equal(t, models.FreshnessExpired, result.Freshness)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "expired")
	// 1.0 - 0.30 error - 0.50 expired
	assert.InDelta(t, 0.20, result.Confidence, 1e-9)
}

func TestValidate_StaleIsWarningOnly(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	result := v.Validate(obsAt(now.Add(-35*time.Second), 50000.0))

	assert.True(t, result.Valid)
	assert.Equal(t, models.FreshnessStale, result.Freshness)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	// 1.0 - 0.05 warning - 0.20 stale
	assert.InDelta(t, 0.75, result.Confidence, 1e-9)
}

func TestValidate_AgingWarning(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	result := v.Validate(obsAt(now.Add(-15*time.Second), 50000.0))

	assert.True(t, result.Valid)
	assert.Equal(t, models.FreshnessLive, result.Freshness)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "aging")
}

func TestValidate_PriceDeviationIsWarningNotError(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	first := v.Validate(obsAt(now.Add(-2*time.Second), 100.0))
	require.True(t, first.Valid)
	require.Empty(t, first.Warnings)

	second := v.Validate(obsAt(now.Add(-1*time.Second), 160.0))
	assert.True(t, second.Valid, "60%% deviation is a warning, not an error")
	require.Len(t, second.Warnings, 1)
	assert.Contains(t, second.Warnings[0], "deviation")
}

func TestValidate_SmallMoveNoDeviationWarning(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	v.Validate(obsAt(now.Add(-2*time.Second), 100.0))
	result := v.Validate(obsAt(now.Add(-1*time.Second), 120.0))

	assert.True(t, result.Valid)
	assert.Empty(t, result.Warnings)
}

func TestValidate_InvalidPrice(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	for _, price := range []float64{0, -1} {
		result := v.Validate(obsAt(now, price))
		assert.False(t, result.Valid, "price %v must be rejected", price)
	}
}

func TestValidate_VolumeAndSpreadRules(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	obs := obsAt(now, 100.0)
	obs.Volume = fptr(-5)
	result := v.Validate(obs)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "negative volume")

	obs = obsAt(now, 100.0)
	obs.Volume = fptr(0)
	result = v.Validate(obs)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings[0], "zero volume")

	obs = obsAt(now, 100.0)
	obs.Bid = fptr(101.0)
	obs.Ask = fptr(100.0)
	result = v.Validate(obs)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "crossed book")

	obs = obsAt(now, 100.0)
	obs.Spread = fptr(15.0)
	result = v.Validate(obs)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings[0], "wide spread")
}

func TestValidate_VolatilityRules(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	obs := obsAt(now, 100.0)
	obs.Volatility = fptr(-0.1)
	assert.False(t, v.Validate(obs).Valid)

	obs = obsAt(now, 100.0)
	obs.Volatility = fptr(1.5)
	result := v.Validate(obs)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings[0], "volatility")
}

func TestValidate_MissingVenueWarningOnly(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	obs := obsAt(now, 100.0)
	obs.Venue = ""
	result := v.Validate(obs)

	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "missing venue")
}

func TestValidate_Idempotent(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	v.Validate(obsAt(now.Add(-2*time.Second), 100.0))
	obs := obsAt(now.Add(-1*time.Second), 160.0)

	first := v.Validate(obs)
	second := v.Validate(obs)

	assert.Equal(t, first, second)
}

func TestVenueHealth_ValidClearsErrors(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	v.Validate(obsAt(now, -1)) // invalid
	h, ok := v.VenueHealth("kraken")
	require.True(t, ok)
	assert.Equal(t, 1, h.ErrorCount)
	assert.Equal(t, 1, h.ConsecutiveErrors)

	v.Validate(obsAt(now, 100.0)) // valid
	h, _ = v.VenueHealth("kraken")
	assert.Equal(t, 1, h.ErrorCount, "cumulative count persists")
	assert.Equal(t, 0, h.ConsecutiveErrors)
	assert.False(t, h.Stale)
	assert.Equal(t, 100.0, h.LastGoodPrice)
}

func TestVenueHealth_TransientErrorDoesNotMarkStale(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	v.Validate(obsAt(now.Add(-time.Second), 100.0)) // good sample just now
	v.Validate(obsAt(now, -1))                      // transient fault

	h, _ := v.VenueHealth("kraken")
	assert.False(t, h.Stale, "one error within the stale window stays healthy")
	assert.False(t, v.HasStaleData())
}

func TestVenueHealth_SustainedErrorsMarkStale(t *testing.T) {
	now := time.Now()
	v := New(config.DefaultValidatorConfig())

	past := now.Add(-2 * time.Minute)
	v.now = func() time.Time { return past }
	v.Validate(obsAt(past, 100.0))

	v.now = func() time.Time { return now }
	v.Validate(obsAt(now, -1))

	h, _ := v.VenueHealth("kraken")
	assert.True(t, h.Stale)
	assert.True(t, v.HasStaleData())
}

func TestVenueHealth_LateObservationIsNoOp(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	v.Validate(obsAt(now.Add(-time.Second), 200.0))
	v.Validate(obsAt(now.Add(-5*time.Second), 100.0)) // arrives late

	h, _ := v.VenueHealth("kraken")
	assert.Equal(t, 200.0, h.LastGoodPrice, "older data must not overwrite last-good")
}

func TestDataHealthScore_Bands(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)

	assert.Equal(t, "critical", v.DataHealthScore().Status, "zero venues")

	good := obsAt(now, 100.0)
	v.Validate(good)
	score := v.DataHealthScore()
	assert.Equal(t, 1.0, score.Score)
	assert.Equal(t, "healthy", score.Status)

	bad := obsAt(now, -1)
	bad.Venue = "okx"
	v.Validate(bad)
	score = v.DataHealthScore()
	assert.InDelta(t, 0.5, score.Score, 1e-9)
	assert.Equal(t, "degraded", score.Status)
}
