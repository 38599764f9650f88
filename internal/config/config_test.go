package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Validator.ExpireAge)
	assert.Equal(t, 3, cfg.Guard.TripThreshold)
	assert.Equal(t, 5, cfg.Guard.RateLimit)
	assert.True(t, cfg.Broker.DryRun, "defaults must never place live orders")
	require.Len(t, cfg.Tracker.Horizons, 3)
	assert.Equal(t, 5*time.Minute, cfg.Tracker.Horizons[1])
}

func TestLoad_OverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := []byte(`
guard:
  cooldown: 90s
  rate_limit: 8
validator:
  max_deviation_pct: 0.25
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Guard.Cooldown)
	assert.Equal(t, 8, cfg.Guard.RateLimit)
	assert.Equal(t, 0.25, cfg.Validator.MaxDeviationPct)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Guard.TripThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/cfg.yaml")
	assert.Error(t, err)
}

func TestValidate_RejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Validator.StaleAge = 2 * time.Minute // above expire_age
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Guard.TripThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Tracker.Horizons = cfg.Tracker.Horizons[:2]
	assert.Error(t, cfg.Validate())
}
