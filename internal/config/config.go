// Package config loads and defaults the tradeguard YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Validator   ValidatorConfig   `yaml:"validator"`
	Consensus   ConsensusConfig   `yaml:"consensus"`
	Guard       GuardConfig       `yaml:"guard"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Feed        FeedConfig        `yaml:"feed"`
	Broker      BrokerConfig      `yaml:"broker"`
	Server      ServerConfig      `yaml:"server"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
}

// ValidatorConfig holds data validation thresholds.
type ValidatorConfig struct {
	WarnAge          time.Duration `yaml:"warn_age"`           // >10s: warning only
	StaleAge         time.Duration `yaml:"stale_age"`          // >30s: stale
	ExpireAge        time.Duration `yaml:"expire_age"`         // >60s: expired, hard error
	MaxDeviationPct  float64       `yaml:"max_deviation_pct"`  // price jump warning threshold (fraction, 0.50 = 50%)
	MaxSpreadPct     float64       `yaml:"max_spread_pct"`     // spread/price warning threshold
	MaxVolatility    float64       `yaml:"max_volatility"`     // volatility warning threshold
	PriceHistorySize int           `yaml:"price_history_size"` // per venue+instrument ring capacity
}

// DefaultValidatorConfig returns production validation thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		WarnAge:          10 * time.Second,
		StaleAge:         30 * time.Second,
		ExpireAge:        60 * time.Second,
		MaxDeviationPct:  0.50,
		MaxSpreadPct:     0.10,
		MaxVolatility:    1.00,
		PriceHistorySize: 100,
	}
}

// ConsensusConfig holds consensus engine weighting parameters.
type ConsensusConfig struct {
	ActionThreshold float64 `yaml:"action_threshold"` // winning score must exceed this to act
	LockFactor      string  `yaml:"lock_factor"`      // factor name that grants the agreement bonus
	LockBonus       float64 `yaml:"lock_bonus"`       // bonus added to the side already leading
	MaxConfidence   float64 `yaml:"max_confidence"`   // confidence ceiling
	HistorySize     int     `yaml:"history_size"`     // audit history capacity, most-recent-first
}

// DefaultConsensusConfig returns the production consensus parameters.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		ActionThreshold: 0.3,
		LockFactor:      "harmonic_agreement",
		LockBonus:       0.1,
		MaxConfidence:   0.95,
		HistorySize:     100,
	}
}

// GuardConfig holds execution guard limits.
type GuardConfig struct {
	MaxDataAge      time.Duration `yaml:"max_data_age"`     // execution-path kill switch
	TripThreshold   int           `yaml:"trip_threshold"`   // consecutive failures before the breaker trips
	Cooldown        time.Duration `yaml:"cooldown"`         // breaker open duration
	RateWindow      time.Duration `yaml:"rate_window"`      // sliding window span
	RateLimit       int           `yaml:"rate_limit"`       // max attempts per window
	MinConfidence   float64       `yaml:"min_confidence"`   // below this, signal quality filter rejects
	RequeueDelay    time.Duration `yaml:"requeue_delay"`    // delay before the single rate-limit requeue
	DefaultOrderQty float64       `yaml:"default_order_qty"`
}

// DefaultGuardConfig returns production guard limits.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxDataAge:      2 * time.Second,
		TripThreshold:   3,
		Cooldown:        60 * time.Second,
		RateWindow:      10 * time.Second,
		RateLimit:       5,
		MinConfidence:   0.4,
		RequeueDelay:    500 * time.Millisecond,
		DefaultOrderQty: 1.0,
	}
}

// TrackerConfig holds outcome tracker parameters.
type TrackerConfig struct {
	Horizons      []time.Duration `yaml:"horizons"`       // evaluation offsets, ascending
	DeadBandPct   float64         `yaml:"dead_band_pct"`  // ±% change treated as FLAT
	Capacity      int             `yaml:"capacity"`       // tracked decision ring capacity
	SweepInterval time.Duration   `yaml:"sweep_interval"` // periodic evaluation cadence
}

// DefaultTrackerConfig returns production tracker parameters.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Horizons:      []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		DeadBandPct:   0.05,
		Capacity:      200,
		SweepInterval: 5 * time.Second,
	}
}

// FeedConfig holds venue feed connection settings.
type FeedConfig struct {
	URL            string        `yaml:"url"`
	Instruments    []string      `yaml:"instruments"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// DefaultFeedConfig returns feed defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		URL:            "wss://localhost:9443/stream",
		Instruments:    []string{"BTC-USD"},
		ReconnectDelay: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// BrokerConfig holds order placement settings.
type BrokerConfig struct {
	URL            string        `yaml:"url"`
	DryRun         bool          `yaml:"dry_run"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RPS            float64       `yaml:"rps"`   // outbound token-bucket rate
	Burst          int           `yaml:"burst"` // outbound token-bucket burst
}

// DefaultBrokerConfig returns broker defaults. Dry-run is on by default so a
// misconfigured deploy cannot place live orders.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		URL:            "https://localhost:9444/orders",
		DryRun:         true,
		RequestTimeout: 5 * time.Second,
		RPS:            2.0,
		Burst:          2,
	}
}

// ServerConfig holds the read-only status API settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DefaultServerConfig returns server defaults. Local-only by default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// PersistenceConfig holds the optional Postgres audit settings.
type PersistenceConfig struct {
	Enabled bool          `yaml:"enabled"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// SnapshotConfig holds the optional Redis snapshot store settings.
type SnapshotConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Validator: DefaultValidatorConfig(),
		Consensus: DefaultConsensusConfig(),
		Guard:     DefaultGuardConfig(),
		Tracker:   DefaultTrackerConfig(),
		Feed:      DefaultFeedConfig(),
		Broker:    DefaultBrokerConfig(),
		Server:    DefaultServerConfig(),
		Persistence: PersistenceConfig{
			Enabled: false,
			Timeout: 3 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     30 * time.Second,
		},
	}
}

// Load reads YAML from path over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that YAML cannot express.
func (c *Config) Validate() error {
	if c.Validator.StaleAge >= c.Validator.ExpireAge {
		return fmt.Errorf("validator: stale_age %v must be below expire_age %v", c.Validator.StaleAge, c.Validator.ExpireAge)
	}
	if c.Guard.TripThreshold < 1 {
		return fmt.Errorf("guard: trip_threshold must be at least 1")
	}
	if c.Guard.RateLimit < 1 {
		return fmt.Errorf("guard: rate_limit must be at least 1")
	}
	if len(c.Tracker.Horizons) != 3 {
		return fmt.Errorf("tracker: exactly 3 horizons required, got %d", len(c.Tracker.Horizons))
	}
	if c.Consensus.ActionThreshold <= 0 {
		return fmt.Errorf("consensus: action_threshold must be positive")
	}
	return nil
}
