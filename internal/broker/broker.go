// Package broker defines the order-placement boundary. The execution guard
// treats any non-success result from a Placer as a failure for
// circuit-breaker purposes, including network and auth errors.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/models"
)

// Order is one placement request.
type Order struct {
	Action     models.Action `json:"action"`
	Instrument string        `json:"instrument"`
	Size       float64       `json:"size"`
	PriceHint  float64       `json:"price_hint"`
	DecisionID string        `json:"decision_id"`
}

// Ack acknowledges a placed (or dry-run) order.
type Ack struct {
	OrderID  string    `json:"order_id"`
	PlacedAt time.Time `json:"placed_at"`
	DryRun   bool      `json:"dry_run"`
}

// Placer places orders at a venue.
type Placer interface {
	Place(ctx context.Context, order Order) (*Ack, error)
}

// ModeProvider exposes the credential layer's dry-run flag.
type ModeProvider interface {
	DryRun() bool
}

// StaticMode is a fixed-mode provider for wiring and tests.
type StaticMode bool

// DryRun implements ModeProvider.
func (m StaticMode) DryRun() bool { return bool(m) }

// DryRunPlacer acknowledges every order without side effects. It exists so
// dry-run exercises the full gate sequence with only the wire call swapped.
type DryRunPlacer struct{}

// Place implements Placer with a no-op acknowledgment.
func (DryRunPlacer) Place(_ context.Context, order Order) (*Ack, error) {
	log.Info().
		Str("instrument", order.Instrument).
		Str("action", string(order.Action)).
		Float64("size", order.Size).
		Msg("dry-run order acknowledged")
	return &Ack{
		OrderID:  "dry-" + uuid.NewString(),
		PlacedAt: time.Now(),
		DryRun:   true,
	}, nil
}
