// Package feed streams market observations from a venue websocket endpoint.
// The feed is the only part of the pipeline that blocks on network I/O;
// everything downstream of the observation channel is non-blocking.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

// tick is the venue's wire format for one sample.
type tick struct {
	Venue      string   `json:"venue"`
	Instrument string   `json:"instrument"`
	Price      float64  `json:"price"`
	Volume     *float64 `json:"volume,omitempty"`
	Bid        *float64 `json:"bid,omitempty"`
	Ask        *float64 `json:"ask,omitempty"`
	Spread     *float64 `json:"spread,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`
	Timestamp  int64    `json:"ts"` // unix milliseconds
}

// Client maintains a websocket subscription and republishes observations.
type Client struct {
	cfg config.FeedConfig
	out chan models.Observation
}

// NewClient creates a feed client. Observations are delivered on
// Observations(); a slow consumer drops ticks rather than stalling the
// socket reader.
func NewClient(cfg config.FeedConfig) *Client {
	return &Client{
		cfg: cfg,
		out: make(chan models.Observation, 256),
	}
}

// Observations returns the channel of decoded observations.
func (c *Client) Observations() <-chan models.Observation {
	return c.out
}

// Run connects and reads until the context is cancelled, reconnecting with
// exponential backoff on any failure.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.out)

	backoff := c.cfg.ReconnectDelay
	for {
		if err := c.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Client) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed dial failed: %w", err)
	}
	defer conn.Close()

	if err := c.subscribe(conn); err != nil {
		return err
	}
	log.Info().Str("url", c.cfg.URL).Strs("instruments", c.cfg.Instruments).Msg("feed connected")

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read failed: %w", err)
		}

		var t tick
		if err := json.Unmarshal(data, &t); err != nil {
			log.Debug().Err(err).Msg("skipping malformed tick")
			continue
		}

		obs := models.Observation{
			Venue:      t.Venue,
			Instrument: t.Instrument,
			Price:      t.Price,
			Volume:     t.Volume,
			Bid:        t.Bid,
			Ask:        t.Ask,
			Spread:     t.Spread,
			Volatility: t.Volatility,
			Timestamp:  time.UnixMilli(t.Timestamp),
		}

		select {
		case c.out <- obs:
		default:
			log.Warn().Str("instrument", obs.Instrument).Msg("observation dropped, consumer too slow")
		}
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	sub := map[string]interface{}{
		"op":          "subscribe",
		"instruments": c.cfg.Instruments,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed subscribe failed: %w", err)
	}
	return nil
}
