package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/tradeguard/internal/config"
)

// HTTPPlacer places orders against a venue's REST endpoint. Outbound calls
// run through a token-bucket limiter and a transport circuit breaker so a
// dead venue fails fast instead of piling up requests. This breaker protects
// the transport only; the execution guard keeps its own decision-level
// breaker with stricter semantics.
type HTTPPlacer struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPPlacer creates a live order placer.
func NewHTTPPlacer(cfg config.BrokerConfig) *HTTPPlacer {
	settings := gobreaker.Settings{
		Name:    "broker",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &HTTPPlacer{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type placeResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Place implements Placer.
func (p *HTTPPlacer) Place(ctx context.Context, order Order) (*Ack, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker rate wait: %w", err)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.place(ctx, order)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("broker transport unavailable: %w", err)
		}
		return nil, err
	}
	return result.(*Ack), nil
}

func (p *HTTPPlacer) place(ctx context.Context, order Order) (*Ack, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read order response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("order rejected by venue: status %d: %s", resp.StatusCode, string(data))
	}

	var pr placeResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	if pr.Status != "" && pr.Status != "accepted" && pr.Status != "filled" {
		return nil, fmt.Errorf("order not accepted: %s: %s", pr.Status, pr.Message)
	}

	return &Ack{OrderID: pr.OrderID, PlacedAt: time.Now()}, nil
}
