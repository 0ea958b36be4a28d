package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rutomatrix/lab-console/internal/model"
)

// Client fetches the booked-devices listing from the reservation backend.
// The poll is safety relevant (it detects booking expiry and reassignment),
// so transient failures are retried with exponential backoff before the
// previous snapshot is kept.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint
}

// NewClient builds a booking client for the given API base URL.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:5000"
	}
	return &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
	}
}

type listResponse struct {
	Success       bool            `json:"success"`
	BookedDevices []model.Booking `json:"booked_devices"`
}

// FetchBookings returns the current booking list. Server errors and network
// failures are retried twice; client errors abort immediately.
func (c *Client) FetchBookings(ctx context.Context) ([]model.Booking, error) {
	operation := func() ([]model.Booking, error) {
		return c.fetchOnce(ctx)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxRetries+1),
	)
}

func (c *Client) fetchOnce(ctx context.Context) ([]model.Booking, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/booked-devices", nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("booking fetch status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, backoff.Permanent(fmt.Errorf("booking fetch status %d: %s", resp.StatusCode, string(body)))
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode booking response: %w", err))
	}
	if !payload.Success {
		return nil, backoff.Permanent(fmt.Errorf("booking source reported failure"))
	}
	return payload.BookedDevices, nil
}
