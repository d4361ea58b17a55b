package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
)

// Endpoint paths served by the booking API. They are part of the wire
// contract with deployed clients and must not change.
const (
	PathCreateIntent = "/(api)/(stripe)/create"
	PathPay          = "/(api)/(stripe)/pay"
	PathCreateRide   = "/(api)/ride/create"
)

// IdempotencyHeader carries the outbox entry id on ride creation so a
// redelivered record is not stored twice.
const IdempotencyHeader = "Idempotency-Key"

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Call   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Call, e.Status, msg)
}

// Temporary reports whether retrying the same request may succeed. A 409
// means another request holds the same idempotency key, so a later retry
// either replays its ride or takes the key over once the lease expires.
func (e *StatusError) Temporary() bool {
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return e.Status >= 500
}

// Client talks to the booking API over HTTP/JSON.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req models.CreateIntentRequest) (models.CreateIntentResponse, error) {
	var out models.CreateIntentResponse
	err := c.post(ctx, "create_intent", PathCreateIntent, req, nil, &out)
	return out, err
}

func (c *Client) Pay(ctx context.Context, req models.PayRequest) (models.PayResponse, error) {
	var out models.PayResponse
	err := c.post(ctx, "pay", PathPay, req, nil, &out)
	return out, err
}

// CreateRide posts the ride record. The response body is informational; only
// the status code decides success.
func (c *Client) CreateRide(ctx context.Context, idempotencyKey string, ride models.RideRecord) (models.RideRecord, error) {
	var out models.RideResponse
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{IdempotencyHeader: idempotencyKey}
	}
	err := c.post(ctx, "create_ride", PathCreateRide, ride, headers, &out)
	return out.Data, err
}

func (c *Client) post(ctx context.Context, call, path string, body any, headers map[string]string, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		observability.BackendCallDuration.WithLabelValues(call, result).Observe(time.Since(start).Seconds())
	}()

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", call, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", call, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", call, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", call, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Call: call, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", call, err)
	}
	return nil
}
