// Package predictor talks to the external draft-bot rating service. It
// batches one request covering every seat and normalizes the response into
// per-seat (identity, rating) lists.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrPredictionUnavailable covers network failures, non-2xx responses and
// malformed bodies. Bot picks must not be guessed without predictions, so
// callers block further input until a retry succeeds.
var ErrPredictionUnavailable = errors.New("prediction unavailable")

const (
	batchPredictPath = "/api/draftbots/batchpredict"

	DefaultTimeout = 10 * time.Second
)

// One request at a time with a small burst; the bot service is shared.
var DefaultRateLimit = rate.Every(200 * time.Millisecond)

// SeatInput is one seat's view: its open pack and its picks so far, both as
// stable card identities in order. Unresolved identities are filtered out
// before the request is built.
type SeatInput struct {
	Pack  []string `json:"pack"`
	Picks []string `json:"picks"`
}

// Rating is one scored card. Higher means more preferred. No ordering beyond
// "matches request pack order" is guaranteed; look up by Oracle, not position.
type Rating struct {
	Oracle string  `json:"oracle"`
	Rating float64 `json:"rating"`
}

// Response carries one rating list per requested seat.
type Response struct {
	Prediction [][]Rating `json:"prediction"`
}

type batchRequest struct {
	Inputs []SeatInput `json:"inputs"`
}

// Client calls the draft-bot service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Options configures the client.
type Options struct {
	// Timeout for HTTP requests (default: 10 seconds). Ignored when
	// HTTPClient is set.
	Timeout time.Duration

	// RateLimit controls request frequency (default: 5 req/second).
	RateLimit rate.Limit

	// HTTPClient allows a custom HTTP client.
	HTTPClient *http.Client
}

// NewClient returns a client for the bot service at baseURL.
func NewClient(baseURL string, options Options) *Client {
	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}
	if options.RateLimit == 0 {
		options.RateLimit = DefaultRateLimit
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: options.Timeout}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(options.RateLimit, 1),
	}
}

// BatchPredict requests ratings for every seat at once.
func (c *Client) BatchPredict(ctx context.Context, inputs []SeatInput) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(batchRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrPredictionUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchPredictPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrPredictionUnavailable, resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrPredictionUnavailable, err)
	}
	return &out, nil
}
