package insta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the private API endpoint the mobile clients talk to.
const DefaultBaseURL = "https://i.instagram.com/api/v1"

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "igpost/0.1"
)

// Settings keys the client reads and writes. The blob as a whole is opaque
// to callers; only the uuids sub-map has cross-package meaning.
const (
	settingsKeyUUIDs         = "uuids"
	settingsKeyAuthorization = "authorization"
	settingsKeyUsername      = "username"
	settingsKeySessionID     = "sessionid"
)

// Client is an HTTP client for the Instagram private API. It holds the
// session settings blob (authorization token, device uuids) and applies a
// configurable random delay before each request to avoid burst patterns.
//
// A Client is single-owner within one authentication attempt and is not
// safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	settings map[string]any

	delayMin time.Duration
	delayMax time.Duration

	// sleepFunc is called for inter-request delays and retry backoff.
	// Defaults to timeSleep. Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		settings:   map[string]any{},
		sleepFunc:  timeSleep,
	}
}

// SetDelayRange configures the random pre-request delay. A zero max
// disables the delay entirely (used by tests).
func (c *Client) SetDelayRange(min, max time.Duration) {
	c.delayMin = min
	c.delayMax = max
}

// Settings returns a copy of the current session settings blob, suitable
// for persisting. The returned map is detached from the client's state.
func (c *Client) Settings() map[string]any {
	return maps.Clone(c.settings)
}

// SetSettings replaces the session settings blob wholesale. Passing an
// empty map resets the client to an unauthenticated state.
func (c *Client) SetSettings(settings map[string]any) {
	if settings == nil {
		settings = map[string]any{}
	}

	c.settings = maps.Clone(settings)
}

// SetUUIDs replaces the device identity sub-map. An empty map forces fresh
// uuids to be generated on the next login.
func (c *Client) SetUUIDs(uuids map[string]any) {
	if len(uuids) == 0 {
		delete(c.settings, settingsKeyUUIDs)
		return
	}

	c.settings[settingsKeyUUIDs] = maps.Clone(uuids)
}

// UUIDs returns the device identity sub-map, or nil when none is set.
func (c *Client) UUIDs() map[string]any {
	u, ok := c.settings[settingsKeyUUIDs].(map[string]any)
	if !ok {
		return nil
	}

	return maps.Clone(u)
}

// ensureUUIDs generates a device identity when none is present. Existing
// uuids are never regenerated — the device fingerprint must stay stable
// across logins or the platform treats every login as a new device.
func (c *Client) ensureUUIDs() {
	if _, ok := c.settings[settingsKeyUUIDs].(map[string]any); ok {
		return
	}

	c.settings[settingsKeyUUIDs] = map[string]any{
		"phone_id":          uuid.NewString(),
		"uuid":              uuid.NewString(),
		"client_session_id": uuid.NewString(),
		"advertising_id":    uuid.NewString(),
		"device_id":         "android-" + uuid.NewString()[:16],
	}

	c.logger.Debug("generated fresh device uuids")
}

func (c *Client) authorization() string {
	s, _ := c.settings[settingsKeyAuthorization].(string)
	return s
}

// do executes one API request with pre-request delay, retry with
// exponential backoff on transient failures, and error classification.
// The response body is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path, contentType string, body func() (io.Reader, error), out any) error {
	url := c.baseURL + path

	if err := c.delay(ctx); err != nil {
		return fmt.Errorf("insta: request canceled: %w", err)
	}

	var attempt int
	for {
		data, status, err := c.doOnce(ctx, method, url, contentType, body)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("insta: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return fmt.Errorf("insta: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return fmt.Errorf("insta: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
			)

			if out == nil {
				return nil
			}

			if decErr := json.Unmarshal(data, out); decErr != nil {
				return fmt.Errorf("insta: decoding %s response: %w", path, decErr)
			}

			return nil
		}

		var envelope apiResponse
		_ = json.Unmarshal(data, &envelope)

		if isRetryable(status) && attempt < maxRetries {
			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return fmt.Errorf("insta: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		return &APIError{
			StatusCode: status,
			Message:    envelope.Message,
			Err:        classifyResponse(status, envelope.Message),
		}
	}
}

// doOnce executes a single HTTP request and returns the body and status.
// body is a factory so retries get a fresh reader.
func (c *Client) doOnce(ctx context.Context, method, url, contentType string, body func() (io.Reader, error)) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		r, err := body()
		if err != nil {
			return nil, 0, err
		}

		reader = r
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if auth := c.authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	if sid, _ := c.settings[settingsKeySessionID].(string); sid != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: sid})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response body: %w", err)
	}

	return data, resp.StatusCode, nil
}

// delay sleeps for a random duration within the configured range.
func (c *Client) delay(ctx context.Context) error {
	if c.delayMax <= 0 {
		return nil
	}

	span := c.delayMax - c.delayMin
	d := c.delayMin
	if span > 0 {
		d += time.Duration(rand.Int64N(int64(span)))
	}

	c.logger.Debug("pre-request delay", slog.Duration("delay", d))

	return c.sleepFunc(ctx, d)
}

// calcBackoff returns the backoff duration for the given attempt with jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Jitter: +/- jitterFraction of the base value.
	jitter := backoff * jitterFraction * (2*rand.Float64() - 1)

	return time.Duration(backoff + jitter)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
