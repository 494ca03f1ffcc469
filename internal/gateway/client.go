package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 250 * time.Millisecond
	DefaultTimeout     = 30 * time.Second

	maxBodyBytes = 32 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	APIKey          string
	DefaultInstance string
	Timeout         time.Duration
	MaxAttempts     int
	Backoff         time.Duration
	// RatePerSecond caps outgoing requests; zero disables limiting.
	RatePerSecond float64
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// Client calls the Evolution API. It holds no per-call state and is safe for
// concurrent use.
type Client struct {
	baseURL         string
	apiKey          string
	defaultInstance string
	maxAttempts     int
	backoff         time.Duration
	httpClient      *http.Client
	limiter         *rate.Limiter
	log             *zap.Logger
}

// New creates a Client, filling zero options with defaults.
func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		apiKey:          opts.APIKey,
		defaultInstance: opts.DefaultInstance,
		maxAttempts:     opts.MaxAttempts,
		backoff:         opts.Backoff,
		httpClient:      opts.HTTPClient,
		log:             opts.Logger,
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return c
}

// DefaultInstance returns the instance used when callers pass an empty name.
func (c *Client) DefaultInstance() string {
	return c.defaultInstance
}

// Invoke performs action against instance. Transport failures and 5xx
// replies are retried with linear backoff; business failures (404, 409 and
// other non-2xx) come back in the Response with a nil error.
func (c *Client) Invoke(ctx context.Context, action Action, instance string, payload Payload) (*Response, error) {
	ep, ok := endpoints[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if instance == "" {
		instance = c.defaultInstance
	}
	if c.baseURL == "" {
		return nil, &Error{Action: action, Err: fmt.Errorf("gateway url not configured")}
	}

	var body []byte
	if ep.body != nil && ep.method != http.MethodGet {
		var err error
		body, err = json.Marshal(ep.body(instance, payload))
		if err != nil {
			return nil, &Error{Action: action, Err: fmt.Errorf("marshal body: %w", err)}
		}
	}
	url := c.baseURL + ep.path(instance)

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &Error{Action: action, Err: err}
			}
		}

		status, raw, err := c.do(ctx, ep.method, url, body)
		if err == nil && !transient(status, nil) {
			return newResponse(action, status, raw), nil
		}
		if err == nil {
			err = fmt.Errorf("server error: %s", strings.TrimSpace(string(truncate(raw, 200))))
		}
		if ctx.Err() != nil {
			return nil, &Error{Action: action, Status: status, Err: ctx.Err()}
		}
		if attempt >= c.maxAttempts {
			return nil, &Error{Action: action, Status: status, Err: err}
		}

		c.log.Warn("gateway call failed, retrying",
			zap.String("action", string(action)),
			zap.String("instance", instance),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Error(err),
		)
		if err := sleepWithContext(ctx, c.backoff*time.Duration(attempt)); err != nil {
			return nil, &Error{Action: action, Status: status, Err: err}
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// sleepWithContext waits for the duration or returns early on context cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
