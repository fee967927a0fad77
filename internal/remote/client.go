// Package remote talks to the GPU fleet control API and to the rented
// instance's own SSH and HTTP surfaces.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/clipforge/clipforge/internal/logger"
)

// Client configuration defaults
const (
	// DefaultRate is the sustained fleet API request rate per second
	DefaultRate = 2.0
	// DefaultBurst is the token bucket burst size
	DefaultBurst = 4
	// DefaultMaxRetries bounds retries on 429 and 5xx responses
	DefaultMaxRetries = 3
	// DefaultBackoffBase is the first retry delay
	DefaultBackoffBase = 500 * time.Millisecond
	// DefaultStatusTTL bounds how long instance details are served from cache
	DefaultStatusTTL = 20 * time.Second
)

// InstanceDetails is the fleet API's view of a rented instance
type InstanceDetails struct {
	ID           string `json:"id"`
	ActualStatus string `json:"actual_status"`
	SSHHost      string `json:"ssh_host"`
	SSHPort      int    `json:"ssh_port"`
	SSHUser      string `json:"ssh_user"`
	PublicIP     string `json:"public_ipaddr"`
}

// Running reports whether the fleet considers the instance up
func (d *InstanceDetails) Running() bool {
	return d.ActualStatus == "running"
}

// ClientOptions configures a Client
type ClientOptions struct {
	APIURL      string
	APIKey      string
	Rate        float64
	Burst       int
	MaxRetries  int
	BackoffBase time.Duration
	StatusTTL   time.Duration
	HTTPClient  *http.Client
}

type cachedDetails struct {
	details   *InstanceDetails
	fetchedAt time.Time
}

// Client is a rate-limited client for the fleet control API. All calls wait
// on the token bucket and retry bounded times on 429 and 5xx responses.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	base       time.Duration
	statusTTL  time.Duration

	mu    sync.Mutex
	cache map[string]cachedDetails
}

// NewClient creates a new fleet API client
func NewClient(opts ClientOptions) *Client {
	if opts.Rate == 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst == 0 {
		opts.Burst = DefaultBurst
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.StatusTTL == 0 {
		opts.StatusTTL = DefaultStatusTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiURL:     opts.APIURL,
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		maxRetries: opts.MaxRetries,
		base:       opts.BackoffBase,
		statusTTL:  opts.StatusTTL,
		cache:      make(map[string]cachedDetails),
	}
}

// Call makes a request to the fleet API. The call blocks until a rate token
// is available, then retries up to MaxRetries times on 429, 5xx, and network
// errors with exponential backoff and jitter, honoring Retry-After hints.
func (c *Client) Call(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			if ra, ok := retryAfter(lastErr); ok {
				delay = ra
			}
			logger.Debugf("fleet api retry %d for %s %s in %s", attempt, method, endpoint, delay)
			select {
			case <-ctx.Done():
				return nil, &APIError{Class: Transient, Message: "request canceled", Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Class: Transient, Message: "rate limiter wait canceled", Err: err}
		}

		body, err := c.do(ctx, method, endpoint, payload)
		if err == nil {
			return body, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, &APIError{Class: Permanent, Message: "error marshaling request body", Err: err}
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	url := fmt.Sprintf("%s%s", c.apiURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, &APIError{Class: Permanent, Message: "error creating request", Err: err}
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Class: Transient, Message: "request failed", Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warnf("error closing response body: %v", cerr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Class: Transient, Message: "error reading response body", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		apiErr := &APIError{
			Class:      Transient,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			apiErr.Err = &retryAfterHint{delay: ra}
		}
		return nil, apiErr
	default:
		return nil, &APIError{
			Class:      Permanent,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.base * time.Duration(1<<attempt)
	jitter := time.Duration(rand.Int63n(int64(c.base)))
	return d + jitter
}

// retryAfterHint carries a server-supplied Retry-After delay through the
// error chain so the retry loop can honor it.
type retryAfterHint struct {
	delay time.Duration
}

func (h *retryAfterHint) Error() string {
	return fmt.Sprintf("retry after %s", h.delay)
}

func retryAfter(err error) (time.Duration, bool) {
	for err != nil {
		if hint, ok := err.(*retryAfterHint); ok {
			return hint.delay, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// GetInstanceDetails fetches the instance details, served from a short-TTL
// cache to bound API call volume under frequent polling
func (c *Client) GetInstanceDetails(ctx context.Context, id string) (*InstanceDetails, error) {
	c.mu.Lock()
	if entry, ok := c.cache[id]; ok && time.Since(entry.fetchedAt) < c.statusTTL {
		c.mu.Unlock()
		return entry.details, nil
	}
	c.mu.Unlock()

	body, err := c.Call(ctx, http.MethodGet, fmt.Sprintf("/instances/%s/", id), nil)
	if err != nil {
		return nil, err
	}
	var details InstanceDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, &APIError{Class: Transient, Message: "error decoding instance details", Err: err}
	}
	if details.ID == "" {
		details.ID = id
	}

	c.mu.Lock()
	c.cache[id] = cachedDetails{details: &details, fetchedAt: time.Now()}
	c.mu.Unlock()
	return &details, nil
}

// StartInstance asks the fleet to bring the instance up
func (c *Client) StartInstance(ctx context.Context, id string) error {
	_, err := c.Call(ctx, http.MethodPut, fmt.Sprintf("/instances/%s/", id),
		map[string]string{"state": "running"})
	c.invalidate(id)
	return err
}

// StopInstance asks the fleet to stop the instance
func (c *Client) StopInstance(ctx context.Context, id string) error {
	_, err := c.Call(ctx, http.MethodPut, fmt.Sprintf("/instances/%s/", id),
		map[string]string{"state": "stopped"})
	c.invalidate(id)
	return err
}

// invalidate drops the cached details for an id; mutating calls must not let
// pollers observe a pre-mutation status for a full TTL
func (c *Client) invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}
