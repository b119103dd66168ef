// Package ledger wraps the remote attendance ledger webhook with
// throttling, retries and a circuit breaker. The remote end is
// at-least-once, high-latency and occasionally rate-limited; every caller
// goes through Call and inherits the same protections.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Webhook actions understood by the remote ledger.
const (
	ActionCheckColumn           = "checkColumn"
	ActionSubmitAttendance      = "submitAttendance"
	ActionSaveTimerRecovery     = "saveTimerRecovery"
	ActionBulkSaveTimerRecovery = "bulkSaveTimerRecovery"
	ActionDeleteTimerRecovery   = "deleteTimerRecovery"
	ActionClearTimerRecovery    = "clearTimerRecovery"
	ActionGetTimerRecovery      = "getTimerRecovery"
)

// Config tunes the resilient client. Zero fields take defaults.
type Config struct {
	WebhookURL string

	// MinSpacing is the minimum gap between outbound calls.
	MinSpacing time.Duration
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxAttempts is the normal retry budget. CriticalAttempts applies
	// when CallOpts.Critical is set (load-bearing persistence).
	// RateLimitAttempts is the separate, larger ceiling for 429 replies.
	MaxAttempts       int
	CriticalAttempts  int
	RateLimitAttempts int

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinSpacing <= 0 {
		c.MinSpacing = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CriticalAttempts <= 0 {
		c.CriticalAttempts = 5
	}
	if c.RateLimitAttempts <= 0 {
		c.RateLimitAttempts = 6
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	return c
}

// CallOpts selects per-call behavior.
type CallOpts struct {
	// Critical selects the elevated retry budget.
	Critical bool
}

// Response is the decoded ledger reply.
type Response struct {
	Status  string           `json:"status"`
	Error   string           `json:"error,omitempty"`
	Exists  bool             `json:"exists,omitempty"`
	Records []RecoveryRecord `json:"records,omitempty"`
}

// RecoveryRecord is one persisted spawn timer, used to rebuild in-memory
// timers after a restart.
type RecoveryRecord struct {
	Event          string     `json:"event"`
	NextOccurrence time.Time  `json:"nextOccurrence"`
	ReportedBy     string     `json:"reportedBy,omitempty"`
	LastReportAt   *time.Time `json:"lastReportAt,omitempty"`
}

// Submission is a finalized attendance column.
type Submission struct {
	Event     string   `json:"event"`
	Date      string   `json:"date"`
	Time      string   `json:"time"`
	Timestamp string   `json:"timestamp"`
	Members   []string `json:"members"`
}

// errRateLimited marks a 429 reply internally so the retry loop can apply
// the rate-limit budget instead of the normal one.
var errRateLimited = errors.New("rate limited")

// Client is the resilient remote ledger client.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	breaker *breaker

	mu          sync.Mutex
	nextAllowed time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep overrides backoff sleeping, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// New creates a ledger client.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, c.now)
	return c
}

// CircuitOpen reports whether the breaker is currently rejecting calls,
// for health reporting.
func (c *Client) CircuitOpen() bool {
	return c.breaker.isOpen()
}

// Call posts one action to the ledger, applying throttling, retries with
// exponential backoff plus jitter, and the circuit breaker.
func (c *Client) Call(ctx context.Context, action string, payload map[string]any, opts CallOpts) (*Response, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, action)
	}

	budget := c.cfg.MaxAttempts
	if opts.Critical {
		budget = c.cfg.CriticalAttempts
	}

	requestID := uuid.NewString()
	attempts, rateLimited := 0, 0
	var lastErr error

	for {
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		resp, retryable, err := c.post(ctx, action, requestID, payload)
		if err == nil {
			c.breaker.success()
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, errRateLimited) {
			// 429s burn the rate-limit budget, not the normal one.
			rateLimited++
			if rateLimited >= c.cfg.RateLimitAttempts {
				break
			}
		} else {
			attempts++
			if !retryable || attempts >= budget {
				break
			}
		}

		delay := c.backoff(attempts + rateLimited)
		c.logger.Warn("ledger call failed, retrying",
			"action", action, "request_id", requestID,
			"attempt", attempts+rateLimited, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.breaker.failure()
	return nil, fmt.Errorf("%w: %s: %w", ErrExhausted, action, lastErr)
}

// throttle reserves the next send slot, enforcing MinSpacing between
// outbound calls across all callers.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	now := c.now()
	wait := c.nextAllowed.Sub(now)
	if wait < 0 {
		wait = 0
	}
	c.nextAllowed = now.Add(wait + c.cfg.MinSpacing)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	return c.sleep(ctx, wait)
}

func (c *Client) post(ctx context.Context, action, requestID string, payload map[string]any) (*Response, bool, error) {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["action"] = action
	body["requestId"] = requestID

	data, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s payload: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", action, err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: %s", errRateLimited, action)
	case res.StatusCode >= 500:
		return nil, true, fmt.Errorf("%s: status %d", action, res.StatusCode)
	case res.StatusCode >= 400:
		return nil, false, fmt.Errorf("%s: status %d: %s", action, res.StatusCode, truncate(raw, 200))
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		// Some deployments answer plain text on success.
		return &Response{Status: "success"}, false, nil
	}
	if resp.Status == "error" {
		return nil, false, fmt.Errorf("%w: %s: %s", ErrRemote, action, resp.Error)
	}
	return &resp, false, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.cfg.BaseDelay << (attempt - 1)
	if d > c.cfg.MaxDelay || d <= 0 {
		d = c.cfg.MaxDelay
	}
	// Jitter in [d/2, d).
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
