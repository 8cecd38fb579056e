// Package transport issues authenticated HTTP calls against the upstream API
// with a chosen session's credentials, applies timeouts and retries, and
// classifies failures for the session pool to react to.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"birdgate/metrics"
	"birdgate/pkg/model"
	"birdgate/session"
)

// Public web-app bearer token; upstream requires it alongside the per-session
// cookie credentials.
const defaultBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Request describes one upstream call.
type Request struct {
	Query url.Values
	Path  string
	Class session.Class
}

// Config holds transport construction options.
type Config struct {
	Logger   *slog.Logger
	BaseURL  string
	Bearer   string
	Timeout  time.Duration
	Attempts uint
	RPS      float64
	Burst    int
}

// Client issues upstream requests. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	bearer     string
	attempts   uint
}

// New creates a transport client. Zero config fields select defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.com"
	}
	if cfg.Bearer == "" {
		cfg.Bearer = defaultBearer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		logger:     cfg.Logger,
		baseURL:    cfg.BaseURL,
		bearer:     cfg.Bearer,
		attempts:   cfg.Attempts,
	}
}

// Fetch performs one upstream call with the session's credentials. Transient
// failures (network errors, 5xx, invalid JSON bodies) are retried with
// exponential backoff; 4xx responses are classified and returned immediately
// so the caller can rotate or back off the session. The returned RateMeta is
// extracted from the last response seen, success or failure, and may be nil
// when no rate-limit headers were present.
func (c *Client) Fetch(ctx context.Context, s *session.Session, req Request) ([]byte, *session.RateMeta, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body []byte
	var meta *session.RateMeta
	lastStatus := 0

	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			c.decorate(httpReq, s)

			start := time.Now()
			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				c.logger.Warn("Upstream request failed, will retry",
					"class", req.Class, "url", req.Path, "error", err)
				return fmt.Errorf("do request: %w", err)
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if m := rateMetaFromHeaders(resp.Header); m != nil {
				meta = m
			}
			lastStatus = resp.StatusCode

			c.logger.Debug("Upstream request completed",
				"class", req.Class,
				"url", req.Path,
				"session", s.Username,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())

			switch {
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(&model.SessionInvalidError{Username: s.Username, Status: resp.StatusCode})
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(&model.NotFoundError{})
			case resp.StatusCode == http.StatusTooManyRequests:
				reset := time.Time{}
				if meta != nil {
					reset = meta.Reset
				}
				return retry.Unrecoverable(&model.RateLimitedError{Reset: reset})
			case resp.StatusCode >= 500:
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return retry.Unrecoverable(&model.TransportError{
					Err:    fmt.Errorf("unexpected HTTP %d", resp.StatusCode),
					Status: resp.StatusCode,
				})
			}

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			// A 200 with an unparseable body is usually an upstream anomaly
			// (interstitial, truncation), so it goes through the retry budget
			// like a 5xx rather than failing the request outright.
			if !json.Valid(data) {
				c.logger.Warn("Upstream returned invalid JSON, will retry", "class", req.Class, "bytes", len(data))
				return &model.ParseError{Err: fmt.Errorf("invalid JSON body (%d bytes)", len(data))}
			}
			body = data
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			metrics.UpstreamRetries.WithLabelValues(string(req.Class)).Inc()
			c.logger.Info("Retrying upstream request", "class", req.Class, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(string(req.Class), classifyOutcome(err)).Inc()
		return nil, meta, classify(err, lastStatus)
	}

	metrics.UpstreamRequests.WithLabelValues(string(req.Class), "success").Inc()
	return body, meta, nil
}

// decorate attaches the bearer token and session cookie credentials the way
// the upstream web client sends them.
func (c *Client) decorate(req *http.Request, s *session.Session) {
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	req.Header.Set("Cookie", fmt.Sprintf("auth_token=%s; ct0=%s", s.AuthToken, s.CSRFToken))
	req.Header.Set("X-Csrf-Token", s.CSRFToken)
	req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	req.Header.Set("X-Twitter-Active-User", "yes")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("User-Agent", defaultUserAgent)
}

// classify maps the terminal retry error onto the package error taxonomy.
// Already-typed classification errors pass through unchanged.
func classify(err error, lastStatus int) error {
	switch {
	case model.IsSessionInvalid(err), model.IsNotFound(err), model.IsRateLimited(err), model.IsTransport(err):
		return err
	case model.IsParse(err):
		// Exhausted retries on malformed bodies; surfaces as transport
		// trouble because the upstream never produced a usable response.
		return &model.TransportError{Err: err, Status: lastStatus}
	default:
		return &model.TransportError{Err: err, Status: lastStatus}
	}
}

func classifyOutcome(err error) string {
	switch {
	case model.IsSessionInvalid(err):
		return "auth_failed"
	case model.IsNotFound(err):
		return "not_found"
	case model.IsRateLimited(err):
		return "rate_limited"
	default:
		return "error"
	}
}

// rateMetaFromHeaders extracts the upstream rate-limit headers, returning nil
// when they are absent or unparseable.
func rateMetaFromHeaders(h http.Header) *session.RateMeta {
	remStr := h.Get("x-rate-limit-remaining")
	resetStr := h.Get("x-rate-limit-reset")
	if remStr == "" || resetStr == "" {
		return nil
	}
	rem, err := strconv.Atoi(remStr)
	if err != nil {
		return nil
	}
	epoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil
	}
	return &session.RateMeta{Remaining: rem, Reset: time.Unix(epoch, 0)}
}
