package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bond-screener/internal/bonds"
)

const (
	defaultISSBaseURL  = "https://iss.moex.com/iss"
	defaultSiteBaseURL = "https://www.moex.com"
	defaultUserAgent   = "Mozilla/5.0"
	maxErrorBody       = 256
)

// Options parameterise the exchange client.
type Options struct {
	ISSBaseURL        string
	SiteBaseURL       string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
}

// Client talks to the ISS JSON API and the exchange web site.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	issURL  string
	siteURL string
}

// NewClient constructs an exchange client. A non-positive rate disables pacing.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	issURL := strings.TrimRight(opts.ISSBaseURL, "/")
	if issURL == "" {
		issURL = defaultISSBaseURL
	}
	siteURL := strings.TrimRight(opts.SiteBaseURL, "/")
	if siteURL == "" {
		siteURL = defaultSiteBaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "moex_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		issURL:  issURL,
		siteURL: siteURL,
	}
}

// get performs a paced GET and returns the body of a 200 response.
// Transport and status failures wrap bonds.ErrOriginUnavailable.
func (c *Client) get(ctx context.Context, endpoint, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bonds.ErrOriginUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", bonds.ErrOriginUnavailable, err)
	}

	c.logger.Debug().
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("origin request finished")

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	payload, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", bonds.ErrMalformedPayload, err)
	}
	return nil
}

func parseHTTPError(status int, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	if body != "" {
		return fmt.Errorf("%w: moex error (%d): %s", bonds.ErrOriginUnavailable, status, body)
	}
	return fmt.Errorf("%w: moex error (%d)", bonds.ErrOriginUnavailable, status)
}
