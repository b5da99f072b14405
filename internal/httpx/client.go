package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const userAgent = "dispatch/1.0 (+https://github.com/thinkscotty/dispatch)"

// ErrBuildRequest marks a request that could not be constructed. Retrying it
// cannot help.
var ErrBuildRequest = errors.New("build request")

// Response is a fully read HTTP response. Bodies are buffered so a response
// can be handed back after the retry policy gave up on it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RetryConfig configures the retry policy applied to every call.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ShouldRetry decides whether a result triggers another attempt.
	ShouldRetry func(resp *Response, err error) bool
}

// DefaultRetryConfig mirrors a 3-retry exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		ShouldRetry: ShouldRetry,
	}
}

// ShouldRetry retries transport errors, rate limits and gateway-style 5xx.
// Every other status, including other 4xx, is returned to the caller as is.
func ShouldRetry(resp *Response, err error) bool {
	if err != nil {
		return !errors.Is(err, ErrBuildRequest)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func normalize(cfg RetryConfig) RetryConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = ShouldRetry
	}
	return cfg
}

// Client performs outbound requests with a bounded retry policy. It is built
// once and passed to every component that talks to the network.
type Client struct {
	httpClient *http.Client
	executor   failsafe.Executor[*Response]
}

// New creates a Client. A nil httpClient gets a plain client; per-call
// timeouts are applied through the request context.
func New(httpClient *http.Client, cfg RetryConfig) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg = normalize(cfg)

	policy := retrypolicy.NewBuilder[*Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(cfg.ShouldRetry).
		OnRetry(func(e failsafe.ExecutionEvent[*Response]) {
			attrs := []any{"attempt", e.Attempts()}
			if r := e.LastResult(); r != nil {
				attrs = append(attrs, "status", r.StatusCode)
			}
			if err := e.LastError(); err != nil {
				attrs = append(attrs, "error", err)
			}
			slog.Debug("Retrying request", attrs...)
		}).
		Build()

	return &Client{
		httpClient: httpClient,
		executor:   failsafe.With[*Response](policy),
	}
}

// RequestBuilder creates a fresh request for one attempt. It is invoked once
// per attempt so request bodies never need rewinding.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Do executes the request built by build, retrying per the client's policy.
// timeout bounds the whole call, retries and backoff included. When the
// policy gives up on a retryable status the last response is returned without
// error so callers can report it.
func (c *Client) Do(ctx context.Context, timeout time.Duration, build RequestBuilder) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := c.executor.WithContext(ctx).Get(func() (*Response, error) {
		return c.attempt(ctx, build)
	})
	if resp != nil {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no response")
}

func (c *Client) attempt(ctx context.Context, build RequestBuilder) (*Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildRequest, stripURL(err))
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, stripURL(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// stripURL reduces a *url.Error to its operation, scheme and host. Paths and
// query strings carry API keys, bot tokens and webhook secrets.
func stripURL(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	where := "request"
	if u, perr := url.Parse(ue.URL); perr == nil && u.Host != "" {
		where = u.Scheme + "://" + u.Host
	}
	return fmt.Errorf("%s %s: %w", ue.Op, where, ue.Err)
}
