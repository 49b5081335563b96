package resume

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/resmoai/resmo-auth"
	"github.com/sony/gobreaker/v2"
)

const (
	OptimizePath = "/optimize-resume"
	CreatePath   = "/create-resume"

	defaultHTTPTimeout = 2 * time.Minute
	maxErrorBody       = 64 << 10
)

// BreakerSettings tunes the circuit breaker in front of the backend.
type BreakerSettings struct {
	Enabled          bool
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	FailureThreshold float64
}

// DefaultBreakerSettings trips after five requests with at least 60%
// failures and retries after 30 seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.6,
	}
}

// ClientOption customizes Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBreakerSettings overrides the circuit breaker settings.
func WithBreakerSettings(s BreakerSettings) ClientOption {
	return func(cl *Client) {
		cl.breakerSettings = s
	}
}

// WithClientLogger overrides the client logger.
func WithClientLogger(logger auth.Logger) ClientOption {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// Client calls the resume backend over HTTP.
type Client struct {
	baseURL         string
	http            *http.Client
	logger          auth.Logger
	breakerSettings BreakerSettings
	breaker         *gobreaker.CircuitBreaker[[]byte]
}

var _ Backend = (*Client)(nil)

// NewClient creates a backend client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            &http.Client{Timeout: defaultHTTPTimeout},
		logger:          auth.DefaultLogger(),
		breakerSettings: DefaultBreakerSettings(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.breaker = newBreaker(c.breakerSettings, c.logger)
	return c
}

func newBreaker(cfg BreakerSettings, logger auth.Logger) *gobreaker.CircuitBreaker[[]byte] {
	if !cfg.Enabled {
		return nil
	}

	settings := gobreaker.Settings{
		Name:        "resume-backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s changed from %s to %s", name, from.String(), to.String())
		},
		// rejected requests are the caller's fault, not the backend's
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var respErr *responseError
			if errors.As(err, &respErr) {
				return respErr.status < http.StatusInternalServerError
			}
			return false
		},
	}

	return gobreaker.NewCircuitBreaker[[]byte](settings)
}

// BreakerState reports the circuit breaker state, "disabled" when off.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

type rpcRequest struct {
	IDToken string  `json:"id_token"`
	Prompt  string  `json:"prompt"`
	FileURL *string `json:"file_url"`
}

// Optimize implements Backend.
func (c *Client) Optimize(ctx context.Context, idToken, prompt, fileURL string) (*OptimizeResult, error) {
	body, err := c.call(ctx, OptimizePath, rpcRequest{
		IDToken: idToken,
		Prompt:  prompt,
		FileURL: &fileURL,
	})
	if err != nil {
		return nil, err
	}

	var result OptimizeResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "invalid optimize response").
			WithTextCode(TextCodeBackendError).
			WithCode(http.StatusBadGateway)
	}
	return &result, nil
}

// Create implements Backend. An empty fileURL is sent as null.
func (c *Client) Create(ctx context.Context, idToken, prompt, fileURL string) (*CreateResult, error) {
	req := rpcRequest{IDToken: idToken, Prompt: prompt}
	if fileURL != "" {
		req.FileURL = &fileURL
	}

	body, err := c.call(ctx, CreatePath, req)
	if err != nil {
		return nil, err
	}

	var result CreateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "invalid create response").
			WithTextCode(TextCodeBackendError).
			WithCode(http.StatusBadGateway)
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, endpoint string, payload rpcRequest) ([]byte, error) {
	fn := func() ([]byte, error) {
		return c.post(ctx, endpoint, payload)
	}

	var (
		body []byte
		err  error
	)
	if c.breaker == nil {
		body, err = fn()
	} else {
		body, err = c.breaker.Execute(fn)
	}
	if err == nil {
		return body, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("rejecting %s call: %v", endpoint, err)
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "resume backend unavailable").
			WithTextCode(TextCodeBackendUnavailable).
			WithCode(http.StatusServiceUnavailable)
	}

	var respErr *responseError
	if errors.As(err, &respErr) {
		// the response text is the message shown to the user
		message := respErr.body
		if message == "" {
			message = http.StatusText(respErr.status)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, message).
			WithTextCode(TextCodeBackendError).
			WithCode(http.StatusBadGateway).
			WithMetadata(map[string]any{
				"endpoint": endpoint,
				"status":   respErr.status,
			})
	}

	return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "resume backend request failed").
		WithTextCode(TextCodeBackendError).
		WithCode(http.StatusBadGateway).
		WithMetadata(map[string]any{"endpoint": endpoint})
}

func (c *Client) post(ctx context.Context, endpoint string, payload rpcRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &responseError{status: resp.StatusCode, body: strings.TrimSpace(string(text))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

type responseError struct {
	status int
	body   string
}

func (e *responseError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("backend responded %d", e.status)
	}
	return fmt.Sprintf("backend responded %d: %s", e.status, e.body)
}
