// Package transport performs the outbound HTTP calls prepared by the
// routing engine.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// MessagePath is the peer endpoint receiving signed envelopes.
const MessagePath = "/ocn/message"

// DefaultMaxBodyBytes bounds a downstream response body.
const DefaultMaxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned when a response body exceeds the configured
// limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Response is a completed downstream call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// =============================================================================
// Client
// =============================================================================

// Client sends OCPI requests to local platforms and envelopes to peer nodes.
type Client struct {
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	userAgent  string
	maxBody    int64
}

// Config configures the client.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	UserAgent  string
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// NewClient creates a client. Retries apply to GET requests only.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 200 * time.Millisecond
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "ocn-node"
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		backoff:    backoff,
		userAgent:  userAgent,
		maxBody:    maxBody,
	}
}

// Send issues method against url with the prepared headers and body.
// Header keys are sent exactly as given.
func (c *Client) Send(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	attempts := 1
	if method == http.MethodGet {
		attempts += c.maxRetries
	}

	var (
		resp *Response
		err  error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		resp, err = c.do(ctx, method, url, headers, body)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, err
		}
	}
	return resp, err
}

// PostEnvelope posts the signed envelope bytes to the peer node. The bytes
// are sent unmodified.
func (c *Client) PostEnvelope(ctx context.Context, peerURL string, headers http.Header, envelope []byte) (*Response, error) {
	url := strings.TrimSuffix(peerURL, "/") + MessagePath
	return c.do(ctx, http.MethodPost, url, headers, envelope)
}

func (c *Client) do(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range headers {
		req.Header[key] = append([]string(nil), values...)
	}
	if len(body) > 0 && req.Header.Get(ocpi.HeaderContentType) == "" {
		req.Header.Set(ocpi.HeaderContentType, "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(respBody)) > c.maxBody {
		return nil, fmt.Errorf("%s %s: %w (limit %d bytes)", method, url, ErrBodyTooLarge, c.maxBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// =============================================================================
// Response inspection
// =============================================================================

// IsOcpiSuccess reports whether body is an OCPI envelope with status 1000.
func IsOcpiSuccess(body []byte) bool {
	code := gjson.GetBytes(body, "status_code")
	return code.Exists() && code.Int() == ocpi.StatusSuccess
}

// Successful reports whether the HTTP status is 2xx.
func (r *Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
