// Package httpjson provides the shared GET-JSON client used for every
// third-party API the bot talks to. All failures come back as envelopes
// from the errors package, so callers never classify HTTP errors
// themselves.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/logger"
	"github.com/veebot/veebot/pkg/metrics"
)

const (
	// UserAgent identifies the bot to the APIs it calls.
	UserAgent = "Veebot"

	// DefaultTimeout bounds connection establishment and the whole request
	// independently.
	DefaultTimeout = 30 * time.Second
)

// Config configures the GET-JSON client
type Config struct {
	// Timeout for connecting and for the whole request (default: 30s)
	Timeout time.Duration

	// Logger (defaults to the global logger)
	Logger *logger.Logger
}

// Client issues GET requests that expect JSON responses. A single client is
// shared across the bot and is safe for concurrent use.
type Client struct {
	http   *http.Client
	logger *logger.Logger
}

// NewClient creates a new GET-JSON client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Global().WithComponent("httpjson")
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.Timeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.Timeout,
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: log,
	}
}

// GetJSON issues a GET request to rawURL with the given query parameters
// and decodes the response body into T.
//
// The request is attempted exactly once. Failures map onto the taxonomy:
//   - the request never produced a response: SendRequest
//   - 4xx or 5xx status: GetRequest with the status and the response body
//     (or a substitute message when the body cannot be read; the status is
//     never lost)
//   - success status with a body that does not decode into T:
//     UnexpectedJsonShape
//
// Cancelling ctx abandons the in-flight request and surfaces as
// SendRequest.
func GetJSON[T any](ctx context.Context, c *Client, rawURL string, query url.Values) (T, error) {
	var zero T
	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		metrics.RecordHTTPRequest(metrics.OutcomeSendError, time.Since(started))
		return zero, errors.New(errors.SendRequest{Cause: err})
	}

	if len(query) > 0 {
		q := req.URL.Query()
		for name, values := range query {
			for _, value := range values {
				q.Add(name, value)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("User-Agent", UserAgent)

	c.logger.Debug("sending GET request", "url", logger.RedactURL(req.URL.String()))

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordHTTPRequest(metrics.OutcomeSendError, time.Since(started))
		return zero, errors.New(errors.SendRequest{Cause: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body := readErrorBody(resp.Body)
		metrics.RecordHTTPRequest(metrics.OutcomeStatusError, time.Since(started))
		return zero, errors.New(errors.GetRequest{Status: resp.StatusCode, Body: body})
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordHTTPRequest(metrics.OutcomeDecodeError, time.Since(started))
		return zero, errors.New(errors.UnexpectedJsonShape{Cause: err})
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		metrics.RecordHTTPRequest(metrics.OutcomeDecodeError, time.Since(started))
		return zero, errors.New(errors.UnexpectedJsonShape{Cause: err})
	}

	metrics.RecordHTTPRequest(metrics.OutcomeSuccess, time.Since(started))
	return out, nil
}

// readErrorBody collects the body of a failed response for the GetRequest
// payload. The status code matters more than the body, so a read failure
// is substituted, not propagated.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Sprintf("Could not collect the GET request body: %v", err)
	}
	return string(raw)
}

// URLBase returns a builder that appends path segments to a fixed base
// URL, escaping each segment. The base must parse; builders are created at
// package init where a malformed base is a programming error.
func URLBase(base string) func(segments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		panic(fmt.Sprintf("httpjson: invalid base url %q: %v", base, err))
	}
	return func(segments ...string) string {
		return u.JoinPath(segments...).String()
	}
}
