// Package gitlab talks to the GitLab GraphQL API: it executes paged queries
// with bounded retry, walks cursor-paginated connections, and decodes the
// entity nodes the mirror stores locally.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/squiddy/gitlab-to-sqlite/internal/metrics"
)

const (
	// DefaultMaxAttempts is the total number of attempts per request
	// (one initial try plus four immediate retries).
	DefaultMaxAttempts = 5

	// DefaultTimeout bounds a single round trip.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB).
	MaxResponseSize = 10 * 1024 * 1024
)

// Config holds client configuration.
type Config struct {
	// Host is the service host, e.g. "gitlab.com". A value containing "://"
	// is used as the base URL verbatim.
	Host string
	// Token is the personal access token sent as a bearer token.
	Token string
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	// Timeout defaults to DefaultTimeout. Ignored when HTTPClient is set.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// DecodeFunc receives the "data" member of a successful response.
//
// An *Error returned from it is propagated with its own classification; any
// other error marks the response as malformed, which is retried.
type DecodeFunc func(data json.RawMessage) error

// Executor performs one query round trip with retry.
type Executor interface {
	Execute(ctx context.Context, q Query, vars map[string]any, decode DecodeFunc) error
}

// Client is a GraphQL client for one service and token. Build one per sync
// invocation and pass it to the paginator and the syncer.
type Client struct {
	endpoint    string
	baseURL     string
	token       string
	maxAttempts int
	http        *http.Client
	logger      *log.Logger
}

// NewClient creates a client.
//
// If logger is nil, a default logger writing to stderr is used.
// A missing token is an auth failure and is reported before any request.
func NewClient(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, NewError(KindAuth, "create client", ErrMissingToken)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[gitlab] ", log.LstdFlags)
	}

	base := cfg.Host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint:    base + "/api/graphql",
		baseURL:     base,
		token:       cfg.Token,
		maxAttempts: attempts,
		http:        httpClient,
		logger:      logger,
	}, nil
}

// BaseURL returns the scheme and host the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Execute runs q with vars and passes the response data to decode.
//
// Transient failures are retried immediately, with no backoff, until
// MaxAttempts round trips have been made; the last failure is returned.
// Every other failure is returned on first occurrence.
func (c *Client) Execute(ctx context.Context, q Query, vars map[string]any, decode DecodeFunc) error {
	op := "query " + q.Name

	var last *Error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		err := c.roundTrip(ctx, q, vars, decode)
		metrics.QueryDuration.WithLabelValues(q.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.QueriesTotal.WithLabelValues(q.Name, "ok").Inc()
			return nil
		}

		if !errors.As(err, &last) {
			// Cancellation and other unclassified errors are never retried.
			metrics.QueriesTotal.WithLabelValues(q.Name, "error").Inc()
			return fmt.Errorf("%s: %w", op, err)
		}
		last.Op = op
		last.Attempts = attempt
		metrics.QueriesTotal.WithLabelValues(q.Name, string(last.Kind)).Inc()

		if !last.IsRetryable() {
			return last
		}
		if attempt < c.maxAttempts {
			metrics.QueryRetries.WithLabelValues(q.Name).Inc()
			c.logger.Printf("Retrying %s (attempt %d/%d): %v", q.Name, attempt+1, c.maxAttempts, last.Err)
		}
	}

	return last
}

type graphQLRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// roundTrip performs a single request and classifies its failure.
func (c *Client) roundTrip(ctx context.Context, q Query, vars map[string]any, decode DecodeFunc) error {
	payload, err := json.Marshal(graphQLRequest{OperationName: q.Name, Query: q.Text, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return NewError(KindTransient, "", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return NewError(KindTransient, "", fmt.Errorf("failed to read response body: %w", err))
	}
	if len(body) > MaxResponseSize {
		return NewError(KindTransient, "", fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(KindAuth, "", fmt.Errorf("HTTP %d", resp.StatusCode))
	case IsRetryableStatus(resp.StatusCode):
		return NewError(KindTransient, "", fmt.Errorf("HTTP %d", resp.StatusCode))
	case !IsSuccessStatus(resp.StatusCode):
		return NewError(KindQuery, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var out graphQLResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return NewError(KindTransient, "", fmt.Errorf("malformed response: %w", err))
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return NewError(KindQuery, "", errors.New(strings.Join(msgs, "; ")))
	}
	if len(out.Data) == 0 || string(out.Data) == "null" {
		return NewError(KindTransient, "", errors.New("incomplete response: no data"))
	}

	if decode == nil {
		return nil
	}
	if err := decode(out.Data); err != nil {
		var classified *Error
		if errors.As(err, &classified) {
			return classified
		}
		return NewError(KindTransient, "", fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// IsSuccessStatus returns true if the status code indicates success
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// IsRetryableStatus returns true if the status code indicates a retryable error
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
