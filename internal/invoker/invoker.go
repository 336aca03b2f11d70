// Package invoker issues outbound HTTP requests for http actions and
// integration adapters: timeout, retry with full jitter, content-type
// negotiation and response parsing for the templating pipeline.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jkaninda/msaidizi/internal/domain"
)

var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s).
	ErrInvalidURL = errors.New("invalid url")
	// ErrResponseParse is returned when a JSON response body cannot be parsed.
	ErrResponseParse = errors.New("response parse error")
)

const (
	defaultTimeout  = 10 * time.Second
	maxTimeout      = 60 * time.Second
	maxBackoffTotal = 30 * time.Second
	perHostConns    = 32
)

// Request describes one outbound HTTP call.
type Request struct {
	Method         string
	URL            string
	Headers        map[string]string
	Params         map[string]string // Query parameters (GET) .
	Body           map[string]any    // Request body (POST/PUT/DELETE).
	ContentType    string            // application/json (default) or application/x-www-form-urlencoded.
	Timeout        time.Duration     // Zero = 10 s; capped at 60 s.
	Retry          domain.RetryPolicy
	IdempotencyKey string
}

// Result is the parsed response handed to the templating pipeline.
type Result struct {
	Status  int
	Headers http.Header
	JSON    any    // Set when the response Content-Type contains application/json.
	Text    string // Raw body otherwise.
	Latency time.Duration
}

// TemplateData returns the response value bound to ${RESPONSE}.
func (r *Result) TemplateData() any {
	if r.JSON != nil {
		return r.JSON
	}
	return r.Text
}

// Invoker performs outbound HTTP with a shared per-host connection pool.
type Invoker struct {
	client *http.Client
	logger *slog.Logger
}

// New creates an Invoker with a pooled transport.
func New(logger *slog.Logger) *Invoker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = perHostConns
	transport.MaxIdleConnsPerHost = perHostConns
	return &Invoker{
		client: &http.Client{Transport: transport},
		logger: logger,
	}
}

// NewWithClient creates an Invoker over a caller-supplied client (tests).
func NewWithClient(client *http.Client, logger *slog.Logger) *Invoker {
	return &Invoker{client: client, logger: logger}
}

// Do validates, sends and parses one request, retrying per policy.
func (i *Invoker) Do(ctx context.Context, req *Request) (*Result, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, domain.Wrap(domain.KindValidation, ErrInvalidURL, "url %q must be absolute http(s)", req.URL)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	attempt := func() (*Result, error) {
		res, err := i.send(ctx, req, timeout)
		if err != nil {
			if retryable(req.Retry, err, 0) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if res.Status >= 500 && retryable(req.Retry, nil, res.Status) {
			// Carries the upstream kind so exhausted retries still map to 502.
			return nil, domain.E(domain.KindFromStatus(res.Status), "upstream status %d", res.Status)
		}
		return res, nil
	}

	if req.Retry.Max <= 0 {
		res, err := i.send(ctx, req, timeout)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	interval := time.Duration(req.Retry.BackoffMS) * time.Millisecond
	if interval == 0 {
		interval = 500 * time.Millisecond
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.RandomizationFactor = 1 // Full jitter.

	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(req.Retry.Max)+1),
		backoff.WithMaxElapsedTime(maxBackoffTotal),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		return nil, err
	}
	return res, nil
}

// send performs a single request/response cycle.
func (i *Invoker) send(ctx context.Context, req *Request, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := i.build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := i.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.Wrap(domain.KindTimeout, err, "request to %s timed out", req.URL)
		}
		return nil, domain.Wrap(domain.KindUpstream, err, "request to %s failed", req.URL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, domain.Wrap(domain.KindUpstream, err, "reading response from %s", req.URL)
	}
	latency := time.Since(start)

	result := &Result{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Latency: latency,
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, &result.JSON); err != nil {
			return nil, domain.Wrap(domain.KindUpstream, ErrResponseParse, "invalid JSON from %s", req.URL)
		}
	} else {
		result.Text = string(body)
	}

	i.logger.DebugContext(ctx, "http invocation completed",
		slog.String("method", req.Method),
		slog.String("url", req.URL),
		slog.Int("status", result.Status),
		slog.Duration("latency", latency),
	)
	return result, nil
}

func (i *Invoker) build(ctx context.Context, req *Request) (*http.Request, error) {
	target := req.URL
	if len(req.Params) > 0 {
		q := url.Values{}
		for k, v := range req.Params {
			q.Set(k, v)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + q.Encode()
	}

	var body io.Reader
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	if req.Method != http.MethodGet && len(req.Body) > 0 {
		switch contentType {
		case "application/x-www-form-urlencoded":
			form := url.Values{}
			for k, v := range req.Body {
				form.Set(k, fmt.Sprintf("%v", v))
			}
			body = strings.NewReader(form.Encode())
		default:
			b, err := json.Marshal(req.Body)
			if err != nil {
				return nil, fmt.Errorf("marshaling request body: %w", err)
			}
			body = bytes.NewReader(b)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)
	}
	return httpReq, nil
}

// retryable reports whether the failure class is enabled in the policy.
func retryable(policy domain.RetryPolicy, err error, status int) bool {
	for _, on := range policy.RetryOn {
		switch on {
		case domain.Retry5xx:
			if status >= 500 {
				return true
			}
		case domain.RetryTimeout:
			if err != nil {
				var netErr net.Error
				if domain.KindOf(err) == domain.KindTimeout || (errors.As(err, &netErr) && netErr.Timeout()) {
					return true
				}
			}
		case domain.RetryConnection:
			if err != nil && domain.KindOf(err) == domain.KindUpstream {
				return true
			}
		}
	}
	return false
}
