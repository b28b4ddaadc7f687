package httpclient

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"payments-gateway/internal/correlation"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/metrics"
	"payments-gateway/internal/redact"
)

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

type Config struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Backoff    string
	Redact     bool
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Target labels logs and metrics, for example "momo:MTN" or "zra".
	Target string
}

type Response struct {
	StatusCode    int
	Header        http.Header
	Body          []byte
	CorrelationID string
	Attempts      int
}

// Executor sends requests with a per-attempt timeout and retries transient failures.
type Executor struct {
	client Doer
	cfg    Config
	logger *slog.Logger
}

func NewExecutor(cfg Config, client Doer, logger *slog.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{client: client, cfg: cfg, logger: logger}
}

func (e *Executor) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if e.cfg.Backoff == BackoffFixed {
		b = backoff.NewConstantBackOff(e.cfg.RetryDelay)
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = e.cfg.RetryDelay
		exp.MaxElapsedTime = 0
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries)), ctx)
}

// Do sends req. Network failures and 5xx responses are retried; 4xx responses
// are mapped to typed errors and returned at once, together with the response
// so callers can read the remote error body.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, correlationID := correlation.Ensure(ctx)
	start := time.Now()
	attempts := 0

	var resp *Response
	operation := func() error {
		attempts++
		r, err := e.attempt(ctx, req, correlationID, attempts)
		if err != nil {
			return err
		}
		resp = r
		if appErr := classify(r); appErr != nil {
			if appErr.Retryable() {
				return appErr
			}
			return backoff.Permanent(appErr)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Warn("Retrying provider request",
			"target", req.Target,
			"url", req.URL,
			"attempt", attempts,
			"wait", wait,
			"correlation_id", correlationID,
			"error", err)
	}

	err := backoff.RetryNotify(operation, e.backOff(ctx), notify)
	metrics.ProviderLatency.WithLabelValues(req.Target).Observe(time.Since(start).Seconds())

	if err != nil {
		appErr := errors.AsAppError(err)
		if appErr.Code == errors.InternalError {
			appErr = errors.Wrap(errors.NetworkError, "request was cancelled", err)
		}
		if appErr.Code == errors.NetworkError && attempts > 1 {
			appErr = errors.Wrap(errors.NetworkError,
				fmt.Sprintf("request failed after %d attempts", attempts), err).WithStatusCode(appErr.StatusCode)
		}
		metrics.ProviderRequests.WithLabelValues(req.Target, string(appErr.Code)).Inc()
		if appErr.Code == errors.NetworkError || resp == nil {
			return nil, appErr
		}
		resp.CorrelationID = correlationID
		resp.Attempts = attempts
		return resp, appErr
	}

	metrics.ProviderRequests.WithLabelValues(req.Target, "success").Inc()
	resp.CorrelationID = correlationID
	resp.Attempts = attempts
	return resp, nil
}

func (e *Executor) attempt(ctx context.Context, req Request, correlationID string, attempt int) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrap(errors.ValidationError, "invalid outbound request", err))
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(correlation.Header, correlationID)

	e.logger.Info("Provider request",
		"target", req.Target,
		"method", req.Method,
		"url", req.URL,
		"attempt", attempt,
		"correlation_id", correlationID,
		"headers", e.headers(httpReq.Header),
		"body", e.body(req.Body))

	started := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("Provider request failed",
			"target", req.Target,
			"url", req.URL,
			"attempt", attempt,
			"duration", time.Since(started),
			"correlation_id", correlationID,
			"error", err)
		if ctx.Err() != nil {
			return nil, backoff.Permanent(errors.Wrap(errors.NetworkError, "request was cancelled", ctx.Err()))
		}
		return nil, errors.Wrap(errors.NetworkError, "provider unreachable", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.NetworkError, "failed to read provider response", err)
	}

	e.logger.Info("Provider response",
		"target", req.Target,
		"url", req.URL,
		"status", httpResp.StatusCode,
		"attempt", attempt,
		"duration", time.Since(started),
		"correlation_id", correlationID,
		"body", e.body(respBody))

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func (e *Executor) body(b []byte) string {
	if e.cfg.Redact {
		return string(redact.JSON(b))
	}
	return string(b)
}

func (e *Executor) headers(h http.Header) http.Header {
	if e.cfg.Redact {
		return redact.Headers(h)
	}
	return h
}

// classify maps a non-2xx response to an AppError.
func classify(r *Response) *errors.AppError {
	switch {
	case r.StatusCode < 400:
		return nil
	case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
		return errors.NewAppError(errors.AuthenticationError, "provider rejected the credentials").
			WithDetails(remoteMessage(r.Body)).WithStatusCode(r.StatusCode)
	case r.StatusCode == http.StatusTooManyRequests:
		return errors.NewAppError(errors.RateLimitError, "provider rate limit reached").
			WithRetryAfter(ParseRetryAfter(r.Header.Get("Retry-After"), time.Now())).
			WithStatusCode(r.StatusCode)
	case r.StatusCode >= 500:
		return errors.NewAppErrorf(errors.NetworkError, "provider returned %d", r.StatusCode).
			WithDetails(remoteMessage(r.Body)).WithStatusCode(r.StatusCode)
	default:
		return errors.NewAppErrorf(errors.ProviderRejectionError, "provider rejected the request with %d", r.StatusCode).
			WithDetails(remoteMessage(r.Body)).WithStatusCode(r.StatusCode)
	}
}

// ParseRetryAfter accepts delta seconds or an HTTP date. Unknown values give zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func remoteMessage(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// IsRetryable reports whether err came from a transient failure.
func IsRetryable(err error) bool {
	var appErr *errors.AppError
	return stderrors.As(err, &appErr) && appErr.Retryable()
}
