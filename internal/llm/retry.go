package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jkaninda/msaidizi/internal/domain"
)

const retryBudget = 20 * time.Second

// RetryProvider wraps a provider with exponential-backoff retries.
// Rate-limit and upstream failures are retried; everything else is
// returned immediately.
type RetryProvider struct {
	inner      Provider
	maxRetries int
	logger     *slog.Logger
}

// NewRetryProvider wraps a provider. maxRetries <= 0 disables retrying.
func NewRetryProvider(inner Provider, maxRetries int, logger *slog.Logger) *RetryProvider {
	return &RetryProvider{inner: inner, maxRetries: maxRetries, logger: logger}
}

func (r *RetryProvider) Name() string { return r.inner.Name() }

func (r *RetryProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if r.maxRetries <= 0 {
		return r.inner.Complete(ctx, req)
	}

	attempt := func() (*Response, error) {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		switch domain.KindOf(err) {
		case domain.KindRateLimited, domain.KindUpstream, domain.KindTimeout:
			r.logger.WarnContext(ctx, "llm call failed, retrying",
				slog.String("provider", r.inner.Name()),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	resp, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(r.maxRetries)+1),
		backoff.WithMaxElapsedTime(retryBudget),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		return nil, err
	}
	return resp, nil
}
