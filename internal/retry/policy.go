// Package retry wraps outbound HTTP calls to external collaborators with an
// exponential backoff policy.
package retry

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const DefaultMaxRetries = 3

// DefaultRetriableStatus are the response codes worth retrying
var DefaultRetriableStatus = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Policy retries transport failures and retriable status codes.
// The delay before retry k (1-based) is BaseDelay * 2^(k-1).
type Policy struct {
	BaseDelay       time.Duration
	MaxRetries      int
	RetriableStatus []int
	logger          *zap.Logger
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error
}

// NewPolicy returns a policy with the default retriable set.
// A negative maxRetries falls back to DefaultMaxRetries.
func NewPolicy(baseDelay time.Duration, maxRetries int, logger *zap.Logger) *Policy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		BaseDelay:       baseDelay,
		MaxRetries:      maxRetries,
		RetriableStatus: DefaultRetriableStatus,
		logger:          logger.Named("retry"),
		now:             time.Now,
		sleep:           sleepContext,
	}
}

// Delay returns the wait before the given retry attempt (1-based)
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt-1))
}

// ShouldRetry reports whether a response or transport error is retriable
func (p *Policy) ShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	for _, code := range p.RetriableStatus {
		if resp.StatusCode == code {
			return true
		}
	}
	return false
}

// Do invokes call until it succeeds, returns a non-retriable response, or the
// retry ceiling is reached. target identifies the collaborator in logs.
func (p *Policy) Do(ctx context.Context, target string, call func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	attempt := 0
	for {
		resp, err := call(ctx)
		if !p.ShouldRetry(resp, err) || attempt >= p.MaxRetries {
			return resp, err
		}
		if ctx.Err() != nil {
			if resp != nil {
				drain(resp)
			}
			return nil, ctx.Err()
		}

		attempt++
		delay := p.Delay(attempt)
		fields := []zap.Field{
			zap.Time("at", p.now().UTC()),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.MaxRetries),
			zap.String("target", target),
			zap.Duration("delay", delay),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.Int("status", resp.StatusCode))
			drain(resp)
		}
		p.logger.Warn("retrying external call", fields...)

		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
