package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
	sleeper  func(time.Duration)
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 5, base: time.Second, max: 10 * time.Second}
}

func (p retryPolicy) maxAttempts() int {
	return max(p.attempts, 1)
}

// next reports whether err is worth another attempt and how long to wait.
// Rate limits, server errors, timeouts and empty answers retry; everything
// else, including cancellation, returns immediately.
func (p retryPolicy) next(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxAttempts() || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var empty *emptyAnswerError
	if errors.As(err, &empty) {
		return p.backoff(attempt), true
	}
	var status *statusError
	if errors.As(err, &status) {
		if status.code != http.StatusRequestTimeout && status.code != http.StatusTooManyRequests && status.code < http.StatusInternalServerError {
			return 0, false
		}
		if status.retryAfter > 0 {
			return p.clamp(status.retryAfter), true
		}
		return p.backoff(attempt), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return p.backoff(attempt), true
	}
	return 0, false
}

// backoff doubles from base for each failed attempt.
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	delay := p.base
	for i := 1; i < attempt && delay < p.max; i++ {
		delay *= 2
	}
	return p.clamp(delay)
}

func (p retryPolicy) clamp(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.max > 0 && delay > p.max {
		return p.max
	}
	return delay
}

func (p retryPolicy) wait(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	if p.sleeper != nil {
		p.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
