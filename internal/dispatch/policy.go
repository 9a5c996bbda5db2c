package dispatch

import (
	"time"

	"github.com/quailyquaily/livia/internal/slackgw"
)

// RetryPolicy governs re-posting the final reply.
type RetryPolicy struct {
	MaxAttempts int
	// RateLimitBaseDelay doubles with every rate-limited attempt.
	RateLimitBaseDelay time.Duration
	// RetryStep grows linearly with every other retryable failure.
	RetryStep time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:        3,
	RateLimitBaseDelay: time.Second,
	RetryStep:          time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.RateLimitBaseDelay <= 0 {
		p.RateLimitBaseDelay = DefaultRetryPolicy.RateLimitBaseDelay
	}
	if p.RetryStep <= 0 {
		p.RetryStep = DefaultRetryPolicy.RetryStep
	}
	return p
}

// Delay is the wait before the attempt that follows a failed attempt
// (1-based).
func (p RetryPolicy) Delay(f slackgw.Failure, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if f.Kind == slackgw.FailureRateLimited {
		d := p.RateLimitBaseDelay << (attempt - 1)
		if f.RetryAfter > d {
			d = f.RetryAfter
		}
		return d
	}
	return p.RetryStep * time.Duration(attempt)
}
