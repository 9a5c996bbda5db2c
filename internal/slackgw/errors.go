package slackgw

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureRateLimited FailureKind = "rate_limited"
	FailurePermission  FailureKind = "permission"
	FailurePermanent   FailureKind = "permanent"
	FailureTransient   FailureKind = "transient"
)

// Failure is a Slack error sorted by what the caller can do about it.
type Failure struct {
	Kind       FailureKind
	Code       string
	RetryAfter time.Duration
}

func (f Failure) Retryable() bool {
	return f.Kind == FailureRateLimited || f.Kind == FailureTransient
}

var permissionCodes = map[string]bool{
	"missing_scope":          true,
	"not_in_channel":         true,
	"access_denied":          true,
	"not_allowed_token_type": true,
	"restricted_action":      true,
}

var permanentCodes = map[string]bool{
	"channel_not_found": true,
	"is_archived":       true,
	"invalid_auth":      true,
	"not_authed":        true,
	"account_inactive":  true,
	"token_revoked":     true,
	"msg_too_long":      true,
	"no_text":           true,
	"thread_not_found":  true,
	"message_not_found": true,
}

func Classify(err error) Failure {
	if err == nil {
		return Failure{}
	}
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return Failure{Kind: FailureRateLimited, Code: "ratelimited", RetryAfter: rl.RetryAfter}
	}
	if errors.Is(err, context.Canceled) {
		return Failure{Kind: FailurePermanent, Code: "canceled"}
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return classifyCode(se.Err)
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		if sc.Code == 429 {
			return Failure{Kind: FailureRateLimited, Code: "ratelimited"}
		}
		if sc.Code >= 500 {
			return Failure{Kind: FailureTransient, Code: sc.Status}
		}
		return Failure{Kind: FailurePermanent, Code: sc.Status}
	}
	return classifyCode(err.Error())
}

func classifyCode(raw string) Failure {
	code := strings.ToLower(strings.TrimSpace(raw))
	for c := range permanentCodes {
		if strings.Contains(code, c) {
			return Failure{Kind: FailurePermanent, Code: c}
		}
	}
	for c := range permissionCodes {
		if strings.Contains(code, c) {
			return Failure{Kind: FailurePermission, Code: c}
		}
	}
	if strings.Contains(code, "ratelimited") || strings.Contains(code, "rate_limited") {
		return Failure{Kind: FailureRateLimited, Code: "ratelimited"}
	}
	return Failure{Kind: FailureTransient, Code: code}
}
