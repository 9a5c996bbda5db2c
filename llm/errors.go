package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
)

// rateLimitStatus matches a 429 that is labelled as a status code, not any
// digit run that happens to contain it.
var rateLimitStatus = regexp.MustCompile(`\b(?:status|http|code)[ :=_]*429\b`)

// ErrorKind groups completion failures by how the caller should answer them.
type ErrorKind string

const (
	KindInternal  ErrorKind = "internal"
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	KindQuota     ErrorKind = "quota"
)

type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = e.Provider + " " + prefix
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewError(kind ErrorKind, provider string, err error) error {
	if kind == "" {
		kind = KindInternal
	}
	return &Error{Kind: kind, Provider: strings.TrimSpace(provider), Err: err}
}

// KindOf reports the category of err. Typed errors win; otherwise the
// message text is inspected the way provider SDKs tend to phrase it.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) && le.Kind != "" {
		return le.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return kindFromMessage(err.Error())
}

func kindFromMessage(msg string) ErrorKind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "insufficient_quota"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"):
		return KindQuota
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		rateLimitStatus.MatchString(msg):
		return KindRateLimit
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	default:
		return KindInternal
	}
}
