package inbound

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

// MentionsUser reports whether text carries a <@userID> token.
func MentionsUser(text, userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 && m[1] == userID {
			return true
		}
	}
	return false
}

// StripMention removes every <@userID> token and trims the result.
func StripMention(text, userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return strings.TrimSpace(text)
	}
	out := mentionPattern.ReplaceAllStringFunc(text, func(tok string) string {
		m := mentionPattern.FindStringSubmatch(tok)
		if len(m) > 1 && m[1] == userID {
			return ""
		}
		return tok
	})
	return strings.TrimSpace(out)
}
