package outputfmt

import (
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var fenceLangPattern = regexp.MustCompile("```[A-Za-z0-9_+#.-]+")

// FormatReply adapts a model completion to Slack mrkdwn: code fences lose
// their language tag (Slack prints it verbatim) and bold markers go away
// because mrkdwn uses single asterisks.
func FormatReply(raw string) string {
	s := normalizeStringOutput(raw)
	s = fenceLangPattern.ReplaceAllString(s, "```")
	s = strings.ReplaceAll(s, "**", "")
	return strings.TrimSpace(s)
}

func normalizeStringOutput(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if decoded, ok := decodeJSONStringLiteral(s); ok {
		s = strings.TrimSpace(decoded)
	}

	if shouldDecodeEscapedMultiline(s) {
		s = strings.TrimSpace(decodeEscapedMultiline(s))
	}
	return s
}

// Some models wrap the whole answer in a JSON string literal.
func decodeJSONStringLiteral(s string) (string, bool) {
	if len(s) < 2 || !strings.HasPrefix(s, "\"") || !strings.HasSuffix(s, "\"") {
		return "", false
	}
	var out string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return "", false
	}
	return out, true
}

func shouldDecodeEscapedMultiline(s string) bool {
	if !strings.Contains(s, `\`) {
		return false
	}
	escaped := strings.Count(s, `\n`) + strings.Count(s, `\r`)
	if escaped >= 2 && !strings.ContainsAny(s, "\n\r") {
		return true
	}
	return escaped >= 3
}

func decodeEscapedMultiline(s string) string {
	return strings.NewReplacer(
		`\r\n`, "\n",
		`\n`, "\n",
		`\r`, "\n",
	).Replace(s)
}
