package lead

import (
	"regexp"
	"strings"
)

// Built-in extraction patterns. These are deliberately heuristic and tuned
// for English conversational transcripts; ordering matters because the first
// matching pattern wins for each field.
var (
	// emailPattern matches a standard local@domain address.
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

	// phonePattern tolerates an optional country code, parentheses, and
	// dot/dash/space separators. Digit-count validation after normalization
	// is the backstop that keeps short numeric runs (zip codes) out.
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)

	// capturedName is a single capitalized word or two consecutive
	// capitalized words.
	capturedName = `([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`

	// namePatterns are conversational cues tried in order; the first match
	// wins. The greeting pattern is a weaker fallback tried last.
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?i:my name is)\s+` + capturedName),
		regexp.MustCompile(`\b(?i:i am)\s+` + capturedName),
		regexp.MustCompile(`\b(?i:this is)\s+` + capturedName),
		regexp.MustCompile(`\b(?i:call me)\s+` + capturedName),
		regexp.MustCompile(`\b(?i:i'm called)\s+` + capturedName),
	}

	// greetingPattern catches "hi/hello/hey NAME" openers.
	greetingPattern = regexp.MustCompile(`(?i:^\s*(?:hi|hello|hey))[,!.]?\s+` + capturedName)

	// companyPatterns are tried in order; the "from X <suffix>" form only
	// fires when the trailing word marks a business entity.
	companyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i:work(?:ing)?\s+(?:at|for))\s+([A-Z][\w&.-]*(?:\s+[A-Z][\w&.-]*)*)`),
		regexp.MustCompile(`(?i:(?:my\s+|our\s+)?company\s+is)\s+([A-Z][\w&.-]*(?:\s+[A-Z][\w&.-]*)*)`),
		regexp.MustCompile(`(?i:from)\s+([A-Z][\w&.-]*(?:\s+[A-Z][\w&.-]*)*\s+(?i:inc|llc|corp|ltd|company|group|technologies|solutions)\.?)`),
	}
)

// extractEmail returns the first email address in text, or "".
// When multiple addresses are present the first wins; there is no heuristic
// for which one is "the caller's own".
func extractEmail(text string) string {
	return emailPattern.FindString(text)
}

// extractPhone returns the first normalized phone number in text, or "".
func extractPhone(text string) string {
	raw := phonePattern.FindString(text)
	if raw == "" {
		return ""
	}
	return normalizePhone(raw)
}

// extractName tries each conversational cue in order, then the greeting
// fallback. Returns "" when nothing matches.
func extractName(text string) string {
	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	if m := greetingPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// extractCompany tries each company cue in order. Returns "" when nothing
// matches.
func extractCompany(text string) string {
	for _, p := range companyPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return strings.TrimRight(m[1], ".")
		}
	}
	return ""
}

// normalizePhone strips all non-digit characters except a leading plus sign,
// then canonicalizes North American numbers: an 11-digit number starting
// with "1" gets a single leading "+", an exactly-10-digit number gets "+1"
// prepended, and anything else passes through digits-only.
func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	digits := strings.TrimPrefix(cleaned, "+")

	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	default:
		return digits
	}
}

// digitCount returns the number of decimal digits in s.
func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
