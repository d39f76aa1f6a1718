package redaction

import (
	"regexp"
	"strings"

	"speech-audit-pipeline/internal/models"
)

var (
	// 13-19 digits, single space or dash between any two digits
	creditCardPattern = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)

	// US formats: 555-123-4567, (555) 123 4567, +1 555.123.4567, 5551234567
	phonePattern = regexp.MustCompile(`(?:\+?\b1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`)

	// Email pattern - RFC 5322 simplified
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

	cardGroupSplit = regexp.MustCompile(`[ -]`)
)

// patternMatch is a regex hit in normalized coordinates.
type patternMatch struct {
	kind       models.PIIKind
	start, end int
}

// detectPatterns runs the regex detectors over already-normalized text.
func detectPatterns(text string, requireLuhn bool) []patternMatch {
	var out []patternMatch

	for _, m := range creditCardPattern.FindAllStringIndex(text, -1) {
		if end, ok := validCardPrefix(text[m[0]:m[1]], requireLuhn); ok {
			out = append(out, patternMatch{kind: models.PIICreditCard, start: m[0], end: m[0] + end})
		}
	}
	for _, m := range phonePattern.FindAllStringIndex(text, -1) {
		out = append(out, patternMatch{kind: models.PIIPhone, start: m[0], end: m[1]})
	}
	for _, m := range emailPattern.FindAllStringIndex(text, -1) {
		out = append(out, patternMatch{kind: models.PIIEmail, start: m[0], end: m[1]})
	}
	return out
}

// validCardPrefix returns the byte length of the longest leading run of
// separator groups that forms a plausible card number. The greedy pattern
// can swallow trailing digits spoken after the card.
func validCardPrefix(candidate string, requireLuhn bool) (int, bool) {
	groups := cardGroupSplit.Split(candidate, -1)
	for k := len(groups); k >= 1; k-- {
		prefix := groups[:k]
		digits := strings.Join(prefix, "")
		if !validCardNumber(digits, requireLuhn) || !validGrouping(prefix) {
			continue
		}
		// digits plus one separator byte between groups
		return len(digits) + k - 1, true
	}
	return 0, false
}

// validCardNumber checks length and issuer prefix, and optionally Luhn.
func validCardNumber(digits string, requireLuhn bool) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	if !knownIssuer(digits) {
		return false
	}
	return !requireLuhn || luhnCheck(digits)
}

// knownIssuer matches the leading digits against major card networks.
func knownIssuer(d string) bool {
	p2 := atoi(d[:2])
	p4 := atoi(d[:4])
	switch {
	case d[0] == '4': // Visa
		return true
	case p2 >= 51 && p2 <= 55, p4 >= 2221 && p4 <= 2720: // MasterCard
		return true
	case p2 == 34 || p2 == 37: // American Express
		return true
	case p4 == 6011, p2 == 65, atoi(d[:3]) >= 644 && atoi(d[:3]) <= 649: // Discover
		return true
	case p2 == 35: // JCB
		return true
	case p2 == 36 || p2 == 38 || (p2 == 30 && d[2] <= '5'): // Diners Club
		return true
	case p2 == 62: // UnionPay
		return true
	}
	return false
}

// validGrouping accepts no separators, 4-digit groups with a 1, 3 or 4
// digit tail, or the Amex/Diners 4-6-5 and 4-6-4 layouts.
func validGrouping(groups []string) bool {
	if len(groups) == 1 {
		return true
	}
	if len(groups) == 3 && len(groups[0]) == 4 && len(groups[1]) == 6 &&
		(len(groups[2]) == 5 || len(groups[2]) == 4) {
		return true
	}
	for i, g := range groups {
		last := i == len(groups)-1
		if (!last && len(g) != 4) || (last && len(g) != 4 && len(g) != 3 && len(g) != 1) {
			return false
		}
	}
	return true
}

// luhnCheck validates a digit string using the Luhn algorithm.
func luhnCheck(digits string) bool {
	sum := 0
	isSecond := false

	// Traverse from right to left
	for i := len(digits) - 1; i >= 0; i-- {
		digit := int(digits[i] - '0')
		if isSecond {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		isSecond = !isSecond
	}
	return sum%10 == 0
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
