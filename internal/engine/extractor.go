package engine

import (
	"regexp"
	"sort"
	"strings"
)

// Patterns are compiled once at package level and used statelessly; Go
// regexps carry no match-position state across calls.
var (
	urlPattern        = regexp.MustCompile(`http\S+`)
	postalCodePattern = regexp.MustCompile(`[A-Za-z][0-9][A-Za-z]`)
)

// ExtractPostalCodes pulls normalized postal-code tokens out of raw post
// text. URLs are stripped first so their path segments cannot match, matches
// are uppercased and deduplicated. Returns a sorted slice for deterministic
// downstream behavior; empty when nothing matches.
func ExtractPostalCodes(text string) []string {
	cleaned := urlPattern.ReplaceAllString(text, "")

	seen := make(map[string]struct{})
	for _, match := range postalCodePattern.FindAllString(cleaned, -1) {
		seen[strings.ToUpper(match)] = struct{}{}
	}

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	return codes
}
