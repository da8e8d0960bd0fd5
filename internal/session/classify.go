package session

import (
	"strings"
	"unicode"
)

// affirmatives is the allow-list of confirmations for a pending lookup. A turn
// is affirmative only when its normalized text equals one of these exactly.
var affirmatives = map[string]struct{}{
	"y": {}, "yes": {}, "yeah": {}, "yea": {}, "yep": {}, "yup": {},
	"sure": {}, "ok": {}, "okay": {}, "k": {}, "please": {},
	"yes please": {}, "sure thing": {}, "please do": {}, "go ahead": {},
	"do it": {}, "look it up": {}, "go for it": {}, "of course": {},
	"absolutely": {}, "definitely": {}, "ok please": {}, "okay please": {},
	"sure please": {}, "yes look it up": {}, "yes please look it up": {},
}

// Normalize trims, lowercases and strips trailing punctuation.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return strings.Join(strings.Fields(s), " ")
}

// IsAffirmative reports whether text confirms a pending lookup.
func IsAffirmative(text string) bool {
	_, ok := affirmatives[Normalize(text)]
	return ok
}
