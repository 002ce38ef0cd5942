package scoring

import (
	"strings"
	"unicode/utf8"
)

// Spam reasons, in the order they are checked.
const (
	ReasonDuplicate = "Duplicate reasoning detected"
	ReasonTooShort  = "Reasoning too short"
	ReasonRepeated  = "Repeated character pattern detected"
	ReasonGibberish = "Appears to be gibberish"
)

// repeatRun is the length of a run of one character that counts as spam.
const repeatRun = 11

// DetectSpam screens reasoning against the reasonings already submitted to
// the same session. The first matching rule wins.
func DetectSpam(reasoning string, previous []string) (bool, string) {
	key := strings.ToLower(strings.TrimSpace(reasoning))
	for _, p := range previous {
		if strings.ToLower(strings.TrimSpace(p)) == key {
			return true, ReasonDuplicate
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(reasoning)) < 10 {
		return true, ReasonTooShort
	}
	if hasRun(reasoning, repeatRun) {
		return true, ReasonRepeated
	}
	if isGibberish(reasoning) {
		return true, ReasonGibberish
	}
	return false, ""
}

// hasRun reports whether s contains n consecutive identical characters.
// Line breaks end a run.
func hasRun(s string, n int) bool {
	var (
		prev rune = -1
		run  int
	)
	for _, r := range s {
		if r == '\n' || r == '\r' {
			prev, run = -1, 0
			continue
		}
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

func isGibberish(s string) bool {
	n := utf8.RuneCountInString(s)
	if !strings.ContainsAny(strings.ToLower(s), "aeiou") {
		return true
	}
	if s == strings.ToUpper(s) && n > 20 {
		return true
	}
	return !strings.Contains(s, " ") && n > 30
}
