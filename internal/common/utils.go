package common

import "strings"

// HasAny reports whether s contains any of subs. Used to sniff upstream
// content types and error bodies.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
