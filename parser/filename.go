package parser

import (
	"regexp"
	"strings"
)

var (
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// SanitizeName makes s safe for use in a filename: characters outside
// [A-Za-z0-9_-] become underscores, runs collapse, edges are trimmed and the
// result is cut to max bytes. An empty result becomes "unnamed".
func SanitizeName(s string, max int) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = underscoreRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if max > 0 && len(s) > max {
		s = strings.TrimRight(s[:max], "_")
	}
	if s == "" {
		return "unnamed"
	}
	return s
}
