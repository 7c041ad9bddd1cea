// Package pattern provides the glob matching primitives used to decide which
// rule documents apply to a path and which hooks apply to a tool name.
//
// Path patterns use the doublestar dialect: `*` matches any run of characters
// except the path separator, `**` matches zero or more whole path segments,
// and everything else is a case-sensitive literal (character classes and
// `{a,b}` alternation are accepted as well). `**/*.rs` therefore matches a
// root-level `main.rs`. Negation is not supported.
package pattern

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Separator is the path separator patterns and candidates are matched with.
const Separator = "/"

const metaChars = "*?[{\\"

// SyntaxError reports a malformed pattern. It is only ever produced at load
// time; matching itself never fails.
type SyntaxError struct {
	Pattern string
	Reason  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
}

// Validate checks that a path pattern is non-empty and well formed.
func Validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return &SyntaxError{Pattern: pattern, Reason: "pattern is empty"}
	}
	if !doublestar.ValidatePattern(pattern) {
		return &SyntaxError{Pattern: pattern, Reason: "unbalanced brackets, braces or trailing escape"}
	}
	return nil
}

// Match reports whether candidate matches pattern. Malformed patterns never
// match; callers are expected to have run Validate beforehand.
func Match(pattern, candidate string) bool {
	return doublestar.MatchUnvalidated(trimDotSlash(pattern), Normalize(candidate))
}

// MatchAny reports whether any of the patterns matches candidate.
func MatchAny(patterns []string, candidate string) bool {
	for _, p := range patterns {
		if Match(p, candidate) {
			return true
		}
	}
	return false
}

// Normalize converts a path into the slash separated, relative form patterns
// are written against.
func Normalize(path string) string {
	return trimDotSlash(filepath.ToSlash(path))
}

func trimDotSlash(s string) string {
	for strings.HasPrefix(s, "./") {
		s = s[2:]
	}
	return s
}

// SplitList splits a comma separated list of patterns. Commas inside `{...}`
// alternations and `[...]` classes, or escaped with a backslash, belong to
// the pattern. Surrounding whitespace is trimmed and blank entries are kept
// so that validation can reject them.
func SplitList(s string) []string {
	var (
		parts   []string
		braces  int
		inClass bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '{':
			braces++
		case c == '}' && braces > 0:
			braces--
		case c == ',' && braces == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// Specificity returns the number of literal (wildcard free) segments in a
// pattern. Higher is more specific.
func Specificity(pattern string) int {
	n := 0
	for _, seg := range strings.Split(pattern, Separator) {
		if seg == "" || seg == "." {
			continue
		}
		if !strings.ContainsAny(seg, metaChars) {
			n++
		}
	}
	return n
}

// BestSpecificity returns the highest specificity among the patterns that
// match candidate, or -1 when none match.
func BestSpecificity(patterns []string, candidate string) int {
	best := -1
	for _, p := range patterns {
		if !Match(p, candidate) {
			continue
		}
		if s := Specificity(p); s > best {
			best = s
		}
	}
	return best
}
