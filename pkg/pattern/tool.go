package pattern

import (
	"strings"

	"github.com/gobwas/glob"
)

// ToolMatcher matches tool names such as "Write" or "mcp__github__create_issue".
// The source string may hold several alternatives separated by `|`.
type ToolMatcher struct {
	raw   string
	any   bool
	globs []glob.Glob
}

// CompileTool compiles a tool matcher. An empty matcher or "*" matches every
// tool name.
func CompileTool(pattern string) (*ToolMatcher, error) {
	m := &ToolMatcher{raw: pattern}

	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" || trimmed == "*" {
		m.any = true
		return m, nil
	}

	for _, alt := range strings.Split(trimmed, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return nil, &SyntaxError{Pattern: pattern, Reason: "empty alternative"}
		}
		g, err := glob.Compile(alt, '/')
		if err != nil {
			return nil, &SyntaxError{Pattern: pattern, Reason: err.Error()}
		}
		m.globs = append(m.globs, g)
	}

	return m, nil
}

// Match reports whether toolName matches any alternative.
func (m *ToolMatcher) Match(toolName string) bool {
	if m == nil {
		return false
	}
	if m.any {
		return true
	}
	for _, g := range m.globs {
		if g.Match(toolName) {
			return true
		}
	}
	return false
}

// String returns the matcher source.
func (m *ToolMatcher) String() string {
	return m.raw
}
