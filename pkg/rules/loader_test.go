package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRule(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_CommonWithoutFrontmatter(t *testing.T) {
	doc, err := Parse("common/style", "style.md", []byte("# Coding Style\n\nKeep functions small.\n"))
	require.NoError(t, err)

	assert.Equal(t, "common/style", doc.ID)
	assert.Equal(t, ScopeCommon, doc.Scope)
	assert.Empty(t, doc.Patterns)
	assert.Equal(t, "# Coding Style\n\nKeep functions small.\n", doc.Payload)
}

func TestParse_ScopedWithPathList(t *testing.T) {
	content := `---
paths:
  - "**/*.rs"
  - "**/Cargo.toml"
---

# Rust

Prefer iterators.
`
	doc, err := Parse("rust/style", "rust.md", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, ScopeScoped, doc.Scope)
	assert.Equal(t, []string{"**/*.rs", "**/Cargo.toml"}, doc.Patterns)
	assert.Equal(t, "# Rust\n\nPrefer iterators.\n", doc.Payload)
}

func TestParse_CommaSeparatedGlobsAndName(t *testing.T) {
	content := `---
name: typescript
description: TypeScript conventions
globs: "**/*.ts, **/*.tsx"
---
Use strict mode.
`
	doc, err := Parse("ts", "ts.md", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "typescript", doc.ID)
	assert.Equal(t, []string{"**/*.ts", "**/*.tsx"}, doc.Patterns)
	assert.Equal(t, "Use strict mode.\n", doc.Payload)
}

func TestParse_CommaSeparatedGlobsKeepBraceAlternation(t *testing.T) {
	doc, err := Parse("ts", "ts.md", []byte("---\nglobs: \"**/*.{ts,tsx}, web/{a,b}/*.css\"\n---\nbody"))
	require.NoError(t, err)
	assert.Equal(t, []string{"**/*.{ts,tsx}", "web/{a,b}/*.css"}, doc.Patterns)

	r, err := NewResolver(context.Background(), []*Document{doc})
	require.NoError(t, err)
	assert.Len(t, r.Resolve("src/app.tsx"), 1)
	assert.Len(t, r.Resolve("web/b/site.css"), 1)
}

func TestParse_FrontmatterWithoutPathsIsCommon(t *testing.T) {
	content := `---
description: Applies everywhere
---
Be kind.
`
	doc, err := Parse("kind", "kind.md", []byte(content))
	require.NoError(t, err)
	assert.Equal(t, ScopeCommon, doc.Scope)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unclosed bracket", "---\npaths:\n  - \"[unclosed\"\n---\nbody\n"},
		{"empty paths", "---\npaths: []\n---\nbody\n"},
		{"blank pattern", "---\npaths:\n  - \"\"\n---\nbody\n"},
		{"null paths", "---\npaths:\n---\nbody\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad", "bad.md", []byte(tt.content))
			require.Error(t, err)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
			assert.Equal(t, "bad.md", vErr.Source)
		})
	}
}

func TestLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "common/coding-style.md", "Small functions.\n")
	writeRule(t, dir, "common/testing.md", "Write tests.\n")
	writeRule(t, dir, "rust/coding-style.md", "---\npaths:\n  - \"**/*.rs\"\n---\nUse clippy.\n")
	writeRule(t, dir, "README.txt", "ignored")
	writeRule(t, dir, ".hidden/skip.md", "ignored")

	loader := NewLoader()
	require.NoError(t, loader.LoadDir(dir))

	docs := loader.Documents()
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"common/coding-style", "common/testing", "rust/coding-style"}, ids(docs))
	for i, d := range docs {
		assert.Equal(t, i, d.Order)
	}

	r, err := NewResolver(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"Small functions.\n", "Write tests.\n", "Use clippy.\n"},
		r.Payloads("src/main.rs"))
	assert.Equal(t, []string{"Small functions.\n", "Write tests.\n"}, r.Payloads("main.py"))
}

func TestLoader_LoadDirReportsEveryBadFile(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "good.md", "ok\n")
	writeRule(t, dir, "a-bad.md", "---\npaths:\n  - \"[unclosed\"\n---\nx\n")
	writeRule(t, dir, "b-bad.md", "---\npaths: []\n---\nx\n")

	loader := NewLoader()
	err := loader.LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a-bad.md")
	assert.Contains(t, err.Error(), "b-bad.md")
	assert.Empty(t, loader.Documents())
}

func TestLoader_OrderSpansSources(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.md", "a\n")
	single := writeRule(t, t.TempDir(), "extra.md", "---\npaths:\n  - \"**/*.go\"\n---\nextra\n")

	loader := NewLoader()
	require.NoError(t, loader.LoadDir(dir))
	require.NoError(t, loader.LoadFile(single))
	loader.Add(&Document{ID: "inline", Scope: ScopeCommon, Payload: "inline"})

	docs := loader.Documents()
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"a", "extra", "inline"}, ids(docs))
	assert.Equal(t, []int{0, 1, 2}, []int{docs[0].Order, docs[1].Order, docs[2].Order})
}

func TestLoader_FrontmatterOrderOverridesRegistration(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.md", "a\n")
	writeRule(t, dir, "b.md", "b\n")
	writeRule(t, dir, "c.md", "---\norder: -1\n---\nc\n")
	writeRule(t, dir, "go/api.md", "---\npaths: \"**/*.go\"\n---\napi\n")
	writeRule(t, dir, "go/style.md", "---\npaths: \"**/*.go\"\norder: -1\n---\nstyle\n")

	loader := NewLoader()
	require.NoError(t, loader.LoadDir(dir))

	docs := loader.Documents()
	require.Len(t, docs, 5)
	assert.Equal(t, []int{0, 1, -1, 3, -1}, []int{docs[0].Order, docs[1].Order, docs[2].Order, docs[3].Order, docs[4].Order})

	r, err := NewResolver(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, []string{"c\n", "a\n", "b\n", "style\n", "api\n"}, r.Payloads("main.go"))
}

func TestNewResolver_DuplicateWithExplicitOrder(t *testing.T) {
	first := &Document{ID: "style", Scope: ScopeCommon, Payload: "old", Order: 0}
	other := &Document{ID: "other", Scope: ScopeCommon, Payload: "other", Order: 1}
	replacement, err := Parse("style", "style.md", []byte("---\norder: 5\n---\nnew"))
	require.NoError(t, err)

	r, err := NewResolver(context.Background(), []*Document{first, other, replacement})
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "new"}, r.Payloads("x.txt"))
}

func TestLoader_MissingDir(t *testing.T) {
	err := NewLoader().LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
