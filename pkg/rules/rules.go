// Package rules decides which rule documents apply to a file being edited.
// Documents are either common (always apply) or scoped to a set of path
// patterns; the resolver orders them so that general guidance comes first and
// the most specific guidance last.
package rules

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/activator/pkg/pattern"
	"github.com/pkg/errors"
)

// Scope describes when a rule document applies
type Scope string

// Scope constants
const (
	ScopeCommon Scope = "common"
	ScopeScoped Scope = "scoped"
)

// Document is a single rule document. It is immutable once handed to a Resolver.
type Document struct {
	ID       string   // Unique identifier, defaults to the relative file path
	Scope    Scope    // Common or Scoped
	Patterns []string // Path patterns, only set for scoped documents
	Payload  string   // Opaque document body
	Order    int      // Registration order, or the `order` frontmatter value
	Source   string   // File the document was loaded from, if any

	fixedOrder bool
}

// ValidationError reports a document that cannot be registered
type ValidationError struct {
	ID     string
	Source string
	Err    error
}

func (e *ValidationError) Error() string {
	where := e.ID
	if e.Source != "" {
		where = fmt.Sprintf("%s (%s)", e.ID, e.Source)
	}
	return fmt.Sprintf("rule %s: %v", where, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks the scope/pattern invariants of a document
func (d *Document) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return &ValidationError{ID: d.ID, Source: d.Source, Err: errors.Errorf(format, args...)}
	}

	if strings.TrimSpace(d.ID) == "" {
		return fail("id is required")
	}

	switch d.Scope {
	case ScopeCommon:
		if len(d.Patterns) > 0 {
			return fail("common documents cannot declare patterns")
		}
	case ScopeScoped:
		if len(d.Patterns) == 0 {
			return fail("scoped documents need at least one pattern")
		}
		for _, p := range d.Patterns {
			if err := pattern.Validate(p); err != nil {
				return &ValidationError{ID: d.ID, Source: d.Source, Err: err}
			}
		}
	default:
		return fail("unknown scope %q", d.Scope)
	}

	return nil
}

// ValidateAll validates every document and returns all failures at once
func ValidateAll(docs []*Document) error {
	var result *multierror.Error
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (d *Document) clone() *Document {
	c := *d
	c.Patterns = append([]string(nil), d.Patterns...)
	return &c
}
