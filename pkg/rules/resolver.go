package rules

import (
	"context"
	"sort"

	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/pattern"
)

// Resolver answers which documents apply to a path. It is immutable and safe
// for concurrent use.
type Resolver struct {
	common []*Document
	scoped []*Document
}

// NewResolver validates docs and builds a resolver over private copies of
// them. When two documents share an ID the later one wins and takes over the
// registration order of the first, unless it declares its own order.
func NewResolver(ctx context.Context, docs []*Document) (*Resolver, error) {
	if err := ValidateAll(docs); err != nil {
		return nil, err
	}

	byID := make(map[string]int, len(docs))
	ordered := make([]*Document, 0, len(docs))
	for _, d := range docs {
		c := d.clone()
		if idx, ok := byID[c.ID]; ok {
			logger.G(ctx).WithFields(map[string]interface{}{
				"rule":     c.ID,
				"previous": ordered[idx].Source,
				"source":   c.Source,
			}).Warn("duplicate rule id, last definition wins")
			if !c.fixedOrder {
				c.Order = ordered[idx].Order
			}
			ordered[idx] = c
			continue
		}
		byID[c.ID] = len(ordered)
		ordered = append(ordered, c)
	}

	r := &Resolver{}
	for _, d := range ordered {
		if d.Scope == ScopeCommon {
			r.common = append(r.common, d)
		} else {
			r.scoped = append(r.scoped, d)
		}
	}
	sort.SliceStable(r.common, func(i, j int) bool { return r.common[i].Order < r.common[j].Order })
	sort.SliceStable(r.scoped, func(i, j int) bool { return r.scoped[i].Order < r.scoped[j].Order })

	return r, nil
}

// Resolve returns the documents applicable to path: every common document in
// registration order, followed by the matching scoped documents, most
// specific first and ties by registration order. Unmatched paths yield only
// the common documents.
func (r *Resolver) Resolve(path string) []*Document {
	if r == nil {
		return nil
	}

	result := make([]*Document, 0, len(r.common))
	for _, d := range r.common {
		result = append(result, d.clone())
	}

	type match struct {
		doc         *Document
		specificity int
	}
	var matches []match
	for _, d := range r.scoped {
		if s := pattern.BestSpecificity(d.Patterns, path); s >= 0 {
			matches = append(matches, match{doc: d, specificity: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].specificity != matches[j].specificity {
			return matches[i].specificity > matches[j].specificity
		}
		return matches[i].doc.Order < matches[j].doc.Order
	})
	for _, m := range matches {
		result = append(result, m.doc.clone())
	}

	return result
}

// Payloads returns the payloads of Resolve(path) in the same order
func (r *Resolver) Payloads(path string) []string {
	docs := r.Resolve(path)
	payloads := make([]string, 0, len(docs))
	for _, d := range docs {
		payloads = append(payloads, d.Payload)
	}
	return payloads
}

// Documents returns copies of every registered document, common first
func (r *Resolver) Documents() []*Document {
	if r == nil {
		return nil
	}
	docs := make([]*Document, 0, len(r.common)+len(r.scoped))
	for _, d := range r.common {
		docs = append(docs, d.clone())
	}
	for _, d := range r.scoped {
		docs = append(docs, d.clone())
	}
	return docs
}

// Len returns the number of registered documents
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.common) + len(r.scoped)
}
