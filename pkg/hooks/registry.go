package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/pattern"
	"github.com/pkg/errors"
)

// ValidationError reports a hook definition that cannot be registered
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
	return fmt.Sprintf("hook %s: %v", where, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Registry holds validated hook definitions. It is safe for concurrent use;
// lookups return copies so callers never observe later registrations.
type Registry struct {
	mu               sync.RWMutex
	hooks            map[string]*Definition
	next             int
	staticValidation bool
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithStaticValidation makes Register resolve every hook's executable on
// PATH instead of deferring that check to execution time.
func WithStaticValidation() RegistryOption {
	return func(r *Registry) {
		r.staticValidation = true
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{hooks: make(map[string]*Definition)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and adds definitions. If any definition is invalid
// nothing is registered and every failure is returned. Re-registering an
// existing ID replaces the definition but keeps its registration order; within
// one batch the last definition for an ID wins.
func (r *Registry) Register(ctx context.Context, defs []*Definition) error {
	var result *multierror.Error
	validated := make([]*Definition, 0, len(defs))
	for _, d := range defs {
		c := d.clone()
		if err := r.validate(c); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		validated = append(validated, c)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]string, len(validated))
	for _, d := range validated {
		if prevSource, ok := seen[d.ID]; ok {
			logger.G(ctx).WithFields(map[string]interface{}{
				"hook":     d.ID,
				"previous": prevSource,
				"source":   d.Source,
			}).Warn("duplicate hook id, last definition wins")
		}
		seen[d.ID] = d.Source

		if existing, ok := r.hooks[d.ID]; ok {
			d.Order = existing.Order
		} else {
			d.Order = r.next
			r.next++
		}
		r.hooks[d.ID] = d
	}

	return nil
}

// Reset forgets a hook so that a later registration of the same ID gets a
// fresh registration order. It reports whether the ID was registered.
func (r *Registry) Reset(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.hooks[id]
	delete(r.hooks, id)
	return ok
}

// HooksFor returns the hooks bound to event whose matcher accepts toolName,
// ordered by registration order.
func (r *Registry) HooksFor(event Event, toolName string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Definition
	for _, d := range r.hooks {
		if d.Event == event && d.Matches(toolName) {
			matched = append(matched, d.clone())
		}
	}
	sortByOrder(matched)
	return matched
}

// HasHooks reports whether any hook is bound to event
func (r *Registry) HasHooks(event Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.hooks {
		if d.Event == event {
			return true
		}
	}
	return false
}

// Definitions returns copies of every registered hook in registration order
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.hooks))
	for _, d := range r.hooks {
		defs = append(defs, d.clone())
	}
	sortByOrder(defs)
	return defs
}

// Len returns the number of registered hooks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

func (r *Registry) validate(d *Definition) error {
	fail := func(err error) error {
		return &ValidationError{ID: d.ID, Source: d.Source, Err: err}
	}

	if strings.TrimSpace(d.ID) == "" {
		return fail(errors.New("id is required"))
	}
	if _, err := ParseEvent(string(d.Event)); err != nil {
		return fail(err)
	}
	if d.Timeout <= 0 {
		return fail(errors.Errorf("timeout must be positive, got %s", d.Timeout))
	}
	if len(d.Command) == 0 || strings.TrimSpace(d.Command[0]) == "" {
		return fail(errors.New("command is required"))
	}

	m, err := pattern.CompileTool(d.ToolMatcher)
	if err != nil {
		return fail(err)
	}
	d.matcher = m

	if r.staticValidation {
		if _, err := exec.LookPath(d.Command[0]); err != nil {
			return fail(errors.Wrapf(err, "command %q is not executable", d.Command[0]))
		}
	}

	return nil
}

func sortByOrder(defs []*Definition) {
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Order < defs[j].Order })
}
