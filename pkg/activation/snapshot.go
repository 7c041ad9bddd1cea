package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/activator/pkg/hooks"
	"github.com/jingkaihe/activator/pkg/rules"
)

// Sources lists where rule documents and hook definitions are read from.
// Rule directories are read before rule files, which fixes the registration
// order of the documents they contain.
type Sources struct {
	RuleDirs  []string `json:"rule_dirs,omitempty"`
	RuleFiles []string `json:"rule_files,omitempty"`
	HookFiles []string `json:"hook_files,omitempty"`
	HookDirs  []string `json:"hook_dirs,omitempty"`
}

// IsEmpty reports whether no source is configured
func (s Sources) IsEmpty() bool {
	return len(s.RuleDirs)+len(s.RuleFiles)+len(s.HookFiles)+len(s.HookDirs) == 0
}

func (s Sources) clone() Sources {
	return Sources{
		RuleDirs:  append([]string(nil), s.RuleDirs...),
		RuleFiles: append([]string(nil), s.RuleFiles...),
		HookFiles: append([]string(nil), s.HookFiles...),
		HookDirs:  append([]string(nil), s.HookDirs...),
	}
}

// LoadError reports every source that prevented a load
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load activation sources: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Errors returns the individual failures
func (e *LoadError) Errors() []error {
	if merr, ok := e.Err.(*multierror.Error); ok {
		return merr.Errors
	}
	return []error{e.Err}
}

// Snapshot is an immutable view of the loaded rules and hooks
type Snapshot struct {
	resolver   *rules.Resolver
	registry   *hooks.Registry
	dispatcher *hooks.Dispatcher
	sources    Sources
	generation uint64
	loadedAt   time.Time
}

// Rules returns copies of the loaded rule documents
func (s *Snapshot) Rules() []*rules.Document {
	return s.resolver.Documents()
}

// Hooks returns copies of the loaded hook definitions in registration order
func (s *Snapshot) Hooks() []*hooks.Definition {
	return s.registry.Definitions()
}

// Sources returns the sources the snapshot was loaded from
func (s *Snapshot) Sources() Sources {
	return s.sources.clone()
}

// Generation counts successful loads; the initial empty snapshot is 0
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// LoadedAt is when the snapshot became active
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Stats are counts describing a service and its active snapshot
type Stats struct {
	Generation       uint64    `json:"generation"`
	LoadedAt         time.Time `json:"loaded_at"`
	CommonRules      int       `json:"common_rules"`
	ScopedRules      int       `json:"scoped_rules"`
	PreToolUseHooks  int       `json:"pre_tool_use_hooks"`
	PostToolUseHooks int       `json:"post_tool_use_hooks"`
	InFlight         int64     `json:"in_flight"`
	Closed           bool      `json:"closed"`
}

func (s *Snapshot) stats() Stats {
	stats := Stats{Generation: s.generation, LoadedAt: s.loadedAt}
	for _, d := range s.resolver.Documents() {
		if d.Scope == rules.ScopeCommon {
			stats.CommonRules++
		} else {
			stats.ScopedRules++
		}
	}
	for _, h := range s.registry.Definitions() {
		if h.Event == hooks.PreToolUse {
			stats.PreToolUseHooks++
		} else {
			stats.PostToolUseHooks++
		}
	}
	return stats
}

// build reads every source and constructs a snapshot. Reading continues past
// failures so that the returned error covers all of them.
func (s *Service) build(ctx context.Context, src Sources) (*Snapshot, error) {
	var result *multierror.Error

	loader := rules.NewLoader()
	for _, dir := range src.RuleDirs {
		if err := loader.LoadDir(dir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, file := range src.RuleFiles {
		if err := loader.LoadFile(file); err != nil {
			result = multierror.Append(result, err)
		}
	}

	hookFiles := append([]string(nil), src.HookFiles...)
	if len(src.HookDirs) > 0 {
		discovery, err := hooks.NewDiscovery(hooks.WithHookDirs(src.HookDirs...))
		if err == nil {
			var found []string
			found, err = discovery.DiscoverFiles()
			hookFiles = append(hookFiles, found...)
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	var defs []*hooks.Definition
	for _, file := range hookFiles {
		loaded, err := hooks.LoadFile(file)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		defs = append(defs, loaded...)
	}

	resolver, err := rules.NewResolver(ctx, loader.Documents())
	if err != nil {
		result = multierror.Append(result, err)
	}

	var registryOpts []hooks.RegistryOption
	if s.staticValidation {
		registryOpts = append(registryOpts, hooks.WithStaticValidation())
	}
	registry := hooks.NewRegistry(registryOpts...)
	if err := registry.Register(ctx, defs); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, &LoadError{Err: err}
	}

	return &Snapshot{
		resolver:   resolver,
		registry:   registry,
		dispatcher: s.newDispatcher(registry),
		sources:    src.clone(),
		loadedAt:   time.Now(),
	}, nil
}
