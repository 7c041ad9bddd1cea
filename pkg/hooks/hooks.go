// Package hooks runs external commands bound to tool-use events. Hook
// definitions are registered once from configuration; every tool-use event is
// then dispatched to the hooks whose tool matcher accepts the tool name, in
// registration order, and PreToolUse hooks marked as blocking can deny the
// pending action.
package hooks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jingkaihe/activator/pkg/pattern"
	"github.com/pkg/errors"
)

// Event is the tool-use lifecycle event a hook is bound to
type Event string

// Event constants define the lifecycle events that can be hooked
const (
	PreToolUse  Event = "PreToolUse"
	PostToolUse Event = "PostToolUse"
)

// ParseEvent converts a string into a known Event
func ParseEvent(s string) (Event, error) {
	switch Event(s) {
	case PreToolUse, PostToolUse:
		return Event(s), nil
	default:
		return "", errors.Errorf("unknown hook event %q (expected %s or %s)", s, PreToolUse, PostToolUse)
	}
}

// DefaultTimeout is the execution timeout for hooks that do not declare one
const DefaultTimeout = 60 * time.Second

// Definition is a validated hook bound to an event and a tool matcher
type Definition struct {
	ID          string        // Unique identifier
	Event       Event         // PreToolUse or PostToolUse
	ToolMatcher string        // Tool name glob, alternatives separated by `|`
	Command     []string      // argv; Command[0] is the executable
	Blocking    bool          // Deny the tool call when this hook fails (PreToolUse only)
	Timeout     time.Duration // Always positive once registered
	Order       int           // Registration order
	Source      string        // Configuration file the hook came from, if any

	matcher *pattern.ToolMatcher
}

// IsBlocking reports whether a failure of this hook denies the tool call.
// PostToolUse hooks never block since the action already happened.
func (d *Definition) IsBlocking() bool {
	return d.Blocking && d.Event == PreToolUse
}

// Matches reports whether the hook applies to toolName
func (d *Definition) Matches(toolName string) bool {
	return d.matcher.Match(toolName)
}

func (d *Definition) clone() *Definition {
	c := *d
	c.Command = append([]string(nil), d.Command...)
	return &c
}

// Status is the terminal state of one hook execution
type Status string

// Status constants
const (
	StatusSucceeded      Status = "succeeded"
	StatusFailedNonZero  Status = "failed_non_zero"
	StatusFailedTimeout  Status = "failed_timeout"
	StatusFailedNotFound Status = "failed_not_found"
)

// Outcome records how a single hook execution ended
type Outcome struct {
	HookID    string        `json:"hook_id"`
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Cancelled bool          `json:"cancelled,omitempty"` // Timed out because the dispatch was cancelled, not the hook's own deadline
	Duration  time.Duration `json:"-"`
	Timeout   time.Duration `json:"-"`
	Stderr    string        `json:"stderr,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// MarshalJSON renders the duration in milliseconds
func (o Outcome) MarshalJSON() ([]byte, error) {
	type outcome Outcome
	return json.Marshal(struct {
		outcome
		DurationMs int64 `json:"duration_ms"`
	}{outcome(o), o.Duration.Milliseconds()})
}

// Succeeded reports whether the hook exited cleanly
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Describe returns a short human readable description of a failed outcome,
// e.g. "lint failed (exit 1)".
func (o Outcome) Describe() string {
	switch o.Status {
	case StatusSucceeded:
		return fmt.Sprintf("%s succeeded", o.HookID)
	case StatusFailedNonZero:
		return fmt.Sprintf("%s failed (exit %d)", o.HookID, o.ExitCode)
	case StatusFailedTimeout:
		if o.Cancelled {
			return fmt.Sprintf("%s failed (cancelled)", o.HookID)
		}
		return fmt.Sprintf("%s failed (timeout after %s)", o.HookID, o.Timeout)
	case StatusFailedNotFound:
		return fmt.Sprintf("%s failed (command not found)", o.HookID)
	default:
		return fmt.Sprintf("%s failed (%s)", o.HookID, o.Status)
	}
}

// Decision is the result of dispatching one tool-use event
type Decision struct {
	Allow    bool      `json:"allow"`
	Reason   string    `json:"reason,omitempty"`
	Outcomes []Outcome `json:"outcomes"`
}

// Context is the string payload describing the tool-use event, handed to
// every hook on stdin.
type Context map[string]string
