package hooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(id string, event Event, matcher string, command ...string) *Definition {
	return &Definition{
		ID:          id,
		Event:       event,
		ToolMatcher: matcher,
		Command:     command,
		Timeout:     5 * time.Second,
	}
}

func hookIDs(defs []*Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID)
	}
	return out
}

func TestEvent_Constants(t *testing.T) {
	assert.Equal(t, Event("PreToolUse"), PreToolUse)
	assert.Equal(t, Event("PostToolUse"), PostToolUse)

	e, err := ParseEvent("PostToolUse")
	require.NoError(t, err)
	assert.Equal(t, PostToolUse, e)

	_, err = ParseEvent("Stop")
	assert.Error(t, err)
}

func TestDefinition_IsBlocking(t *testing.T) {
	pre := def("a", PreToolUse, "Write", "true")
	pre.Blocking = true
	assert.True(t, pre.IsBlocking())

	post := def("b", PostToolUse, "Write", "true")
	post.Blocking = true
	assert.False(t, post.IsBlocking(), "PostToolUse hooks never block")
}

func TestOutcome_Describe(t *testing.T) {
	assert.Equal(t, "H1 failed (exit 1)", Outcome{HookID: "H1", Status: StatusFailedNonZero, ExitCode: 1}.Describe())
	assert.Equal(t, "H1 failed (timeout after 100ms)", Outcome{HookID: "H1", Status: StatusFailedTimeout, Timeout: 100 * time.Millisecond}.Describe())
	assert.Equal(t, "H1 failed (cancelled)", Outcome{HookID: "H1", Status: StatusFailedTimeout, Cancelled: true}.Describe())
	assert.Equal(t, "H1 failed (command not found)", Outcome{HookID: "H1", Status: StatusFailedNotFound}.Describe())
	assert.Equal(t, "H1 succeeded", Outcome{HookID: "H1", Status: StatusSucceeded}.Describe())
}

func TestOutcome_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Outcome{HookID: "fmt", Status: StatusSucceeded, Duration: 1500 * time.Millisecond})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "fmt", decoded["hook_id"])
	assert.Equal(t, "succeeded", decoded["status"])
	assert.Equal(t, float64(1500), decoded["duration_ms"])
}

func TestRegistry_HooksForFiltersAndOrders(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(context.Background(), []*Definition{
		def("fmt", PostToolUse, "Edit|Write", "true"),
		def("guard", PreToolUse, "Bash", "true"),
		def("lint", PostToolUse, "Write", "true"),
		def("audit", PostToolUse, "*", "true"),
	}))

	assert.Equal(t, []string{"fmt", "lint", "audit"}, hookIDs(r.HooksFor(PostToolUse, "Write")))
	assert.Equal(t, []string{"fmt", "audit"}, hookIDs(r.HooksFor(PostToolUse, "Edit")))
	assert.Equal(t, []string{"guard"}, hookIDs(r.HooksFor(PreToolUse, "Bash")))
	assert.Empty(t, r.HooksFor(PreToolUse, "Write"))
	assert.True(t, r.HasHooks(PreToolUse))
	assert.Equal(t, 4, r.Len())
}

func TestRegistry_ReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, []*Definition{
		def("a", PostToolUse, "Write", "true"),
		def("b", PostToolUse, "Write", "true"),
	}))

	replacement := def("a", PostToolUse, "Write", "false")
	require.NoError(t, r.Register(ctx, []*Definition{replacement}))

	hooks := r.HooksFor(PostToolUse, "Write")
	assert.Equal(t, []string{"a", "b"}, hookIDs(hooks))
	assert.Equal(t, []string{"false"}, hooks[0].Command)

	// Reset gives the next registration a fresh order.
	assert.True(t, r.Reset("a"))
	assert.False(t, r.Reset("missing"))
	require.NoError(t, r.Register(ctx, []*Definition{def("a", PostToolUse, "Write", "true")}))
	assert.Equal(t, []string{"b", "a"}, hookIDs(r.HooksFor(PostToolUse, "Write")))
}

func TestRegistry_DuplicateInBatchLastWins(t *testing.T) {
	r := NewRegistry()
	first := def("dup", PreToolUse, "Write", "first")
	second := def("dup", PreToolUse, "Write", "second")
	require.NoError(t, r.Register(context.Background(), []*Definition{first, second}))

	hooks := r.Definitions()
	require.Len(t, hooks, 1)
	assert.Equal(t, []string{"second"}, hooks[0].Command)
}

func TestRegistry_RejectsWholeBatch(t *testing.T) {
	r := NewRegistry()
	zeroTimeout := def("zero-timeout", PreToolUse, "Write", "true")
	zeroTimeout.Timeout = 0

	err := r.Register(context.Background(), []*Definition{
		def("ok", PreToolUse, "Write", "true"),
		zeroTimeout,
		def("bad-matcher", PreToolUse, "[unclosed", "true"),
		def("no-command", PreToolUse, "Write"),
		def("bad-event", Event("Stop"), "Write", "true"),
		def("", PreToolUse, "Write", "true"),
	})
	require.Error(t, err)
	for _, want := range []string{"zero-timeout", "bad-matcher", "no-command", "bad-event", "id is required"} {
		assert.Contains(t, err.Error(), want)
	}
	assert.Equal(t, 0, r.Len(), "nothing from a rejected batch is registered")
}

func TestRegistry_StaticValidation(t *testing.T) {
	r := NewRegistry(WithStaticValidation())
	err := r.Register(context.Background(), []*Definition{
		def("missing", PreToolUse, "Write", "definitely-not-a-real-binary-12345"),
	})
	require.Error(t, err)

	require.NoError(t, r.Register(context.Background(), []*Definition{def("sh", PreToolUse, "Write", "sh", "-c", "true")}))

	// Without static validation the missing command is accepted at load time.
	lazy := NewRegistry()
	require.NoError(t, lazy.Register(context.Background(), []*Definition{
		def("missing", PreToolUse, "Write", "definitely-not-a-real-binary-12345"),
	}))
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(context.Background(), []*Definition{def("a", PreToolUse, "Write", "true")}))

	hooks := r.HooksFor(PreToolUse, "Write")
	hooks[0].Command[0] = "mutated"

	assert.Equal(t, []string{"true"}, r.HooksFor(PreToolUse, "Write")[0].Command)
}

func TestDiscovery_WithDefaultDirs(t *testing.T) {
	discovery, err := NewDiscovery(WithDefaultDirs())
	require.NoError(t, err)
	assert.Len(t, discovery.Dirs(), 2)
	assert.Equal(t, "./.activator/hooks", discovery.Dirs()[0])
}

func TestDiscovery_DiscoverFilesPrecedence(t *testing.T) {
	local := t.TempDir()
	global := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(local, "b.yaml"), []byte("hooks: []"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(local, "sub.yaml"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(global, "b.yaml"), []byte("hooks: []"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(global, "c.yml"), []byte("hooks: []"), 0o644))

	discovery, err := NewDiscovery(WithHookDirs(local, global, "/non-existent-dir-12345"))
	require.NoError(t, err)

	files, err := discovery.DiscoverFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(local, "a.json"),
		filepath.Join(local, "b.yaml"),
		filepath.Join(global, "c.yml"),
	}, files)
}
