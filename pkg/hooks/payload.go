package hooks

// Payload is written as JSON to every hook's stdin
type Payload struct {
	Event      Event   `json:"event"`
	ToolName   string  `json:"tool_name"`
	HookID     string  `json:"hook_id"`
	DispatchID string  `json:"dispatch_id"`
	CWD        string  `json:"cwd"`
	Context    Context `json:"context"`
}

// Environment variables set for every hook process
const (
	EnvEvent      = "ACTIVATOR_EVENT"
	EnvToolName   = "ACTIVATOR_TOOL_NAME"
	EnvHookID     = "ACTIVATOR_HOOK_ID"
	EnvDispatchID = "ACTIVATOR_DISPATCH_ID"
)
