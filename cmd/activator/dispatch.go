package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jingkaihe/activator/pkg/hooks"
	"github.com/jingkaihe/activator/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// exitDenied is the exit status for a denied PreToolUse event
const exitDenied = 2

// DispatchConfig holds configuration for the dispatch command
type DispatchConfig struct {
	Event     string
	Tool      string
	Context   []string
	ReadStdin bool
	Output    string
}

// Validate validates the DispatchConfig and returns an error if invalid
func (c *DispatchConfig) Validate() error {
	if _, err := hooks.ParseEvent(c.Event); err != nil {
		return err
	}
	if c.Tool == "" {
		return errors.New("tool name cannot be empty")
	}
	if c.Output != "json" && c.Output != "text" {
		return errors.Errorf("invalid output format: %s, must be one of: json, text", c.Output)
	}
	return nil
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the hooks bound to a tool-use event",
	Long: `Dispatch runs every hook bound to the event whose tool matcher accepts the
tool name, one after another in registration order, and prints the decision.

The event context is given as repeated --ctx key=value pairs and, with --stdin,
as a JSON object read from standard input. The command exits with status 2
when a blocking PreToolUse hook denies the tool call.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getDispatchConfigFromFlags(cmd)
		if err := config.Validate(); err != nil {
			fail(err, "invalid dispatch options")
			return
		}

		hctx, err := parseContextPairs(config.Context)
		if err != nil {
			fail(err, "invalid context")
			return
		}
		if config.ReadStdin {
			if err := readContextJSON(cmd.InOrStdin(), hctx); err != nil {
				fail(err, "invalid context on stdin")
				return
			}
		}

		service, _, err := loadService(ctx)
		if err != nil {
			fail(err, "failed to load activation sources")
			return
		}
		defer service.Shutdown(ctx)

		event, _ := hooks.ParseEvent(config.Event)
		decision := service.DispatchHook(ctx, event, config.Tool, hctx)

		if err := writeDecision(cmd.OutOrStdout(), decision, config.Output); err != nil {
			fail(err, "failed to write decision")
			return
		}
		if !decision.Allow {
			fmt.Fprintln(os.Stderr, decision.Reason)
			exitCode = exitDenied
		}
	},
}

func init() {
	dispatchCmd.Flags().String("event", string(hooks.PreToolUse), "Hook event (PreToolUse, PostToolUse)")
	dispatchCmd.Flags().String("tool", "", "Tool name of the event")
	dispatchCmd.Flags().StringArray("ctx", nil, "Context entry as key=value (repeatable)")
	dispatchCmd.Flags().Bool("stdin", false, "Read additional context as a JSON object from stdin")
	dispatchCmd.Flags().StringP("output", "o", "json", "Output format (json, text)")
}

func getDispatchConfigFromFlags(cmd *cobra.Command) *DispatchConfig {
	config := &DispatchConfig{Output: "json"}

	if event, err := cmd.Flags().GetString("event"); err == nil {
		config.Event = event
	}
	if tool, err := cmd.Flags().GetString("tool"); err == nil {
		config.Tool = tool
	}
	if pairs, err := cmd.Flags().GetStringArray("ctx"); err == nil {
		config.Context = pairs
	}
	if stdin, err := cmd.Flags().GetBool("stdin"); err == nil {
		config.ReadStdin = stdin
	}
	if output, err := cmd.Flags().GetString("output"); err == nil {
		config.Output = output
	}

	return config
}

// parseContextPairs turns key=value pairs into a hook context
func parseContextPairs(pairs []string) (hooks.Context, error) {
	hctx := hooks.Context{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.Errorf("context entry %q is not in key=value form", pair)
		}
		hctx[strings.TrimSpace(key)] = value
	}
	return hctx, nil
}

// readContextJSON merges a JSON object from r into hctx. String values are
// kept as they are; any other value is stored as its JSON encoding.
func readContextJSON(r io.Reader, hctx hooks.Context) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.Wrap(err, "failed to decode context JSON")
	}

	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			hctx[key] = s
			continue
		}
		hctx[key] = string(value)
	}
	return nil
}

func writeDecision(w io.Writer, decision hooks.Decision, output string) error {
	if output == "text" {
		p := presenter.NewWithOptions(w, os.Stderr, presenter.ColorAuto)
		for _, o := range decision.Outcomes {
			p.Outcome(o.Succeeded(), fmt.Sprintf("%s (%dms)", o.Describe(), o.Duration.Milliseconds()))
		}
		if decision.Allow {
			p.Success("allowed")
		} else {
			p.Warning("denied: " + decision.Reason)
		}
		return nil
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(decision), "failed to encode decision")
}
