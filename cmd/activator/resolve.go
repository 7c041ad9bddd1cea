package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jingkaihe/activator/pkg/rules"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ResolveConfig holds configuration for the resolve command
type ResolveConfig struct {
	IDsOnly bool
	JSON    bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Print the rule documents that apply to a file path",
	Long: `Resolve prints the payloads of every rule document that applies to the given
path: common documents first, then matching scoped documents from the most
specific pattern to the least specific.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getResolveConfigFromFlags(cmd)

		service, _, err := loadService(ctx)
		if err != nil {
			fail(err, "failed to load activation sources")
			return
		}

		docs := service.ResolveDocuments(args[0])
		if err := writeResolved(cmd.OutOrStdout(), args[0], docs, config); err != nil {
			fail(err, "failed to write resolved rules")
		}
	},
}

func init() {
	resolveCmd.Flags().Bool("ids", false, "Print document IDs only")
	resolveCmd.Flags().Bool("json", false, "Print the resolved documents as JSON")
}

func getResolveConfigFromFlags(cmd *cobra.Command) *ResolveConfig {
	config := &ResolveConfig{}
	if ids, err := cmd.Flags().GetBool("ids"); err == nil {
		config.IDsOnly = ids
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

type resolvedDocument struct {
	ID       string   `json:"id"`
	Scope    string   `json:"scope"`
	Patterns []string `json:"patterns,omitempty"`
	Source   string   `json:"source,omitempty"`
	Payload  string   `json:"payload,omitempty"`
}

func writeResolved(w io.Writer, path string, docs []*rules.Document, config *ResolveConfig) error {
	if config.JSON {
		out := struct {
			Path  string             `json:"path"`
			Rules []resolvedDocument `json:"rules"`
		}{Path: path, Rules: make([]resolvedDocument, 0, len(docs))}
		for _, d := range docs {
			rd := resolvedDocument{ID: d.ID, Scope: string(d.Scope), Patterns: d.Patterns, Source: d.Source}
			if !config.IDsOnly {
				rd.Payload = d.Payload
			}
			out.Rules = append(out.Rules, rd)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(out), "failed to encode resolved rules")
	}

	if config.IDsOnly {
		for _, d := range docs {
			if _, err := fmt.Fprintln(w, d.ID); err != nil {
				return err
			}
		}
		return nil
	}

	payloads := make([]string, 0, len(docs))
	for _, d := range docs {
		payloads = append(payloads, strings.TrimRight(d.Payload, "\n"))
	}
	if len(payloads) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(w, strings.Join(payloads, "\n\n"))
	return err
}
