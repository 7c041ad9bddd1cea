package main

import (
	"fmt"

	"github.com/jingkaihe/activator/pkg/activation"
	"github.com/jingkaihe/activator/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate rule documents and hook configuration",
	Long: `Check loads every configured rule document and hook configuration file and
reports each one that fails validation. Nothing is executed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		service, src, err := loadService(ctx)
		if err != nil {
			var loadErr *activation.LoadError
			if errors.As(err, &loadErr) {
				presenter.Section(fmt.Sprintf("%d problem(s) found", len(loadErr.Errors())))
				for _, e := range loadErr.Errors() {
					presenter.Outcome(false, e.Error())
				}
			}
			fail(err, "check failed")
			return
		}

		presenter.Section("Sources")
		for _, dir := range src.RuleDirs {
			presenter.Info("rules dir:  " + dir)
		}
		for _, file := range src.RuleFiles {
			presenter.Info("rule file:  " + file)
		}
		for _, file := range src.HookFiles {
			presenter.Info("hook file:  " + file)
		}
		for _, dir := range src.HookDirs {
			presenter.Info("hooks dir:  " + dir)
		}
		presenter.Separator()

		snapshot := service.Snapshot()
		for _, h := range snapshot.Hooks() {
			matcher := h.ToolMatcher
			if matcher == "" {
				matcher = "*"
			}
			presenter.Outcome(true, fmt.Sprintf("hook %s: %s %s (timeout %s, blocking %t)",
				h.ID, h.Event, matcher, h.Timeout, h.IsBlocking()))
		}
		presenter.Stats(presenterStats(service.Stats()))
		presenter.Success("configuration is valid")
	},
}
