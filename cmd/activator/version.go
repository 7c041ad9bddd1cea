package main

import (
	"fmt"

	"github.com/jingkaihe/activator/pkg/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of activator in JSON format.`,
	Run: func(cmd *cobra.Command, args []string) {
		json, err := version.Get().JSON()
		if err != nil {
			fail(err, "failed to format version info")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), json)
	},
}
