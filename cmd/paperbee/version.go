package main

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the paperbee version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if humanOutput {
			outputHuman("paperbee %s\n", Version)
			return nil
		}
		return outputJSON(VersionResponse{Version: Version})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
