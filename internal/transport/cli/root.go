// Package cli implements the healthq command line: an interactive chat over
// local PDFs and token minting for the extended HTTP API.
package cli

import (
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "healthq",
	Short:         "Ask questions about health insurance policy documents",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warnings only")
}

func Execute() error {
	return rootCmd.Execute()
}
