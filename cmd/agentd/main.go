package main

import (
	"fmt"
	"os"

	"github.com/Harshitk-cp/agentd/internal/buildconfig"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "agentd",
	Short:         "agentd - proactive reasoning agent daemon",
	Long:          `agentd runs a perceive, update, deliberate, plan, execute and reflect loop for one agent and serves its status over HTTP.`,
	Version:       buildconfig.Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
