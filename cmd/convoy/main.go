package main

import (
	"os"

	cmd "github.com/mosaicnetworks/convoy/cmd/convoy/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(
		cmd.NewPushCmd(),
		cmd.NewRollbackCmd(),
		cmd.NewFetchCmd(),
		cmd.VersionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
