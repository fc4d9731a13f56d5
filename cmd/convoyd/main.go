package main

import (
	"os"

	cmd "github.com/mosaicnetworks/convoy/cmd/convoyd/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(
		cmd.NewRunCmd(),
		cmd.VersionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
