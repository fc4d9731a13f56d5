package commands

import (
	"github.com/mosaicnetworks/convoy/src/config"
	"github.com/spf13/cobra"
)

var _config = config.NewDefaultConfig()

//RootCmd is the root command for the Convoy node daemon
var RootCmd = &cobra.Command{
	Use:              "convoyd",
	Short:            "read-only store node daemon",
	TraverseChildren: true,
}
