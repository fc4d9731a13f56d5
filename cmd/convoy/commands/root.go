package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
	logger  *logrus.Entry
)

//RootCmd is the root command for the Convoy push tool
var RootCmd = &cobra.Command{
	Use:              "convoy",
	Short:            "read-only store push tool",
	TraverseChildren: true,
}
