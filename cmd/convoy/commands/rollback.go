package commands

import (
	"fmt"

	"github.com/mosaicnetworks/convoy/src/swapper"
	"github.com/spf13/cobra"
)

//NewRollbackCmd returns the command that rolls a cluster back to a
//previously pushed store version
func NewRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rollback",
		Short:   "Swap every node back to a previously pushed version",
		PreRunE: loadConfig,
		RunE:    runRollback,
	}
	AddClientFlags(cmd)
	cmd.Flags().StringP("name", "n", _config.StoreName, "Store name")
	cmd.Flags().Int64P("push-version", "v", _config.PushVersion, "Version number to roll back to")
	return cmd
}

func runRollback(cmd *cobra.Command, args []string) error {
	if _config.StoreName == "" {
		return fmt.Errorf("--name is required")
	}
	if _config.PushVersion <= 0 {
		return fmt.Errorf("--push-version must be a positive version number")
	}

	c, err := loadCluster()
	if err != nil {
		return err
	}

	client, err := newClient(c)
	if err != nil {
		return err
	}
	defer client.Close()

	s := swapper.NewStoreSwapper(
		c,
		client,
		_config.FetchTimeout,
		nil,
		false,
		logger)

	return s.Rollback(_config.StoreName, _config.PushVersion)
}
