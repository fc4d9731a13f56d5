package commands

import (
	"fmt"

	"github.com/mosaicnetworks/convoy/src/fetcher"
	"github.com/spf13/cobra"
)

//NewFetchCmd returns the command that copies a store version into a local
//directory without swapping anything. It is mostly useful for debugging
//store data.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fetch",
		Short:   "Fetch a store version into a local directory",
		PreRunE: loadConfig,
		RunE:    runFetch,
	}
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("source", _config.Source, "Source directory to fetch")
	cmd.Flags().String("dest", _config.Dest, "Destination directory")
	cmd.Flags().Int64("max-bytes-per-sec", _config.MaxBytesPerSec, "Fetch rate limit, 0 for unlimited")
	cmd.Flags().Bool("allow-file-fetch", _config.AllowFileFetch, "Accept a plain file as the fetch source")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	if _config.Source == "" {
		return fmt.Errorf("--source is required")
	}
	if _config.Dest == "" {
		return fmt.Errorf("--dest is required")
	}

	cfg := fetcher.DefaultConfig()
	cfg.MaxBytesPerSec = _config.MaxBytesPerSec
	cfg.AllowFetchOfFile = _config.AllowFileFetch

	f := fetcher.New(cfg, logger)

	path, err := f.Fetch(_config.Source, _config.Dest)
	if err != nil {
		return err
	}

	logger.WithField("path", path).Info("Fetched")

	return nil
}
