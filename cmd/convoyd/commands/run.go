package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/convoy/src/admin"
	"github.com/mosaicnetworks/convoy/src/fetcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a Convoy node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runConvoyd,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runConvoyd(cmd *cobra.Command, args []string) error {
	logger := _config.Logger().WithField("node", _config.NodeID)

	f := fetcher.New(
		_config.FetcherConfig(),
		logger.WithField("component", "fetcher"))

	handler, err := admin.NewHandler(_config.StoreDir, f, logger)
	if err != nil {
		logger.Error("Cannot initialize store handler:", err)
		return err
	}

	server, err := admin.NewServer(_config.AdminBindAddr, handler, logger)
	if err != nil {
		logger.Error("Cannot bind admin listener:", err)
		return err
	}

	go server.Listen()

	if !_config.NoHTTP {
		service := admin.NewHTTPService(_config.HTTPBindAddr, handler, logger)
		go service.Serve()
	}

	logger.WithField("listen", server.Addr()).Info("Convoy node running")

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	return server.Close()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Optional file to write logs to, in addition to stderr")
	cmd.Flags().Int("node-id", _config.NodeID, "This node's id in the cluster topology")

	// Network
	cmd.Flags().StringP("listen", "l", _config.AdminBindAddr, "Listen IP:Port for the admin service")
	cmd.Flags().Bool("no-http", _config.NoHTTP, "Do not serve the HTTP control API")
	cmd.Flags().StringP("http-listen", "s", _config.HTTPBindAddr, "Listen IP:Port for the HTTP control API")

	// Store
	cmd.Flags().String("store-dir", _config.StoreDir, "Directory holding the pushed store versions")

	// Fetcher
	cmd.Flags().Int64("max-bytes-per-sec", _config.MaxBytesPerSec, "Fetch rate limit, 0 for unlimited")
	cmd.Flags().Int("retries", _config.Retries, "Attempts per file before a fetch fails")
	cmd.Flags().Duration("retry-delay", _config.RetryDelay, "Delay between retries of one file")
	cmd.Flags().Int64("report-interval", _config.ReportInterval, "Bytes copied between progress reports")
	cmd.Flags().Bool("allow-file-fetch", _config.AllowFetchOfFile, "Accept a plain file as the fetch source")
	cmd.Flags().Bool("stats", _config.EnableStatsFile, "Keep per-version fetch stats in the store directory")
	cmd.Flags().String("keytab", _config.KeytabPath, "Kerberos keytab for secured fetch sources")
	cmd.Flags().String("principal", _config.Principal, "Kerberos principal for secured fetch sources")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --store-dir, this will update
	// the default store dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":          _config.DataDir,
		"NodeID":           _config.NodeID,
		"AdminBindAddr":    _config.AdminBindAddr,
		"NoHTTP":           _config.NoHTTP,
		"HTTPBindAddr":     _config.HTTPBindAddr,
		"StoreDir":         _config.StoreDir,
		"MaxBytesPerSec":   _config.MaxBytesPerSec,
		"Retries":          _config.Retries,
		"RetryDelay":       _config.RetryDelay,
		"AllowFetchOfFile": _config.AllowFetchOfFile,
		"EnableStatsFile":  _config.EnableStatsFile,
		"LogLevel":         _config.LogLevel,
	}

	if _config.KeytabPath != "" {
		logFields["KeytabPath"] = _config.KeytabPath
		logFields["Principal"] = _config.Principal
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/convoyd.toml (.json, .yaml also work)
	viper.SetConfigName("convoyd")       // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
