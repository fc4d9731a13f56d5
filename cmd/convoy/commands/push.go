package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/convoy/src/admin"
	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/mosaicnetworks/convoy/src/config"
	"github.com/mosaicnetworks/convoy/src/hooks"
	"github.com/mosaicnetworks/convoy/src/swapper"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

//NewPushCmd returns the command that pushes a store version to a cluster
func NewPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "push",
		Short:   "Fetch a store version on every node and swap it in",
		PreRunE: loadConfig,
		RunE:    runPush,
	}
	AddClientFlags(cmd)
	AddPushFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runPush(cmd *cobra.Command, args []string) error {
	if _config.StoreName == "" {
		return fmt.Errorf("--name is required")
	}
	if _config.SourceDir == "" {
		return fmt.Errorf("--file is required")
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

	var lock swapper.FailedFetchLock
	if _config.LockDir != "" || len(_config.EtcdEndpoints) > 0 {
		lock, err = newLock(c)
		if err != nil {
			return err
		}
		defer lock.Close()
	}

	strategies := []swapper.FailedFetchStrategy{}
	for _, name := range _config.Strategies {
		strategy, err := swapper.StrategyFromName(
			name,
			client,
			lock,
			_config.MaxNodeFailures,
			logger)
		if err != nil {
			return err
		}
		strategies = append(strategies, strategy)
	}

	s := swapper.NewStoreSwapper(
		c,
		client,
		_config.FetchTimeout,
		strategies,
		_config.RollbackOnSwapFailure,
		logger)

	pushHooks := []hooks.Hook{hooks.NewLogHook(logger)}
	for _, url := range _config.HookURLs {
		pushHooks = append(pushHooks, hooks.NewHTTPHook(url, logger))
	}
	for _, h := range pushHooks {
		s.AddHook(h)
	}
	if _config.HeartbeatInterval > 0 {
		s.SetHeartbeatInterval(_config.HeartbeatInterval)
	}

	//Relay SIGINT and SIGTERM so trackers see interrupted runs
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		for _, h := range pushHooks {
			h.Invoke(hooks.Cancelled, "interrupted by operator")
		}
		os.Exit(1)
	}()

	err = s.PushVersion(_config.StoreName, _config.SourceDir, _config.PushVersion)
	if err != nil && swapper.IsRecoverable(err) {
		logger.WithField("error", err).Warn("Push completed with failures")
	}
	return err
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddClientFlags adds the flags shared by all commands that talk to a
//cluster
func AddClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("cluster", _config.ClusterFile, "Cluster topology file")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("http", _config.UseHTTP, "Use the HTTP control API instead of the admin protocol")
	cmd.Flags().DurationP("timeout", "t", _config.Timeout, "Timeout of control connections")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
}

//AddPushFlags adds flags to the Push command
func AddPushFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("name", "n", _config.StoreName, "Store name")
	cmd.Flags().StringP("file", "f", _config.SourceDir, "Source base directory holding one node-<id> directory per node")
	cmd.Flags().Int64P("push-version", "v", _config.PushVersion, "Version number to push")
	cmd.Flags().Duration("fetch-timeout", _config.FetchTimeout, "Timeout of one node's fetch")

	// Recovery
	cmd.Flags().StringSlice("strategy", _config.Strategies, "Failed-fetch strategies, consulted in order: noop, delete-all, disable-failed")
	cmd.Flags().Int("max-node-failures", _config.MaxNodeFailures, "Max failed nodes tolerated by disable-failed")
	cmd.Flags().Bool("rollback-on-swap-failure", _config.RollbackOnSwapFailure, "Roll back swapped nodes when some nodes fail to swap")
	cmd.Flags().String("lock-dir", _config.LockDir, "Shared directory for the cross-process failed-fetch lock")
	cmd.Flags().StringSlice("etcd-endpoints", _config.EtcdEndpoints, "etcd endpoints for the failed-fetch lock, instead of lock-dir")

	// Tracking
	cmd.Flags().StringSlice("hook-url", _config.HookURLs, "URLs receiving push status updates")
	cmd.Flags().Duration("heartbeat", _config.HeartbeatInterval, "Interval between heartbeat updates, 0 to disable")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		return err
	}

	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	log := newLogger()
	log.Level = config.LogLevel(_config.LogLevel)
	logger = log.WithField("prefix", "convoy")

	logger.WithFields(logrus.Fields{
		"cluster":  _config.ClusterFile,
		"http":     _config.UseHTTP,
		"timeout":  _config.Timeout,
		"max-pool": _config.MaxPool,
		"log":      _config.LogLevel,
	}).Debug("RUN")

	return nil
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.Formatter = new(prefixed.TextFormatter)

	pathMap := lfshook.PathMap{}

	_, err := os.OpenFile("convoy_info.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Info("Failed to open convoy_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = "convoy_info.log"
	}

	_, err = os.OpenFile("convoy_debug.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Info("Failed to open convoy_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = "convoy_debug.log"
	}

	log.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))

	return log
}

func loadCluster() (*cluster.Cluster, error) {
	return cluster.NewJSONClusterFile(_config.ClusterFile).Cluster()
}

func newClient(c *cluster.Cluster) (admin.Client, error) {
	if _config.UseHTTP {
		return admin.NewHTTPClient(c, _config.Timeout, logger), nil
	}
	return admin.NewNetworkClient(c, _config.MaxPool, _config.Timeout, logger), nil
}

func newLock(c *cluster.Cluster) (swapper.FailedFetchLock, error) {
	if len(_config.EtcdEndpoints) > 0 {
		return swapper.NewEtcdFailedFetchLock(_config.EtcdEndpoints, c.URL(), _config.Timeout, logger)
	}
	return swapper.NewBadgerFailedFetchLock(_config.LockDir, c.URL(), logger)
}
