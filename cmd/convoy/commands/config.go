package commands

import (
	"time"

	"github.com/mosaicnetworks/convoy/src/config"
	"github.com/mosaicnetworks/convoy/src/swapper"
)

//CLIConfig contains configuration for the push-side commands
type CLIConfig struct {
	// Shared client options.
	ClusterFile string        `mapstructure:"cluster"`
	LogLevel    string        `mapstructure:"log"`
	UseHTTP     bool          `mapstructure:"http"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxPool     int           `mapstructure:"max-pool"`

	// Push options.
	StoreName             string        `mapstructure:"name"`
	SourceDir             string        `mapstructure:"file"`
	PushVersion           int64         `mapstructure:"push-version"`
	FetchTimeout          time.Duration `mapstructure:"fetch-timeout"`
	Strategies            []string      `mapstructure:"strategy"`
	MaxNodeFailures       int           `mapstructure:"max-node-failures"`
	RollbackOnSwapFailure bool          `mapstructure:"rollback-on-swap-failure"`
	LockDir               string        `mapstructure:"lock-dir"`
	EtcdEndpoints         []string      `mapstructure:"etcd-endpoints"`
	HookURLs              []string      `mapstructure:"hook-url"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat"`

	// Local fetch options.
	Source         string `mapstructure:"source"`
	Dest           string `mapstructure:"dest"`
	MaxBytesPerSec int64  `mapstructure:"max-bytes-per-sec"`
	AllowFileFetch bool   `mapstructure:"allow-file-fetch"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		ClusterFile:     config.DefaultClusterFile,
		LogLevel:        config.DefaultLogLevel,
		Timeout:         config.DefaultTimeout,
		MaxPool:         config.DefaultMaxPool,
		FetchTimeout:    config.DefaultFetchTimeout,
		Strategies:      []string{"noop"},
		MaxNodeFailures: swapper.DefaultMaxNodeFailures,
	}
}
