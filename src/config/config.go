package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/convoy/src/common"
	"github.com/mosaicnetworks/convoy/src/fetcher"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultClusterFile is the default name of the file describing the
	// cluster topology.
	DefaultClusterFile = "cluster.json"

	// DefaultStoreFolder is the default name of the folder, inside the
	// data directory, that holds the store version directories.
	DefaultStoreFolder = "store"
)

// Default configuration values.
const (
	DefaultLogLevel       = "debug"
	DefaultAdminBindAddr  = "127.0.0.1:6666"
	DefaultHTTPBindAddr   = "127.0.0.1:8000"
	DefaultMaxPool        = 2
	DefaultTimeout        = 10000 * time.Millisecond
	DefaultFetchTimeout   = 24 * time.Hour
	DefaultMaxBytesPerSec = int64(0)
)

// Config contains all the configuration properties of a Convoy node
// daemon.
type Config struct {
	// DataDir is the top-level directory containing Convoy configuration
	// and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates log output to a file.
	LogFile string `mapstructure:"log-file"`

	// NodeID is this node's id in the cluster topology. It is only used to
	// tag log output; nodes do not read the topology file.
	NodeID int `mapstructure:"node-id"`

	// AdminBindAddr is the local address:port where the node listens for
	// admin commands.
	AdminBindAddr string `mapstructure:"listen"`

	// NoHTTP disables the HTTP control service.
	NoHTTP bool `mapstructure:"no-http"`

	// HTTPBindAddr is the address:port of the optional HTTP control
	// service.
	HTTPBindAddr string `mapstructure:"http-listen"`

	// StoreDir is the directory containing the store version directories.
	StoreDir string `mapstructure:"store-dir"`

	// MaxBytesPerSec caps the combined rate at which this node pulls data
	// from the source during fetches. Zero disables throttling.
	MaxBytesPerSec int64 `mapstructure:"max-bytes-per-sec"`

	// Retries is the number of times a failed file transfer is retried
	// during a fetch.
	Retries int `mapstructure:"retries"`

	// RetryDelay is the pause between file transfer attempts.
	RetryDelay time.Duration `mapstructure:"retry-delay"`

	// ReportInterval is the number of fetched bytes between progress logs.
	ReportInterval int64 `mapstructure:"report-interval"`

	// AllowFetchOfFile permits fetching single files instead of complete
	// version directories. Off by default; it exists for diagnostics.
	AllowFetchOfFile bool `mapstructure:"allow-file-fetch"`

	// EnableStatsFile turns on per-fetch transfer reports written next to
	// the fetched version directories.
	EnableStatsFile bool `mapstructure:"stats"`

	// KeytabPath and Principal configure authentication against secured
	// sources. They are handed to the fetcher as is.
	KeytabPath string `mapstructure:"keytab"`
	Principal  string `mapstructure:"principal"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       DefaultLogLevel,
		AdminBindAddr:  DefaultAdminBindAddr,
		HTTPBindAddr:   DefaultHTTPBindAddr,
		StoreDir:       DefaultStoreDir(),
		MaxBytesPerSec: DefaultMaxBytesPerSec,
		Retries:        fetcher.DefaultRetries,
		RetryDelay:     fetcher.DefaultRetryDelay,
		ReportInterval: fetcher.DefaultReportInterval,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level Convoy directory, and updates the store
// directory if it is currently set to the default value. If the store
// directory is not currently the default, it means the user has explicitly
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.StoreDir == DefaultStoreDir() {
		c.StoreDir = filepath.Join(dataDir, DefaultStoreFolder)
	}
}

// ClusterFile returns the full path of the file describing the cluster
// topology.
func (c *Config) ClusterFile() string {
	return filepath.Join(c.DataDir, DefaultClusterFile)
}

// FetcherConfig materializes the fetcher configuration carried by this
// config object.
func (c *Config) FetcherConfig() *fetcher.Config {
	fc := fetcher.DefaultConfig()
	fc.MaxBytesPerSec = c.MaxBytesPerSec
	fc.Retries = c.Retries
	fc.RetryDelay = c.RetryDelay
	fc.ReportInterval = c.ReportInterval
	fc.AllowFetchOfFile = c.AllowFetchOfFile
	fc.EnableStatsFile = c.EnableStatsFile
	fc.KeytabPath = c.KeytabPath
	fc.Principal = c.Principal
	return fc
}

// Logger returns a formatted logrus Entry, with prefix set to "convoy".
// When LogFile is set, output is duplicated to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				c.logger.WithField("error", err).Warn("Failed to open log file, using stderr only")
			} else {
				f.Close()

				pathMap := lfshook.PathMap{}
				for _, level := range logrus.AllLevels {
					pathMap[level] = c.LogFile
				}

				c.logger.Hooks.Add(lfshook.NewHook(
					pathMap,
					&logrus.TextFormatter{},
				))
			}
		}
	}
	return c.logger.WithField("prefix", "convoy")
}

// DefaultStoreDir returns the default path for the store version
// directories.
func DefaultStoreDir() string {
	return filepath.Join(DefaultDataDir(), DefaultStoreFolder)
}

// DefaultDataDir return the default directory name for top-level Convoy
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Convoy")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Convoy")
		} else {
			return filepath.Join(home, ".convoy")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
