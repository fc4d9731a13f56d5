// Package config defines the configuration for a Convoy node daemon.
//
// Regardless of how Convoy is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object
// defined in this package to store and forward configuration options. On
// top of these configuration options, Convoy relies on a data directory,
// defined by Config.DataDir, where it expects to find additional files:
//
//  cluster.json // a JSON file describing the cluster topology.
//  store/       // (default location) the store version directories.
package config
