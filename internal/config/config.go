// Package config provides the viper-backed flag/default merge behind the
// jongodb CLI: no YAML files or kustomize-style overlays, just plain
// defaults layered under the flags named in the launcher contract.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every value the launcher needs to bind the listener, answer
// hello/isMaster, and set up logging.
type Config struct {
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	Database   string `mapstructure:"database"`
	ReplicaSet string `mapstructure:"replicaSet"`
	LogLevel   string `mapstructure:"logLevel"`
}

// BindFlags registers the launcher's flags on cmd and binds them into v,
// so that either a flag or (if added later) an environment variable can
// supply each value under viper's usual precedence rules.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	cmd.Flags().String("host", "127.0.0.1", "address to bind the listener to")
	cmd.Flags().String("port", "0", "port to bind the listener to; 0 picks an ephemeral port")
	cmd.Flags().String("database", "test", "database name advertised in the ready-line URI")
	cmd.Flags().String("replica-set", "", "replica set name; when set, hello/isMaster answers as a one-node replica set")
	cmd.Flags().String("log-level", "info", "zap log level: debug, info, warn, or error")

	for _, name := range []string{"host", "port", "database", "replica-set", "log-level"} {
		if err := v.BindPFlag(mapstructureKey(name), cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("config: failed to bind flag %q: %w", name, err)
		}
	}
	return nil
}

// mapstructureKey maps a kebab-case flag name to its mapstructure key.
func mapstructureKey(flag string) string {
	switch flag {
	case "replica-set":
		return "replicaSet"
	case "log-level":
		return "logLevel"
	default:
		return flag
	}
}

// Load builds the default config, overlays anything viper picked up from
// bound flags, and returns the merged result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Host:     "127.0.0.1",
		Port:     "0",
		Database: "test",
		LogLevel: "info",
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	return cfg, nil
}
