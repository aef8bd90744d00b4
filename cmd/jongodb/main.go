// Command jongodb starts the in-memory, wire-compatible server that test
// suites dial into in place of a real mongod.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jongodb/jongodb/internal/config"
	"github.com/jongodb/jongodb/internal/launcher"
)

func main() {
	if err := newServeCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "jongodb",
		Short: "run an in-memory mongod replacement for integration tests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := setupLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			code := launcher.Run(cfg, logger, os.Stdout, os.Stderr)
			os.Exit(code)
			return nil
		},
	}

	if err := config.BindFlags(cmd, v); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	return cmd
}

// setupLogger builds a development-style console logger at the requested
// level. There is no error-reporting core and no log file: a test-only
// process has no installation to report telemetry for.
func setupLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		return nil, fmt.Errorf("main: invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = zapLevel != zapcore.DebugLevel

	return cfg.Build()
}
