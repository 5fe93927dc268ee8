// Command mergedeploy runs the deployment engine, and submits requests to it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dogmatiq/dodeca/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalFlags are the flags shared by every command.
type globalFlags struct {
	configPath string
	server     string
	debug      bool
}

func newRootCommand() *cobra.Command {
	env := config.Environment()
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "mergedeploy",
		Short:         "Apply concurrent deployments to a shared manifest, one at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(
		&flags.configPath,
		"config",
		config.AsStringDefault(env, "MERGEDEPLOY_CONFIG", ""),
		"path to the YAML configuration file",
	)

	cmd.PersistentFlags().StringVar(
		&flags.server,
		"server",
		config.AsStringDefault(env, "MERGEDEPLOY_SERVER", "http://localhost:8080"),
		"base URL of the mergedeploy API",
	)

	cmd.PersistentFlags().BoolVar(
		&flags.debug,
		"debug",
		config.AsBoolDefault(env, "DEBUG", false),
		"enable debug logging",
	)

	cmd.AddCommand(
		newServeCommand(flags),
		newSubmitCommand(flags),
		newUnlockCommand(flags),
		newLoadTestCommand(flags),
	)

	return cmd
}

// newLogger returns a development logger if debug is true, and a production
// logger otherwise.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
