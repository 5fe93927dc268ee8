// Command example-functions is a gRPC server that provides the functions of a
// sample deployment that folds per-tenant values into a versioned manifest.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dogmatiq/dodeca/config"
	"github.com/dogmatiq/mergedeploy/function"
	"github.com/dogmatiq/mergedeploy/function/grpcfunc"
	"github.com/dogmatiq/mergedeploy/internal/x/grpcx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// defaultListenAddress is the default TCP address for the gRPC listener.
const defaultListenAddress = ":9090"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "example-functions",
		Short:         "Serve the sample merge, validation and hook functions over gRPC",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			err = serve(cmd.Context(), addr, logger)
			if err != nil && cmd.Context().Err() == nil {
				logger.Error("server stopped", zap.Error(err))
				return err
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "listen", defaultListenAddress, "TCP address for the gRPC listener")

	return cmd
}

// serve runs the function server until ctx is canceled.
func serve(ctx context.Context, addr string, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to start gRPC listener: %w", err)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpcfunc.Register(s, &grpcfunc.Handler{
		Merger:    function.MergerFunc(mergeTenant),
		Validator: function.ManifestValidatorFunc(validateTenant),
		Hook:      logHook(logger),
	})

	logger.Info(
		"serving functions",
		zap.String("address", lis.Addr().String()),
	)

	return grpcx.Serve(ctx, lis, s)
}

// newLogger returns a development logger if the DEBUG environment variable is
// true, and a production logger otherwise.
func newLogger() (*zap.Logger, error) {
	if config.AsBoolDefault(config.Environment(), "DEBUG", false) {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
