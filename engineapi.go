package mergedeploy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultListenAddress is the default TCP address for the HTTP listener.
const DefaultListenAddress = ":8080"

// shutdownTimeout is the time allowed for in-flight API requests to finish
// once the engine is stopped.
const shutdownTimeout = 10 * time.Second

// serveAPI runs the HTTP server until ctx is canceled.
//
// If addr is empty DefaultListenAddress is used.
func serveAPI(
	ctx context.Context,
	addr string,
	h http.Handler,
	logger *zap.Logger,
) error {
	if addr == "" {
		addr = DefaultListenAddress
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to start HTTP listener: %w", err)
	}

	s := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	// Stop the server when the ctx is canceled from the outside, or when the
	// server exits prematurely.
	g.Go(func() error {
		<-gctx.Done()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return s.Shutdown(sctx)
	})

	g.Go(func() error {
		logger.Info(
			"listening for API requests",
			zap.String("address", lis.Addr().String()),
		)

		err := s.Serve(lis)

		// Serve() always returns ErrServerClosed once Shutdown() is called,
		// which only happens when the context is canceled.
		if errors.Is(err, http.ErrServerClosed) {
			<-gctx.Done()
			return ctx.Err()
		}

		return err
	})

	err = g.Wait()

	return fmt.Errorf("HTTP server stopped: %w", err)
}
