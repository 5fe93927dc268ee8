package grpcx

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
)

// DrainTimeout is the time Serve allows in-flight RPCs to finish once its
// context is canceled, before the server is stopped forcefully.
var DrainTimeout = 5 * time.Second

// Serve accepts connections on lis until ctx is canceled or s fails.
//
// It always returns a non-nil error. The caller must not stop s itself.
func Serve(ctx context.Context, lis net.Listener, s *grpc.Server) error {
	served := make(chan error, 1)

	go func() {
		served <- s.Serve(lis)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	drained := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(DrainTimeout):
		s.Stop()
		<-drained
	}

	<-served
	return ctx.Err()
}
