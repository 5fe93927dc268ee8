package grpcx

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/runtime/protoiface"
	"google.golang.org/protobuf/runtime/protoimpl"
)

// Errorf returns a gRPC status error with the given code and message, and
// attaches each of details to the status.
func Errorf(
	code codes.Code,
	details []proto.Message,
	f string,
	v ...any,
) error {
	s := status.New(code, fmt.Sprintf(f, v...))
	if len(details) == 0 {
		return s.Err()
	}

	attached := make([]protoiface.MessageV1, 0, len(details))
	for _, m := range details {
		attached = append(attached, protoimpl.X.ProtoMessageV1Of(m))
	}

	s, err := s.WithDetails(attached...)
	if err != nil {
		panic(fmt.Sprintf("unable to attach status details: %s", err))
	}

	return s.Err()
}
