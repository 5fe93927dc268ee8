// Package grpcfunc is a gRPC transport for the functions invoked by the
// deployment pipeline.
//
// The service does not use generated code. Every request and response is a
// google.protobuf.Struct containing the JSON representation of the
// corresponding type in the function package.
package grpcfunc

import (
	"context"

	"github.com/dogmatiq/mergedeploy/function"
	"github.com/dogmatiq/mergedeploy/internal/x/grpcx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified name of the gRPC service.
const ServiceName = "mergedeploy.function.v1.Function"

const (
	mergeMethod    = "Merge"
	validateMethod = "ValidateManifest"
	hookMethod     = "UpdatedManifestHook"
	prepareMethod  = "PrepareStage"
	testMethod     = "TestStage"
)

// Handler is the set of local functions exposed by a gRPC server.
//
// Any nil function is reported to clients as unimplemented.
type Handler struct {
	Merger    function.Merger
	Validator function.ManifestValidator
	Hook      function.ManifestHook

	// Prepare and Test map stage names to the stage's functions.
	Prepare map[string]function.StageFunction
	Test    map[string]function.StageFunction
}

// Register registers the function service with s.
func Register(s grpc.ServiceRegistrar, h *Handler) {
	s.RegisterService(&serviceDesc, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: mergeMethod, Handler: unaryHandler(mergeMethod, (*Handler).merge)},
		{MethodName: validateMethod, Handler: unaryHandler(validateMethod, (*Handler).validate)},
		{MethodName: hookMethod, Handler: unaryHandler(hookMethod, (*Handler).hook)},
		{MethodName: prepareMethod, Handler: unaryHandler(prepareMethod, (*Handler).prepare)},
		{MethodName: testMethod, Handler: unaryHandler(testMethod, (*Handler).test)},
	},
	Metadata: "mergedeploy/function/v1/function.proto",
}

// unaryHandler returns a gRPC method handler that invokes fn.
func unaryHandler(
	method string,
	fn func(*Handler, context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(
		srv any,
		ctx context.Context,
		dec func(any) error,
		interceptor grpc.UnaryServerInterceptor,
	) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}

		h := srv.(*Handler)

		if interceptor == nil {
			return fn(h, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}

		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(h, ctx, req.(*structpb.Struct))
		})
	}
}

func (h *Handler) merge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if h.Merger == nil {
		return nil, unimplemented(mergeMethod, "")
	}

	var req function.MergeRequest
	if err := unmarshalStruct(in, &req); err != nil {
		return nil, invalidArgument(err)
	}

	res, err := h.Merger.Merge(ctx, req)
	if err != nil {
		return nil, failed(mergeMethod, err)
	}

	return marshalStruct(res)
}

func (h *Handler) validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if h.Validator == nil {
		return nil, unimplemented(validateMethod, "")
	}

	var req function.ValidateManifestRequest
	if err := unmarshalStruct(in, &req); err != nil {
		return nil, invalidArgument(err)
	}

	res, err := h.Validator.ValidateManifest(ctx, req)
	if err != nil {
		return nil, failed(validateMethod, err)
	}

	return marshalStruct(res)
}

func (h *Handler) hook(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if h.Hook == nil {
		return nil, unimplemented(hookMethod, "")
	}

	var req function.ManifestHookRequest
	if err := unmarshalStruct(in, &req); err != nil {
		return nil, invalidArgument(err)
	}

	if err := h.Hook.UpdatedManifestHook(ctx, req); err != nil {
		return nil, failed(hookMethod, err)
	}

	return &structpb.Struct{}, nil
}

func (h *Handler) prepare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return runStage(ctx, prepareMethod, h.Prepare, in)
}

func (h *Handler) test(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return runStage(ctx, testMethod, h.Test, in)
}

func runStage(
	ctx context.Context,
	method string,
	functions map[string]function.StageFunction,
	in *structpb.Struct,
) (*structpb.Struct, error) {
	var req function.StageRequest
	if err := unmarshalStruct(in, &req); err != nil {
		return nil, invalidArgument(err)
	}

	fn, ok := functions[req.Stage]
	if !ok {
		return nil, unimplemented(method, req.Stage)
	}

	if err := fn.RunStage(ctx, req); err != nil {
		return nil, failed(method, err)
	}

	return &structpb.Struct{}, nil
}

func unimplemented(method, stage string) error {
	if stage == "" {
		return grpcx.Errorf(codes.Unimplemented, nil, "%s is not implemented", method)
	}

	return grpcx.Errorf(codes.Unimplemented, nil, "%s is not implemented for the '%s' stage", method, stage)
}

func invalidArgument(err error) error {
	return grpcx.Errorf(codes.InvalidArgument, nil, "%s", err)
}

// failed returns the status error for a function that returned an error. The
// method name is attached as a detail.
func failed(method string, err error) error {
	return grpcx.Errorf(
		codes.Unknown,
		[]proto.Message{structpb.NewStringValue(method)},
		"%s", err,
	)
}
