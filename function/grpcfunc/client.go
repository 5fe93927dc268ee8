package grpcfunc

import (
	"context"

	"github.com/dogmatiq/mergedeploy/function"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client invokes functions hosted by a remote gRPC server.
type Client struct {
	Conn grpc.ClientConnInterface
}

var (
	_ function.Merger            = (*Client)(nil)
	_ function.ManifestValidator = (*Client)(nil)
	_ function.ManifestHook      = (*Client)(nil)
)

// Merge invokes the remote merge function.
func (c *Client) Merge(ctx context.Context, req function.MergeRequest) (res function.MergeResponse, err error) {
	err = c.invoke(ctx, mergeMethod, req, &res)
	return res, err
}

// ValidateManifest invokes the remote manifest validator.
func (c *Client) ValidateManifest(ctx context.Context, req function.ValidateManifestRequest) (res function.ValidateResponse, err error) {
	err = c.invoke(ctx, validateMethod, req, &res)
	return res, err
}

// UpdatedManifestHook invokes the remote post-merge hook.
func (c *Client) UpdatedManifestHook(ctx context.Context, req function.ManifestHookRequest) error {
	return c.invoke(ctx, hookMethod, req, nil)
}

// PrepareStage invokes the remote prepare function for req.Stage.
func (c *Client) PrepareStage(ctx context.Context, req function.StageRequest) error {
	return c.invoke(ctx, prepareMethod, req, nil)
}

// TestStage invokes the remote test function for req.Stage.
func (c *Client) TestStage(ctx context.Context, req function.StageRequest) error {
	return c.invoke(ctx, testMethod, req, nil)
}

// Stage returns a stage definition that invokes the remote prepare and test
// functions for the named stage.
func (c *Client) Stage(name string, prepare, test bool) function.StageDefinition {
	def := function.StageDefinition{Name: name}

	if prepare {
		def.Prepare = function.StageFunc(c.PrepareStage)
	}

	if test {
		def.Test = function.StageFunc(c.TestStage)
	}

	return def
}

func (c *Client) invoke(ctx context.Context, method string, req, res any) error {
	in, err := marshalStruct(req)
	if err != nil {
		return err
	}

	out := &structpb.Struct{}
	if err := c.Conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	return unmarshalStruct(out, res)
}
