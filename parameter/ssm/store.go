// Package ssm provides a parameter store backed by AWS Systems Manager
// Parameter Store.
package ssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/dogmatiq/mergedeploy/parameter"
	"github.com/dogmatiq/mergedeploy/persistence"
)

// API is the subset of the SSM client used by Store.
type API interface {
	PutParameter(context.Context, *ssm.PutParameterInput, ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParameter(context.Context, *ssm.GetParameterInput, ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Store is an implementation of parameter.Store that uses SSM Parameter
// Store.
//
// SSM does not accept empty values, so empty values are stored as
// persistence.EmptyManifestParameterValue.
type Store struct {
	Client API
}

var _ parameter.Store = (*Store)(nil)

// Put sets the value of a parameter, overwriting any existing value.
func (s *Store) Put(ctx context.Context, name, value string) error {
	if value == "" {
		value = persistence.EmptyManifestParameterValue
	}

	if _, err := s.Client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	}); err != nil {
		return fmt.Errorf("unable to put SSM parameter '%s': %w", name, err)
	}

	return nil
}

// Get returns the value of a parameter.
func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(name),
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("unable to get SSM parameter '%s': %w", name, err)
	}

	v := aws.ToString(out.Parameter.Value)
	if v == persistence.EmptyManifestParameterValue {
		v = ""
	}

	return v, true, nil
}

// Options configures the SSM client returned by NewClient().
type Options struct {
	// Region is the AWS region.
	Region string

	// AccessKeyID and SecretAccessKey are static credentials. If they are
	// empty, the client's default credential resolution applies.
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the service endpoint, for use with local emulators.
	Endpoint string
}

// NewClient returns a new SSM client.
func NewClient(opts Options) *ssm.Client {
	o := ssm.Options{
		Region: opts.Region,
	}

	if opts.AccessKeyID != "" {
		o.Credentials = credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)
	}

	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}

	return ssm.New(o)
}
