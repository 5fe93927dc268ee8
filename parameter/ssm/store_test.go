package ssm_test

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	. "github.com/dogmatiq/mergedeploy/parameter/ssm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeAPI is an in-memory stand-in for the SSM API.
type fakeAPI struct {
	puts   []*ssm.PutParameterInput
	values map[string]string
	err    error
}

func (f *fakeAPI) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.puts = append(f.puts, in)

	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[aws.ToString(in.Name)] = aws.ToString(in.Value)

	return &ssm.PutParameterOutput{Version: int64(len(f.puts))}, nil
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, &types.ParameterNotFound{Message: aws.String("not found")}
	}

	return &ssm.GetParameterOutput{
		Parameter: &types.Parameter{
			Name:  in.Name,
			Value: aws.String(v),
		},
	}, nil
}

var _ = Describe("type Store", func() {
	var (
		ctx   context.Context
		api   *fakeAPI
		store *Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		api = &fakeAPI{}
		store = &Store{Client: api}
	})

	Describe("func Put()", func() {
		It("overwrites the parameter as a plain string", func() {
			err := store.Put(ctx, "/mergedeploy/DEFAULT/beta", "<id>")
			Expect(err).ShouldNot(HaveOccurred())

			Expect(api.puts).To(HaveLen(1))
			in := api.puts[0]
			Expect(aws.ToString(in.Name)).To(Equal("/mergedeploy/DEFAULT/beta"))
			Expect(aws.ToString(in.Value)).To(Equal("<id>"))
			Expect(in.Type).To(Equal(types.ParameterTypeString))
			Expect(aws.ToBool(in.Overwrite)).To(BeTrue())
		})

		It("stores empty values using a placeholder", func() {
			err := store.Put(ctx, "/param", "")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(aws.ToString(api.puts[0].Value)).To(Equal("__EMPTY"))
		})

		It("returns an error if the API call fails", func() {
			api.err = errors.New("<error>")

			err := store.Put(ctx, "/param", "<value>")
			Expect(err).To(MatchError(ContainSubstring("<error>")))
		})
	})

	Describe("func Get()", func() {
		It("returns the stored value", func() {
			err := store.Put(ctx, "/param", "<value>")
			Expect(err).ShouldNot(HaveOccurred())

			v, ok, err := store.Get(ctx, "/param")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("<value>"))
		})

		It("maps the empty placeholder back to an empty value", func() {
			err := store.Put(ctx, "/param", "")
			Expect(err).ShouldNot(HaveOccurred())

			v, ok, err := store.Get(ctx, "/param")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(""))
		})

		It("reports missing parameters", func() {
			_, ok, err := store.Get(ctx, "/missing")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("func NewClient()", func() {
	It("configures the region and endpoint", func() {
		client := NewClient(Options{
			Region:          "ap-southeast-2",
			AccessKeyID:     "<key>",
			SecretAccessKey: "<secret>",
			Endpoint:        "http://localhost:4566",
		})

		opts := client.Options()
		Expect(opts.Region).To(Equal("ap-southeast-2"))
		Expect(aws.ToString(opts.BaseEndpoint)).To(Equal("http://localhost:4566"))
		Expect(opts.Credentials).NotTo(BeNil())
	})
})
