package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/dogmatiq/mergedeploy/api"
	"github.com/spf13/cobra"
)

// apiClient is a client of the mergedeploy HTTP API.
type apiClient struct {
	Base string
	HTTP *http.Client
}

// Submit posts a deployment input.
//
// It returns the response body. If async is false, the body is the
// deployment in its terminal status.
func (c *apiClient) Submit(
	ctx context.Context,
	id, group string,
	async bool,
	input []byte,
) ([]byte, error) {
	q := url.Values{}
	if id != "" {
		q.Set("id", id)
	}
	if group != "" {
		q.Set("group", group)
	}
	if async {
		q.Set("async", strconv.FormatBool(async))
	}

	return c.do(ctx, http.MethodPost, "/deployments", q, input)
}

// Unlock evicts a deployment's ticket from its group's lock.
func (c *apiClient) Unlock(ctx context.Context, group, id string) error {
	_, err := c.do(
		ctx,
		http.MethodDelete,
		"/locks/"+url.PathEscape(group)+"/"+url.PathEscape(id),
		nil,
		nil,
	)
	return err
}

// do performs a request and returns the body of a successful response.
func (c *apiClient) do(
	ctx context.Context,
	method, path string,
	q url.Values,
	body []byte,
) ([]byte, error) {
	u := strings.TrimSuffix(c.Base, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode >= 300 {
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, res.StatusCode)
		}

		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, res.StatusCode)
	}

	return data, nil
}

func newSubmitCommand(flags *globalFlags) *cobra.Command {
	var (
		id    string
		group string
		async bool
	)

	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Submit a deployment, reading its JSON input from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				input []byte
				err   error
			)

			if len(args) == 0 || args[0] == "-" {
				input, err = io.ReadAll(cmd.InOrStdin())
			} else {
				input, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("unable to read input: %w", err)
			}

			c := &apiClient{Base: flags.server}

			data, err := c.Submit(cmd.Context(), id, group, async, input)
			if err != nil {
				return err
			}

			return writeIndented(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "deployment ID, generated by the server if empty")
	cmd.Flags().StringVar(&group, "group", "", "group to deploy to, the server's first group if empty")
	cmd.Flags().BoolVar(&async, "async", false, "return without waiting for the deployment to finish")

	return cmd
}

func newUnlockCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <group> <id>",
		Short: "Evict a deployment from its group's lock",
		Long: "Evict a deployment from its group's lock, regardless of whether it is " +
			"waiting or holding the lock. This unblocks a group whose lock holder has crashed.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &apiClient{Base: flags.server}

			if err := c.Unlock(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "evicted %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

func writeIndented(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}

	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
