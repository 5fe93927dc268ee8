package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dogmatiq/mergedeploy/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// loadTestResult is the outcome of a single load test submission.
type loadTestResult struct {
	Duration time.Duration
	Status   string
}

// loadTestStats summarizes the results of a load test.
type loadTestStats struct {
	Count      int
	Successful int
	Min        time.Duration
	Max        time.Duration
	Avg        time.Duration
}

func summarize(results []loadTestResult) loadTestStats {
	s := loadTestStats{Count: len(results)}
	if len(results) == 0 {
		return s
	}

	var total time.Duration
	s.Min = results[0].Duration

	for _, r := range results {
		total += r.Duration

		if r.Duration < s.Min {
			s.Min = r.Duration
		}

		if r.Duration > s.Max {
			s.Max = r.Duration
		}

		if r.Status == "SUCCESSFUL" {
			s.Successful++
		}
	}

	s.Avg = total / time.Duration(len(results))

	return s
}

// loadTestInput returns the input submitted by the i'th instance.
func loadTestInput(i int) []byte {
	data, err := json.Marshal(map[string]any{
		"tenantId": fmt.Sprintf("test%d", i),
		"values":   []string{"some value"},
	})
	if err != nil {
		panic(err)
	}

	return data
}

// runLoadTest submits n deployments concurrently and waits for all of them to
// finish.
func runLoadTest(ctx context.Context, c *apiClient, group string, n int) ([]loadTestResult, error) {
	var (
		m       sync.Mutex
		results = make([]loadTestResult, 0, n)
	)

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			start := time.Now()

			data, err := c.Submit(ctx, "", group, false, loadTestInput(i))
			if err != nil {
				return err
			}

			var d api.DeploymentResponse
			if err := json.Unmarshal(data, &d); err != nil {
				return err
			}

			m.Lock()
			defer m.Unlock()

			results = append(results, loadTestResult{
				Duration: time.Since(start),
				Status:   d.Status,
			})

			return nil
		})
	}

	return results, g.Wait()
}

func newLoadTestCommand(flags *globalFlags) *cobra.Command {
	var (
		instances int
		group     string
	)

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Submit many concurrent deployments and report their durations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if instances <= 0 {
				return fmt.Errorf("--instances must be positive")
			}

			c := &apiClient{Base: flags.server}

			results, err := runLoadTest(cmd.Context(), c, group, instances)
			if err != nil {
				return err
			}

			printStats(cmd.OutOrStdout(), summarize(results))
			return nil
		},
	}

	cmd.Flags().IntVar(&instances, "instances", 10, "number of concurrent deployments")
	cmd.Flags().StringVar(&group, "group", "", "group to deploy to, the server's first group if empty")

	return cmd
}

func printStats(w io.Writer, s loadTestStats) {
	fmt.Fprintf(w, "deployments: %d (%d successful)\n", s.Count, s.Successful)
	fmt.Fprintf(w, "min: %s\n", s.Min)
	fmt.Fprintf(w, "avg: %s\n", s.Avg)
	fmt.Fprintf(w, "max: %s\n", s.Max)
}
