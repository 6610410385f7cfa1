package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stillshot/stillshot/internal/agent"
	"github.com/stillshot/stillshot/pkg/utils"
)

func newFlushCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Upload all pending captures once, without using the camera",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := setup(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			a, err := rt.newAgent(nil)
			if err != nil {
				return err
			}

			if err := rt.sink.Connect(ctx); err != nil {
				rt.logger.Warn("storage check failed, attempting uploads anyway", "error", err)
			}

			report, err := a.Flush(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printDrain(out, report)
			stats := rt.sink.Stats()
			fmt.Fprintf(out, "uploaded %s in %d requests, average latency %s\n",
				utils.FormatBytes(stats.BytesUploaded), stats.Requests, stats.AverageLatency)
			return nil
		},
	}
}

func printDrain(out io.Writer, r agent.DrainReport) {
	fmt.Fprintf(out, "pending: %d, uploaded: %d, failed: %d", r.Pending, r.Uploaded, r.Failed)
	if r.Skipped > 0 {
		fmt.Fprintf(out, ", skipped: %d", r.Skipped)
	}
	fmt.Fprintln(out)
}
