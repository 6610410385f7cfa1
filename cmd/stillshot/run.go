package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture loop until interrupted (default)",
		Long: `Run connects to storage, opens the camera and then, every interval,
uploads any pending captures, takes a new still and uploads it.
SIGINT or SIGTERM stops the loop after the current step.

Exit codes: 0 graceful shutdown, 1 invalid configuration, 2 camera
unavailable, 3 fallback directory not usable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts)
		},
	}
}

func runAgent(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()

	rt, err := setup(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	a, err := rt.newAgent(newSource(rt.cfg, rt.logger))
	if err != nil {
		return err
	}

	rt.logger.Info("starting stillshot",
		"version", Version,
		"camera_id", rt.cfg.Camera.ID,
		"driver", rt.cfg.NormalizedDriver(),
		"interval", rt.cfg.Interval(),
		"bucket", rt.cfg.Storage.Bucket)

	return a.Run(ctx)
}

func newSnapCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snap",
		Short: "Upload pending captures, take one still, upload it and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := setup(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			a, err := rt.newAgent(newSource(rt.cfg, rt.logger))
			if err != nil {
				return err
			}

			report, err := a.RunOnce(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printDrain(out, report.Drain)
			if report.CaptureErr != nil {
				return report.CaptureErr
			}
			if report.Captured == "" {
				fmt.Fprintln(out, "interrupted before capture")
				return nil
			}
			status := "queued for retry"
			if report.Uploaded {
				status = "uploaded"
			}
			fmt.Fprintf(out, "capture %s: %s\n", report.Captured, status)
			return nil
		},
	}
}
