package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stillshot/stillshot/internal/camera"
	"github.com/stillshot/stillshot/internal/queue"
	"github.com/stillshot/stillshot/pkg/errors"
	"github.com/stillshot/stillshot/pkg/utils"
)

// openQueue opens the fallback directory without requiring storage or
// camera settings.
func openQueue(opts *globalOptions) (*queue.Queue, string, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, "", err
	}
	q, err := queue.Open(cfg.Capture.QueueDir, nil)
	if err != nil {
		return nil, "", err
	}
	return q, cfg.Camera.ID, nil
}

func newQueueCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List captures waiting to be uploaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, cameraID, err := openQueue(opts)
			if err != nil {
				return err
			}

			seq, n, err := q.ListPending(cameraID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if n == 0 {
				fmt.Fprintf(out, "No pending uploads in %s\n", q.Dir())
				return nil
			}

			fmt.Fprintf(out, "Pending uploads in %s (%d):\n\n", q.Dir(), n)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tSIZE")
			fmt.Fprintln(w, "---------\t----")
			var total int64
			for rec := range seq {
				size := "?"
				if info, err := os.Stat(rec.LocalPath); err == nil {
					size = utils.FormatBytes(info.Size())
					total += info.Size()
				}
				fmt.Fprintf(w, "%s\t%s\n", rec.Timestamp, size)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nTotal: %s\n", utils.FormatBytes(total))
			return nil
		},
	}
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Add an existing JPEG to the upload queue",
		Long: `Import copies FILE into the fallback directory so the next drain uploads
it. The capture timestamp defaults to the file's modification time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeFilesystem, "failed to read image").WithContext("path", path)
			}
			if !camera.IsJPEG(data) {
				return errors.NewError(errors.ErrCodeInvalidState, "not a JPEG image").WithContext("path", path)
			}

			ts := timestamp
			if ts == "" {
				info, err := os.Stat(path)
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeFilesystem, "failed to stat image").WithContext("path", path)
				}
				ts = info.ModTime().Format(camera.TimestampLayout)
			}
			if !camera.IsTimestamp(ts) {
				return errors.NewError(errors.ErrCodeInvalidState, "timestamp must use the layout YYYY-MM-DDTHH-MM-SS").
					WithContext("timestamp", ts)
			}

			q, cameraID, err := openQueue(opts)
			if err != nil {
				return err
			}
			rec, err := q.Enqueue(data, ts, cameraID)
			if err != nil {
				return err
			}

			cmd.Printf("queued %s as %s\n", path, rec.LocalPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&timestamp, "timestamp", "t", "", "Capture timestamp (YYYY-MM-DDTHH-MM-SS)")
	return cmd
}
