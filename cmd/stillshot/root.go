package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stillshot/stillshot/internal/config"
	"github.com/stillshot/stillshot/pkg/errors"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

// Process exit codes.
const (
	exitOK         = 0
	exitConfig     = 1
	exitCamera     = 2
	exitFilesystem = 3
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	logLevel   string
	queueDir   string
	driver     string

	// runID tags every log line of this process
	runID string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{runID: uuid.NewString()}

	root := &cobra.Command{
		Use:     "stillshot",
		Short:   "Periodic still-image capture agent with durable upload queue",
		Version: Version,
		Long: `stillshot captures one still image from a locally attached camera every
interval and uploads it to an S3-compatible bucket under
cameras/{camera_id}/{timestamp}.jpg. Captures are written to a local
fallback directory first and removed only after the upload is confirmed,
so nothing is lost while the network or storage is down.

Configuration comes from a YAML file, overlaid by environment variables
(CAMERA_ID, S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_BUCKET, ...),
overlaid by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default "+config.DefaultPath+" if present)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	flags.StringVar(&opts.queueDir, "queue-dir", "", "Fallback directory for pending uploads")
	flags.StringVar(&opts.driver, "driver", "", "Camera driver: module or usb")

	root.AddCommand(
		newRunCmd(opts),
		newSnapCmd(opts),
		newFlushCmd(opts),
		newQueueCmd(opts),
		newImportCmd(opts),
		newConfigCmd(opts),
	)

	return root
}

// execute runs the CLI and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	switch errors.GetCategory(errors.CodeOf(err)) {
	case errors.CategoryCamera:
		return exitCamera
	case errors.CategoryFilesystem:
		return exitFilesystem
	default:
		return exitConfig
	}
}

// loadConfig reads the file, the environment and the flags, in increasing
// order of precedence. It does not validate.
func (o *globalOptions) loadConfig() (*config.Configuration, error) {
	path, required := o.configPath, true
	if path == "" {
		path, required = config.DefaultPath, false
	}

	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Global.LogLevel = o.logLevel
	}
	if o.queueDir != "" {
		cfg.Capture.QueueDir = o.queueDir
	}
	if o.driver != "" {
		cfg.Camera.Driver = o.driver
	}
	return cfg, nil
}
