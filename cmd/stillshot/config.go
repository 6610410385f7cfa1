package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stillshot/stillshot/internal/config"
	"github.com/stillshot/stillshot/pkg/errors"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration",
	}
	cmd.AddCommand(newConfigValidateCmd(opts), newConfigInitCmd())
	return cmd
}

func newConfigValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			cmd.Printf("configuration OK: camera %s (%s), every %s to %s/%s\n",
				cfg.Camera.ID, cfg.NormalizedDriver(), cfg.Interval(), cfg.Storage.Endpoint, cfg.Storage.Bucket)
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write a config file populated with defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return errors.NewError(errors.ErrCodeConfigSave, "config file already exists (use --force to overwrite)").
					WithContext("path", path)
			}

			cfg := config.NewDefault()
			cfg.Camera.ID = config.PlaceholderCameraID
			if err := cfg.SaveToFile(path); err != nil {
				return err
			}

			cmd.Printf("wrote %s; set camera.id and the storage section before starting the agent\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
