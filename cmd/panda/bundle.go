package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/diagnostics"
)

var bundleCmd = &cobra.Command{
	Use:   "bundle [DEPLOYMENT]",
	Short: "Download a support bundle into the log directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		deployment := diagnostics.DefaultDeployment
		if len(args) == 1 {
			deployment = args[0]
		} else if e.spec != nil {
			deployment = e.spec.Name
		}

		collector, err := e.diagnostics(ctx)
		if err != nil {
			return err
		}
		file := collector.Collect(ctx, deployment, e.logDir)
		if file == "" {
			return fmt.Errorf("no support bundle collected for %s", deployment)
		}
		fmt.Println(file)
		return nil
	},
}
