package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/deploy"
)

var patchCmd = &cobra.Command{
	Use:   "patch [FILE|BUILD]...",
	Short: "Apply patches to the management server",
	Long: `Copy each patch to the appliance, install it and check that it is
reported as installed. Without arguments the patches of the configuration
are applied. An argument that is not a file is looked up as a build id.

No upgrade is started; use "panda upgrade" after a vio-upgrade-* patch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if len(args) > 0 {
			e.cfg.Patches = args
		}
		if len(e.cfg.Patches) == 0 {
			return fmt.Errorf("no patches to apply")
		}
		if err := e.resolveArtifacts(ctx); err != nil {
			return err
		}

		p := deploy.NewPatcher(e.ssh)
		for _, file := range e.cfg.Patches {
			if err := p.Apply(ctx, file); err != nil {
				return err
			}
			fmt.Printf("✓ %s installed\n", file)
		}
		return nil
	},
}
