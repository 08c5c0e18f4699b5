package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/deploy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an end-to-end deployment",
	Long: `Deploy the management server, configure it, create the OpenStack
cluster, apply every configured patch (upgrading after vio-upgrade-*
patches) and collect a support bundle.

Examples:
  # Appliance and cluster
  panda run -c panda.yaml --cluster-spec cluster.json

  # Secrets from a file
  panda run -c panda.yaml --cluster-spec cluster.json --env-file .env`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.resolveArtifacts(ctx); err != nil {
		return err
	}
	appliance, err := e.appliance(ctx)
	if err != nil {
		return err
	}
	collector, err := e.diagnostics(ctx)
	if err != nil {
		return err
	}

	seq := &deploy.Sequencer{
		Run:         e.cfg,
		LogDir:      e.logDir,
		Appliance:   appliance,
		Backend:     e.backend(),
		Patcher:     deploy.NewPatcher(e.ssh),
		Upgrader:    e.upgrader(),
		Diagnostics: collector,
		Events:      e.broker,
	}

	fmt.Printf("Starting run %s\n", runID)
	state := &deploy.State{Spec: e.spec}
	if err := seq.Execute(ctx, state); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✓ Run completed successfully")
	fmt.Printf("  Version: %s\n", state.Version)
	if state.ActiveCluster() != "" {
		fmt.Printf("  Cluster: %s\n", state.ActiveCluster())
	}
	return nil
}
