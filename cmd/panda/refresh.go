package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/cluster"
	"github.com/cuemby/panda/pkg/config"
)

var clusterRefreshCmd = &cobra.Command{
	Use:   "refresh-spec",
	Short: "Fill vCenter settings and moids into --cluster-spec",
	Long: `Point the controller of the cluster spec at the configured vCenter,
look up the moids of the management and compute clusters and write the
result to --out (default: the spec file itself).

Examples:
  # DVS backend
  panda cluster refresh-spec --cluster-spec dvs.json \
    --compute-cluster compute1 --dvs vio-dvs

  # NSX-V backend
  panda cluster refresh-spec --cluster-spec nsxv.json \
    --compute-cluster compute1 --nsxv-manager 10.0.0.5 \
    --edge-dvs edge-dvs --edge-cluster edge`,
	RunE: runRefreshSpec,
}

func init() {
	f := clusterRefreshCmd.Flags()
	f.StringSlice("compute-cluster", nil, "Compute cluster names, in nodeAttributes order")
	f.String("dvs", "", "Default distributed switch (DVS backend)")
	f.String("nsxv-manager", "", "NSX-V manager address (NSX-V backend)")
	f.String("nsxv-user", "admin", "NSX-V manager user")
	f.String("edge-dvs", "", "Edge distributed switch (NSX-V backend)")
	f.String("edge-cluster", "", "Edge cluster (NSX-V backend)")
	f.String("glance-datastore", "", "Datastore backing glance images")
	f.String("out", "", "Output file (default: overwrite --cluster-spec)")

	clusterCmd.AddCommand(clusterRefreshCmd)
}

func runRefreshSpec(cmd *cobra.Command, args []string) error {
	computeClusters, _ := cmd.Flags().GetStringSlice("compute-cluster")
	dvs, _ := cmd.Flags().GetString("dvs")
	nsxvManager, _ := cmd.Flags().GetString("nsxv-manager")
	nsxvUser, _ := cmd.Flags().GetString("nsxv-user")
	edgeDVS, _ := cmd.Flags().GetString("edge-dvs")
	edgeCluster, _ := cmd.Flags().GetString("edge-cluster")
	glance, _ := cmd.Flags().GetString("glance-datastore")
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out, _ = cmd.Flags().GetString("cluster-spec")
	}

	ctx, cancel := signalContext()
	defer cancel()

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.requireSpec(); err != nil {
		return err
	}

	vc, err := e.vsphere(ctx)
	if err != nil {
		return err
	}
	spec, cfg := e.spec, e.cfg

	if err := cluster.RefreshVCConfig(spec, cfg.VCHost, cfg.VCUser, cfg.VCPassword); err != nil {
		return err
	}
	if err := cluster.RefreshMgmtMoid(ctx, spec, vc, cfg.Datacenter, cfg.Cluster); err != nil {
		return err
	}

	if len(computeClusters) > 0 {
		switch cluster.NeutronBackend(spec) {
		case cluster.BackendNSXV:
			if nsxvManager != "" {
				password := os.Getenv(config.EnvNSXVPassword)
				if err := cluster.RefreshNSXVConfig(spec, nsxvManager, nsxvUser, password); err != nil {
					return err
				}
			}
			err = cluster.RefreshNSXVMoids(ctx, spec, vc, cluster.NSXVTopology{
				Datacenter:      cfg.Datacenter,
				ComputeClusters: computeClusters,
				GlanceDatastore: glance,
				EdgeDVS:         edgeDVS,
				EdgeCluster:     edgeCluster,
				VCenterHost:     cfg.VCHost,
			})
		default:
			err = cluster.RefreshDVSMoids(ctx, spec, vc, cfg.Datacenter, computeClusters, dvs)
		}
		if err != nil {
			return err
		}
	}
	if cfg.Build != "" && cfg.Build != config.LatestBuild {
		cluster.RefreshSyslogTag(spec, cfg.Build)
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cluster spec: %v", err)
	}
	if err := os.WriteFile(out, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write cluster spec: %v", err)
	}
	fmt.Printf("✓ Cluster spec written to %s\n", out)
	return nil
}
