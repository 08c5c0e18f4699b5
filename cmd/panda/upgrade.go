package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/deploy"
	"github.com/cuemby/panda/pkg/types"
	"github.com/cuemby/panda/pkg/upgrade"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [BLUE]",
	Short: "Run a blue/green upgrade of the cluster",
	Long: `Provision a green cluster from BLUE (default: the --cluster-spec name),
migrate the data and switch over. Green clusters are named UPGRADE<n>;
--index is the number of upgrades already done, so the second upgrade of a
deployment is run with --index 1 and BLUE UPGRADE1.

Examples:
  # First upgrade
  panda upgrade -c panda.yaml --cluster-spec cluster.json

  # Second upgrade
  panda upgrade UPGRADE1 --index 1

  # Resubmit the provisioning of UPGRADE1
  panda upgrade VIO --index 1 --retry`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().Int("index", 0, "Number of upgrades already done")
	upgradeCmd.Flags().Bool("retry", false, "Retry the provisioning of the last green cluster")
	upgradeCmd.Flags().String("target-version", "", "Version being upgraded to (default: the appliance version)")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	index, _ := cmd.Flags().GetInt("index")
	retry, _ := cmd.Flags().GetBool("retry")
	if index < 0 || (retry && index == 0) {
		return fmt.Errorf("--index must be positive with --retry and not negative otherwise")
	}

	ctx, cancel := signalContext()
	defer cancel()

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	blue, err := clusterName(e, args)
	if err != nil {
		return err
	}

	version, _ := cmd.Flags().GetString("target-version")
	if version == "" {
		version = e.cfg.Version
	}
	if version == "" {
		a, err := e.appliance(ctx)
		if err != nil {
			return err
		}
		if version, err = a.Version(ctx); err != nil {
			return err
		}
	}

	req := upgrade.Request{
		Version:       version,
		AdminUser:     e.cfg.AdminUser,
		AdminPassword: e.cfg.AdminPassword,
	}
	if upgrade.UsesVIPs(version) {
		// the VIPs of upgrade n are entry n-1 of the pools
		vipIndex := index
		if retry {
			vipIndex--
		}
		state := &deploy.State{VIPIndex: vipIndex}
		if req.PublicVIP, req.PrivateVIP, err = state.NextVIPs(e.cfg.PublicVIPPool, e.cfg.PrivateVIPPool); err != nil {
			return err
		}
	}

	if err := e.oms.Login(ctx); err != nil {
		return err
	}
	c := e.upgrader()
	c.SetIndex(index)

	var uc types.UpgradeContext
	if retry {
		uc, err = c.Retry(ctx, blue, req)
	} else {
		uc, err = c.Upgrade(ctx, blue, req)
	}
	if err != nil {
		return err
	}
	fmt.Printf("✓ Upgraded %s to %s\n", uc.Blue, uc.Green)
	return nil
}
