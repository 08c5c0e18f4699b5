package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/cluster"
	"github.com/cuemby/panda/pkg/deploy"
	"github.com/cuemby/panda/pkg/task"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the OpenStack cluster",
}

var clusterCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the OpenStack cluster described by --cluster-spec",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if err := e.oms.Login(ctx); err != nil {
			return err
		}
		skipped, err := e.backend().DeployOpenstack(ctx, &deploy.State{Spec: e.spec})
		if err != nil {
			return err
		}
		if skipped {
			fmt.Printf("Cluster %s is already running, nothing to do\n", e.spec.Name)
			return nil
		}
		fmt.Printf("✓ Cluster %s is running\n", e.spec.Name)
		return nil
	},
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status [NAME]",
	Short: "Print the status of a cluster",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		name, err := clusterName(e, args)
		if err != nil {
			return err
		}
		if err := e.oms.Login(ctx); err != nil {
			return err
		}
		snap, err := e.reader.GetCluster(ctx, name)
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s\n", snap.Name, snap.Status)
		for _, g := range snap.NodeGroups {
			for _, in := range g.Instances {
				fmt.Printf("  %-20s %-24s %s\n", g.Name, in.Name, in.Status)
			}
		}
		if vip, err := e.reader.PrivateVIP(ctx, name); err == nil {
			fmt.Printf("Internal VIP: %s\n", vip)
		}
		if moids, err := cluster.ComputeClusterMoids(snap.NodeGroups); err == nil {
			fmt.Printf("Compute clusters: %s\n", strings.Join(moids, ", "))
		}
		return nil
	},
}

var clusterDeleteCmd = &cobra.Command{
	Use:   "delete [NAME]",
	Short: "Delete a cluster",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		name, err := clusterName(e, args)
		if err != nil {
			return err
		}
		if err := e.oms.Login(ctx); err != nil {
			return err
		}
		resp, err := e.oms.DeleteCluster(ctx, name)
		if err != nil {
			return err
		}
		if _, err := e.tracker.Validate(ctx, "delete cluster", resp, task.DefaultPolicy); err != nil {
			return err
		}
		fmt.Printf("✓ Cluster %s deleted\n", name)
		return nil
	},
}

var clusterRetryCmd = &cobra.Command{
	Use:   "retry [NAME]",
	Short: "Resubmit a failed cluster deployment",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		name, err := clusterName(e, args)
		if err != nil {
			return err
		}
		if err := e.oms.Login(ctx); err != nil {
			return err
		}
		resp, err := e.oms.RetryCluster(ctx, name)
		if err != nil {
			return err
		}
		if _, err := e.tracker.Validate(ctx, "retry cluster", resp, task.CreatePolicy); err != nil {
			return err
		}
		if err := e.reader.CheckCreationCompleted(ctx, name); err != nil {
			return err
		}
		fmt.Printf("✓ Cluster %s provisioning completed\n", name)
		return nil
	},
}

// clusterName is the NAME argument, else the name in --cluster-spec
func clusterName(e *env, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if err := e.requireSpec(); err != nil {
		return "", fmt.Errorf("a cluster NAME or --cluster-spec is required")
	}
	return e.spec.Name, nil
}

func init() {
	clusterCmd.AddCommand(clusterCreateCmd)
	clusterCmd.AddCommand(clusterStatusCmd)
	clusterCmd.AddCommand(clusterDeleteCmd)
	clusterCmd.AddCommand(clusterRetryCmd)
}
