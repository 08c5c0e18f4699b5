package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var applianceCmd = &cobra.Command{
	Use:   "appliance",
	Short: "Manage the management server appliance",
}

var applianceDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the appliance unless it already exists",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		a, err := e.appliance(ctx)
		if err != nil {
			return err
		}
		skipped, err := a.Deploy(ctx)
		if err != nil {
			return err
		}
		if skipped {
			fmt.Println("✓ Appliance already deployed")
			return nil
		}

		configure, _ := cmd.Flags().GetBool("configure")
		if configure {
			if _, err := a.Configure(ctx, e.cfg.OMJSProperties); err != nil {
				return err
			}
		}
		fmt.Printf("✓ Appliance %s deployed\n", a.VAppName())
		return nil
	},
}

var applianceRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Power off and destroy the appliance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		a, err := e.appliance(ctx)
		if err != nil {
			return err
		}
		if err := a.Remove(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Appliance removed")
		return nil
	},
}

var applianceVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the product version of the deployed appliance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		a, err := e.appliance(ctx)
		if err != nil {
			return err
		}
		version, err := a.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	},
}

func init() {
	applianceCmd.AddCommand(applianceDeployCmd)
	applianceCmd.AddCommand(applianceRemoveCmd)
	applianceCmd.AddCommand(applianceVersionCmd)

	applianceDeployCmd.Flags().Bool("configure", true, "Apply omjs_properties after deploying")
}
