package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// runID identifies this invocation in logs, events and support bundles
var runID = uuid.NewString()

var logFile *os.File

func main() {
	err := rootCmd.Execute()
	if logFile != nil {
		_ = logFile.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for failures the driver never retries and 1 for the rest,
// such as transport errors, which a wrapping pipeline may retry.
func exitCode(err error) int {
	if errdefs.Fatal(err) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "panda",
	Short: "Panda - VMware Integrated OpenStack deployment driver",
	Long: `Panda deploys the VIO management server appliance into vCenter,
creates an OpenStack cluster through it, applies patches, runs blue/green
upgrades and collects support bundles.

Every step checks whether its work is already done, so an interrupted run
can be started again with the same configuration.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Panda version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "panda.yaml", "Run configuration file (YAML)")
	flags.String("cluster-spec", "", "OpenStack cluster spec (JSON)")
	flags.String("env-file", "", "File of KEY=value secrets loaded into the environment")
	flags.String("log-dir", "./panda-logs", "Directory for logs, metrics and support bundles")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Write logs as JSON")
	flags.Bool("log-file", false, "Also write JSON logs to <log-dir>/panda.log")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(applianceCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(bundleCmd)
}

func initLogging(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOutput, _ := cmd.Flags().GetBool("log-json")
	toFile, _ := cmd.Flags().GetBool("log-file")
	logDir, _ := cmd.Flags().GetString("log-dir")

	cfg := log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: jsonOutput,
		Output:     os.Stderr,
	}
	if toFile {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %v", err)
		}
		f, err := os.OpenFile(filepath.Join(logDir, "panda.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %v", err)
		}
		logFile = f
		cfg.File = f
	}

	log.Init(cfg)
	log.SetRunID(runID)
	return nil
}
