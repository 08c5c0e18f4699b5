package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/panda/pkg/buildapi"
	"github.com/cuemby/panda/pkg/cluster"
	"github.com/cuemby/panda/pkg/config"
	"github.com/cuemby/panda/pkg/deploy"
	"github.com/cuemby/panda/pkg/diagnostics"
	"github.com/cuemby/panda/pkg/events"
	"github.com/cuemby/panda/pkg/health"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/metrics"
	"github.com/cuemby/panda/pkg/oms"
	"github.com/cuemby/panda/pkg/remote"
	"github.com/cuemby/panda/pkg/shell"
	"github.com/cuemby/panda/pkg/task"
	"github.com/cuemby/panda/pkg/types"
	"github.com/cuemby/panda/pkg/upgrade"
	"github.com/cuemby/panda/pkg/vsphere"
)

// env holds the clients of one command invocation
type env struct {
	cfg    *config.Run
	spec   *types.DeploymentSpec
	logDir string

	broker    *events.Broker
	collector *metrics.Collector
	metrics   *http.Server
	oms       *oms.Client
	ssh       *remote.Client
	tracker   *task.Tracker
	reader    *cluster.Reader
	vc        *vsphere.Client
}

// newEnv loads the configuration named by the persistent flags and creates
// the management server clients. Nothing is contacted yet.
func newEnv(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	specPath, _ := cmd.Flags().GetString("cluster-spec")
	envFile, _ := cmd.Flags().GetString("env-file")
	logDir, _ := cmd.Flags().GetString("log-dir")

	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logDir: logDir}
	if specPath != "" {
		if e.spec, err = config.LoadClusterSpec(specPath); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	e.broker = events.NewBroker(runID)
	e.broker.Start()
	go printProgress(e.broker.Subscribe())

	e.collector = metrics.NewCollector(filepath.Join(logDir, "metrics.prom"), 30*time.Second)
	e.collector.Start()
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		e.serveMetrics(addr)
	}

	// the management server accepts the vCenter credentials
	e.oms, err = oms.NewClient(oms.Config{
		Host:              cfg.HostIP,
		Username:          cfg.VCUser,
		Password:          cfg.VCPassword,
		RequestsPerSecond: 2,
		Burst:             4,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.ssh = remote.NewClient(remote.Config{Host: cfg.HostIP, User: cfg.Username, Password: cfg.Password})
	e.tracker = task.NewTracker(e.oms, task.WithPublisher(e.broker))
	e.reader = cluster.NewReader(e.oms)
	return e, nil
}

// Close releases every client and writes the final metrics snapshot
func (e *env) Close() {
	if e.vc != nil {
		_ = e.vc.Logout(context.Background())
	}
	if e.ssh != nil {
		_ = e.ssh.Close()
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.metrics.Shutdown(ctx)
		cancel()
	}
	e.collector.Stop()
	e.broker.Stop()
}

func (e *env) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	e.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := e.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func (e *env) vsphere(ctx context.Context) (*vsphere.Client, error) {
	if e.vc != nil {
		return e.vc, nil
	}
	vc, err := vsphere.Connect(ctx, vsphere.Config{Host: e.cfg.VCHost, User: e.cfg.VCUser, Password: e.cfg.VCPassword})
	if err != nil {
		return nil, err
	}
	e.vc = vc
	return vc, nil
}

func (e *env) appliance(ctx context.Context) (*deploy.Appliance, error) {
	vc, err := e.vsphere(ctx)
	if err != nil {
		return nil, err
	}
	liveness := health.NewFuncChecker("oms", e.oms.Login)
	return deploy.NewAppliance(e.cfg, e.logDir, vc, shell.NewLocal(), e.ssh, liveness, nil), nil
}

func (e *env) backend() *deploy.VIO {
	return deploy.NewVIO(e.oms, e.tracker, e.reader, e.ssh, vsphere.Thumbprint, e.cfg.VCHost)
}

func (e *env) upgrader() *upgrade.Controller {
	return upgrade.NewController(e.oms, e.tracker, e.reader, e.broker)
}

func (e *env) diagnostics(ctx context.Context) (*diagnostics.Collector, error) {
	opts := []diagnostics.Option{diagnostics.WithPublisher(e.broker)}
	if b := e.cfg.BundleUpload; b != nil {
		u, err := diagnostics.NewS3Uploader(ctx, diagnostics.S3Config{
			Bucket:          b.Bucket,
			Prefix:          b.Prefix,
			Region:          b.Region,
			Endpoint:        b.Endpoint,
			UsePathStyle:    b.UsePathStyle,
			AccessKeyID:     b.AccessKeyID,
			SecretAccessKey: b.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, diagnostics.WithUploader(u))
	}
	return diagnostics.NewCollector(e.oms, opts...), nil
}

// resolveArtifacts downloads the OVA of cfg.Build when no ova_path is set
// and every patch entry that names a build instead of a file.
func (e *env) resolveArtifacts(ctx context.Context) error {
	bc := buildapi.NewClient(e.cfg.BuildAPIURL)
	downloads := filepath.Join(e.logDir, "downloads")

	if e.cfg.OVAPath == "" && e.cfg.Build == config.LatestBuild {
		id, err := bc.LatestBuildID(ctx, e.cfg.Branch, "release", "")
		if err != nil {
			return err
		}
		log.Logger.Info().Str("branch", e.cfg.Branch).Int("build", id).Msg("Using latest build")
		e.cfg.Build = strconv.Itoa(id)
	}
	if e.cfg.OVAPath == "" && e.cfg.Build != "" {
		if err := os.MkdirAll(downloads, 0o755); err != nil {
			return err
		}
		ova, err := bc.DownloadDeliverable(ctx, e.cfg.Build, buildapi.OVASuffix, downloads)
		if err != nil {
			return err
		}
		e.cfg.OVAPath = ova
	}

	for i, p := range e.cfg.Patches {
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if _, _, err := buildapi.ParseBuildID(p); err != nil {
			return fmt.Errorf("patch %s is neither a file nor a build id", p)
		}
		if err := os.MkdirAll(downloads, 0o755); err != nil {
			return err
		}
		file, err := bc.DownloadDeliverable(ctx, p, buildapi.PatchSuffix, downloads)
		if err != nil {
			return err
		}
		e.cfg.Patches[i] = file
	}
	return nil
}

func (e *env) requireSpec() error {
	if e.spec == nil {
		return fmt.Errorf("--cluster-spec is required")
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printProgress(sub events.Subscriber) {
	for ev := range sub {
		switch ev.Type {
		case events.EventStepCompleted:
			fmt.Printf("✓ %s\n", ev.Step)
		case events.EventStepSkipped:
			fmt.Printf("✓ %s (already done)\n", ev.Step)
		case events.EventStepFailed:
			fmt.Printf("✗ %s: %s\n", ev.Step, ev.Message)
		case events.EventUpgradeSwitch:
			fmt.Printf("✓ switched %s\n", ev.Message)
		case events.EventBundleCollected:
			fmt.Printf("✓ support bundle %s\n", ev.Message)
		default:
			log.Logger.Debug().Str("event", string(ev.Type)).Str("step", ev.Step).Msg(ev.Message)
		}
	}
}
