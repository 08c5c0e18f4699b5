package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/config"
	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/health"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/remote"
	"github.com/cuemby/panda/pkg/shell"
	"github.com/cuemby/panda/pkg/vsphere"
)

// OMJSPath is the management server properties file
const OMJSPath = "/opt/vmware/vio/etc/omjs.properties"

// DefaultAppliancePattern matches management server vApps of any version
var DefaultAppliancePattern = regexp.MustCompile(`^VMware-OpenStack.*\d$`)

// Inventory finds and removes vApps
type Inventory interface {
	FindVApp(ctx context.Context, pattern *regexp.Regexp) (*vsphere.VApp, error)
	RemoveVApp(ctx context.Context, app *vsphere.VApp) error
}

// Remote runs commands on the appliance
type Remote interface {
	Run(ctx context.Context, cmd string, opts remote.Options) (*remote.Result, error)
	Output(ctx context.Context, cmd string) (string, error)
	CopyFile(ctx context.Context, src, destDir string) (string, error)
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Appliance deploys and manages the management server vApp
type Appliance struct {
	run      *config.Run
	logDir   string
	vc       Inventory
	shell    shell.Runner
	remote   Remote
	liveness health.Checker
	sleep    Sleeper
	logger   zerolog.Logger
}

// NewAppliance creates an appliance manager. liveness reports whether the
// management service answers.
func NewAppliance(run *config.Run, logDir string, vc Inventory, sh shell.Runner, rc Remote, liveness health.Checker, sleep Sleeper) *Appliance {
	if sleep == nil {
		sleep = sleepContext
	}
	return &Appliance{
		run:      run,
		logDir:   logDir,
		vc:       vc,
		shell:    sh,
		remote:   rc,
		liveness: liveness,
		sleep:    sleep,
		logger:   log.WithComponent("appliance"),
	}
}

// VAppName returns the name the vApp gets from its OVA file
func (a *Appliance) VAppName() string {
	return strings.TrimSuffix(path.Base(a.run.OVAPath), ".ova")
}

// Pattern matches the deployed vApp
func (a *Appliance) Pattern() *regexp.Regexp {
	if a.run.OVAPath == "" {
		return DefaultAppliancePattern
	}
	return regexp.MustCompile("^" + regexp.QuoteMeta(a.VAppName()))
}

// Find returns the deployed vApp, or nil when there is none
func (a *Appliance) Find(ctx context.Context) (*vsphere.VApp, error) {
	app, err := a.vc.FindVApp(ctx, a.Pattern())
	if errdefs.IsNotFound(err) {
		return nil, nil
	}
	return app, err
}

// OVFCommand returns the ovftool invocation deploying and powering on the
// appliance.
func (a *Appliance) OVFCommand() string {
	r := a.run
	target := url.URL{
		Scheme: "vi",
		User:   url.UserPassword(r.VCUser, r.VCPassword),
		Host:   r.VCHost,
		Path:   "/" + r.Datacenter + "/host/" + r.Cluster,
	}

	args := []string{
		fmt.Sprintf("%q", r.Timing.Ovftool),
		fmt.Sprintf(`--X:"logFile"="%s/deploy_oms.log"`, a.logDir),
		`--vService:"installation"="com.vmware.vim.vsm:extension_vservice"`,
		"--acceptAllEulas", "--noSSLVerify", "--powerOn",
		"--datastore=" + r.Datastore,
		"-dm=thin",
		fmt.Sprintf(`--net:"VIO Management Server Network"="%s"`, r.Network),
		"--prop:vami.ip0.management-server=" + r.HostIP,
		"--prop:vami.netmask0.management-server=" + r.Netmask,
		"--prop:vami.gateway.management-server=" + r.Gateway,
	}
	if r.DNS != "" {
		args = append(args, "--prop:vami.DNS.management-server="+r.DNS)
	}
	args = append(args, "--prop:viouser_passwd="+r.Password)
	if r.NTPServer != "" {
		args = append(args, "--prop:ntpServer="+r.NTPServer)
	}
	args = append(args, r.OVAPath, fmt.Sprintf("%q", target.String()))
	return strings.Join(args, " ")
}

// Deploy deploys the appliance unless it already exists, retrying ovftool
// once after the cooldown. Either way it then waits for the management
// service, which also opens the API session.
func (a *Appliance) Deploy(ctx context.Context) (bool, error) {
	app, err := a.Find(ctx)
	if err != nil {
		return false, err
	}
	if app != nil {
		a.logger.Info().Str("vapp", app.Name).Msg("vApp already exists. Skip deploying vApp")
		return true, a.WaitForService(ctx)
	}

	if a.run.OVAPath == "" {
		return false, &errdefs.NotSupportedError{Reason: "no OVA to deploy"}
	}
	if _, err := os.Stat(a.run.Timing.Ovftool); err != nil {
		a.logger.Error().Str("path", a.run.Timing.Ovftool).Msg("ovftool not found")
		return false, &errdefs.NotSupportedError{Reason: "ovftool not found"}
	}

	cmd := a.OVFCommand()
	secrets := []string{a.run.Password, a.run.VCPassword, strings.TrimPrefix(url.UserPassword("", a.run.VCPassword).String(), ":")}
	a.logger.Info().Str("ova", a.run.OVAPath).Msg("Start to deploy management server")

	res, err := a.shell.Run(ctx, cmd, shell.Options{Dir: a.logDir, Redact: secrets})
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		a.logger.Warn().Int("exit_code", res.ExitCode).Dur("cooldown", a.run.Timing.ApplianceCooldown).
			Msg("Failed to deploy vApp. Retry deploying after cooldown")
		if err := a.sleep(ctx, a.run.Timing.ApplianceCooldown); err != nil {
			return false, err
		}
		if _, err := a.shell.Run(ctx, cmd, shell.Options{Dir: a.logDir, RaiseOnError: true, Redact: secrets}); err != nil {
			return false, err
		}
	}

	if err := a.WaitForService(ctx); err != nil {
		return false, err
	}
	a.logger.Info().Msg("Successfully deployed management server")
	return false, nil
}

// WaitForService waits until the management service accepts logins
func (a *Appliance) WaitForService(ctx context.Context) error {
	a.logger.Info().Msg("Waiting for management service")
	err := health.Wait(ctx, "management service", a.liveness, health.Config{
		Delay:   a.run.Timing.HealthDelay,
		Timeout: a.run.Timing.HealthTimeout,
	})
	if err != nil {
		return err
	}
	a.logger.Info().Msg("Management service is running")
	return nil
}

// Configure sets omjs.properties values, restarts the management service
// and waits for it. It is a no-op without properties.
func (a *Appliance) Configure(ctx context.Context, properties map[string]string) (bool, error) {
	if len(properties) == 0 {
		return true, nil
	}
	a.logger.Info().Interface("properties", properties).Msg("Update omjs.properties")

	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sudo := remote.Options{Sudo: true, RaiseOnError: true}
	for _, k := range keys {
		cmd := fmt.Sprintf(`sed -i "s|%s.*|%s = %s|g" %s`, k, k, properties[k], OMJSPath)
		if _, err := a.remote.Run(ctx, cmd, sudo); err != nil {
			return false, err
		}
	}
	if _, err := a.remote.Run(ctx, "restart oms", sudo); err != nil {
		return false, err
	}
	return false, a.WaitForService(ctx)
}

// Remove powers off and destroys the appliance. A missing vApp is not an
// error.
func (a *Appliance) Remove(ctx context.Context) error {
	app, err := a.Find(ctx)
	if err != nil {
		return err
	}
	if app == nil {
		a.logger.Info().Str("pattern", a.Pattern().String()).Msg("vApp not found")
		return nil
	}
	a.logger.Info().Str("vapp", app.Name).Msg("Start to remove vApp")
	return a.vc.RemoveVApp(ctx, app)
}

// Version returns the product version of the deployed appliance
func (a *Appliance) Version(ctx context.Context) (string, error) {
	app, err := a.Find(ctx)
	if err != nil {
		return "", err
	}
	if app == nil {
		return "", &errdefs.NotFoundError{Kind: "vApp matching", Name: a.Pattern().String()}
	}
	if app.Version == "" {
		return "", errors.New("vApp " + app.Name + " reports no product version")
	}
	return app.Version, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
