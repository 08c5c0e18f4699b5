package deploy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/panda/pkg/cluster"
	"github.com/cuemby/panda/pkg/config"
	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/oms"
	"github.com/cuemby/panda/pkg/remote"
	"github.com/cuemby/panda/pkg/shell"
	"github.com/cuemby/panda/pkg/task"
	"github.com/cuemby/panda/pkg/types"
	"github.com/cuemby/panda/pkg/vsphere"
)

type fakeInventory struct {
	app      *vsphere.VApp
	patterns []string
	removed  []string
}

func (f *fakeInventory) FindVApp(ctx context.Context, pattern *regexp.Regexp) (*vsphere.VApp, error) {
	f.patterns = append(f.patterns, pattern.String())
	if f.app == nil || !pattern.MatchString(f.app.Name) {
		return nil, &errdefs.NotFoundError{Kind: "vApp matching", Name: pattern.String()}
	}
	return f.app, nil
}

func (f *fakeInventory) RemoveVApp(ctx context.Context, app *vsphere.VApp) error {
	f.removed = append(f.removed, app.Name)
	return nil
}

type shellCall struct {
	cmd  string
	opts shell.Options
}

type fakeShell struct {
	exitCodes []int
	calls     []shellCall
}

func (f *fakeShell) Run(ctx context.Context, cmd string, opts shell.Options) (*shell.Result, error) {
	f.calls = append(f.calls, shellCall{cmd, opts})
	code := 0
	if len(f.exitCodes) > 0 {
		code, f.exitCodes = f.exitCodes[0], f.exitCodes[1:]
	}
	res := &shell.Result{ExitCode: code}
	if opts.RaiseOnError && code != 0 {
		return res, &errdefs.CommandError{Command: cmd, ExitCode: code}
	}
	return res, nil
}

type remoteCall struct {
	cmd  string
	opts remote.Options
}

// fakeRemote answers commands by prefix
type fakeRemote struct {
	outputs map[string]string
	fail    map[string]int
	calls   []remoteCall
	copied  []string
}

func (f *fakeRemote) Run(ctx context.Context, cmd string, opts remote.Options) (*remote.Result, error) {
	f.calls = append(f.calls, remoteCall{cmd, opts})
	for prefix, status := range f.fail {
		if strings.HasPrefix(cmd, prefix) {
			res := &remote.Result{ExitStatus: status}
			if opts.RaiseOnError {
				return res, &errdefs.RemoteError{Host: "oms", Command: cmd, ExitStatus: status}
			}
			return res, nil
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(cmd, prefix) {
			return &remote.Result{Output: out}, nil
		}
	}
	return &remote.Result{}, nil
}

func (f *fakeRemote) Output(ctx context.Context, cmd string) (string, error) {
	res, err := f.Run(ctx, cmd, remote.Options{RaiseOnError: true})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

func (f *fakeRemote) CopyFile(ctx context.Context, src, destDir string) (string, error) {
	f.copied = append(f.copied, src)
	return destDir + "/" + filepath.Base(src), nil
}

func (f *fakeRemote) commands() []string {
	cmds := make([]string, len(f.calls))
	for i, c := range f.calls {
		cmds[i] = c.cmd
	}
	return cmds
}

type fakeClusterAPI struct {
	requests    []string
	planStatus  int
	planNetwork string
	vcStatus    int
	vc          *oms.ComputeVC
}

func accepted() *oms.Response {
	h := http.Header{}
	h.Set("Location", "https://oms:8443/oms/api/task/12")
	return &oms.Response{StatusCode: http.StatusAccepted, Header: h}
}

func (f *fakeClusterAPI) CreateCluster(ctx context.Context, spec *types.DeploymentSpec) (*oms.Response, error) {
	f.requests = append(f.requests, "POST clusters")
	return accepted(), nil
}

func (f *fakeClusterAPI) CreatePlan(ctx context.Context, spec *types.DeploymentSpec) (*oms.Response, error) {
	f.requests = append(f.requests, "PUT clusters/plan")
	f.planNetwork = spec.Network("DATA_NETWORK")
	status := f.planStatus
	if status == 0 {
		status = http.StatusOK
	}
	return &oms.Response{StatusCode: status, Body: []byte(`{"placement":"generated"}`)}, nil
}

func (f *fakeClusterAPI) AddComputeVC(ctx context.Context, vc oms.ComputeVC) (*oms.Response, error) {
	f.requests = append(f.requests, "POST vc")
	f.vc = &vc
	status := f.vcStatus
	if status == 0 {
		status = http.StatusOK
	}
	return &oms.Response{StatusCode: status}, nil
}

type fakeValidator struct {
	ops []string
	err error
}

func (f *fakeValidator) Validate(ctx context.Context, operation string, resp *oms.Response, policy task.Policy) (string, error) {
	f.ops = append(f.ops, operation)
	return "12", f.err
}

// fakeReader answers HasStatus from answers in order, then with running
type fakeReader struct {
	answers []bool
	running bool
	cause   cluster.Cause
	asked   int
}

func (f *fakeReader) HasStatus(ctx context.Context, name string, statuses ...types.ClusterStatus) (bool, error) {
	f.asked++
	if len(f.answers) > 0 {
		answer := f.answers[0]
		f.answers = f.answers[1:]
		return answer, nil
	}
	return f.running, nil
}

func (f *fakeReader) ClassifyNodeFailure(ctx context.Context, name string) (cluster.Cause, error) {
	return f.cause, nil
}

type fakeDiagnostics struct {
	subjects []string
}

func (f *fakeDiagnostics) Collect(ctx context.Context, deployment, dir string) string {
	f.subjects = append(f.subjects, deployment)
	return ""
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func testRun(t *testing.T) *config.Run {
	t.Helper()
	ovftool := filepath.Join(t.TempDir(), "ovftool")
	require.NoError(t, os.WriteFile(ovftool, []byte("#!/bin/sh\n"), 0o755))

	run := &config.Run{
		OVAPath:        "/images/VMware-OpenStack-2.0.0.3037963_OVF10.ova",
		Username:       "viouser",
		Password:       "vmware",
		HostIP:         "192.168.111.151",
		Netmask:        "255.255.255.0",
		Gateway:        "192.168.111.1",
		Network:        "VM Network",
		VCHost:         "192.168.111.130",
		VCUser:         "Administrator@vsphere.local",
		VCPassword:     "secret",
		Datacenter:     "vio-datacenter",
		Cluster:        "mgmt_cluster",
		Datastore:      "vdnetSharedStorage",
		PublicVIPPool:  []string{"192.168.112.201", "192.168.112.202"},
		PrivateVIPPool: []string{"192.168.111.201", "192.168.111.202"},
		Timing: config.Timing{
			Ovftool:       ovftool,
			HealthDelay:   time.Millisecond,
			HealthTimeout: time.Second,
		},
	}
	run.ApplyDefaults()
	return run
}

func testSpec(backend, vcenter string) *types.DeploymentSpec {
	return &types.DeploymentSpec{
		Name:       "VIO",
		Attributes: map[string]any{"plan": ""},
		NetworkConfig: map[string]any{
			"MGT_NETWORK":  "mgmt-pg",
			"DATA_NETWORK": "data-pg",
		},
		NodeGroups: []types.NodeGroup{
			{
				Name: "ControlPlane",
				Role: types.RoleController,
				Attributes: map[string]any{
					"neutron_backend":  backend,
					"vcenter_ip":       vcenter,
					"vcenter_user":     "admin",
					"vcenter_password": "pw",
					"vcenter_insecure": "true",
				},
			},
		},
	}
}

func errProbe(fail int) func(ctx context.Context) error {
	n := 0
	return func(ctx context.Context) error {
		n++
		if n <= fail {
			return fmt.Errorf("login refused")
		}
		return nil
	}
}
