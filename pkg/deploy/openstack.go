package deploy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/cluster"
	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/oms"
	"github.com/cuemby/panda/pkg/task"
	"github.com/cuemby/panda/pkg/types"
)

// VCenterPort is the port compute vCenters are registered with
const VCenterPort = 443

// OpenstackBackend brings up an OpenStack cluster described by the state.
// skipped is true when the cluster was already running.
type OpenstackBackend interface {
	DeployOpenstack(ctx context.Context, state *State) (skipped bool, err error)
}

// ClusterAPI is the part of the OMS client used to create clusters
type ClusterAPI interface {
	CreateCluster(ctx context.Context, spec *types.DeploymentSpec) (*oms.Response, error)
	CreatePlan(ctx context.Context, spec *types.DeploymentSpec) (*oms.Response, error)
	AddComputeVC(ctx context.Context, vc oms.ComputeVC) (*oms.Response, error)
}

// Validator waits for a submitted task to complete
type Validator interface {
	Validate(ctx context.Context, operation string, resp *oms.Response, policy task.Policy) (string, error)
}

// ClusterReader reads remote cluster state
type ClusterReader interface {
	HasStatus(ctx context.Context, name string, statuses ...types.ClusterStatus) (bool, error)
	ClassifyNodeFailure(ctx context.Context, name string) (cluster.Cause, error)
}

// ThumbprintFunc returns the certificate thumbprint served on host:port
type ThumbprintFunc func(ctx context.Context, host string, port int) (string, error)

// VIO deploys OpenStack through the management server
type VIO struct {
	api        ClusterAPI
	tracker    Validator
	reader     ClusterReader
	remote     cluster.Runner
	thumbprint ThumbprintFunc
	mgmtVC     string
	logger     zerolog.Logger
}

// NewVIO creates the VIO backend. mgmtVC is the vCenter the appliance runs
// in; a controller vcenter_ip different from it is registered as an
// additional compute vCenter first.
func NewVIO(api ClusterAPI, tracker Validator, reader ClusterReader, rc cluster.Runner, thumbprint ThumbprintFunc, mgmtVC string) *VIO {
	return &VIO{
		api:        api,
		tracker:    tracker,
		reader:     reader,
		remote:     rc,
		thumbprint: thumbprint,
		mgmtVC:     mgmtVC,
		logger:     log.WithComponent("openstack"),
	}
}

// DeployOpenstack registers the compute vCenter when needed, generates a
// placement plan when the spec has none and creates the cluster. Nothing is
// sent when the cluster is already RUNNING.
func (v *VIO) DeployOpenstack(ctx context.Context, state *State) (bool, error) {
	spec := state.Spec
	running, err := v.reader.HasStatus(ctx, spec.Name, types.ClusterStatusRunning)
	if err != nil {
		return false, err
	}
	if running {
		v.logger.Info().Str("cluster", spec.Name).Msg("OpenStack cluster already exists and is running. Skip creating OpenStack cluster")
		return true, nil
	}
	return false, v.deploy(ctx, spec)
}

func (v *VIO) deploy(ctx context.Context, spec *types.DeploymentSpec) error {
	attrs, err := cluster.ControllerAttrs(spec)
	if err != nil {
		return err
	}

	if vcIP, _ := attrs["vcenter_ip"].(string); vcIP != v.mgmtVC {
		v.logger.Debug().Str("management_vc", v.mgmtVC).Str("compute_vc", vcIP).Msg("This is multi-vc")
		user, _ := attrs["vcenter_user"].(string)
		password, _ := attrs["vcenter_password"].(string)
		insecure, _ := attrs["vcenter_insecure"].(string)
		if err := v.AddComputeVC(ctx, vcIP, user, password, insecure); err != nil {
			return err
		}
	}

	if err := cluster.SetVCFQDN(ctx, spec, v.remote); err != nil {
		return err
	}
	if spec.Plan() == "" {
		if err := v.GeneratePlan(ctx, spec); err != nil {
			return err
		}
	}
	return v.CreateCluster(ctx, spec)
}

// AddComputeVC registers vCenter host with the management server
func (v *VIO) AddComputeVC(ctx context.Context, host, user, password, insecure string) error {
	v.logger.Info().Str("vcenter", host).Msg("Add compute VC")
	fp, err := v.thumbprint(ctx, host, VCenterPort)
	if err != nil {
		return err
	}

	hostname := host
	if insecure == "false" && cluster.IsIPv4(host) {
		if hostname, err = cluster.ResolveFQDN(ctx, v.remote, host); err != nil {
			return err
		}
	}

	vc := oms.ComputeVC{Hostname: hostname, Port: VCenterPort, Username: user, Password: password, Thumbprint: fp}
	resp, err := v.api.AddComputeVC(ctx, vc)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &errdefs.ProvisionError{
			Reason: "failed to add compute vCenter",
			Cause:  fmt.Sprintf("%s: HTTP %d", hostname, resp.StatusCode),
		}
	}
	return nil
}

// GeneratePlan asks the management server for a placement plan and stores
// it into spec. With the DVS backend the data network is sent as the
// management network, and restored afterwards.
func (v *VIO) GeneratePlan(ctx context.Context, spec *types.DeploymentSpec) error {
	v.logger.Info().Msg("Create OpenStack cluster deployment plan")

	if cluster.NeutronBackend(spec) == cluster.BackendDVS {
		dataNetwork := spec.Network("DATA_NETWORK")
		spec.SetNetwork("DATA_NETWORK", spec.Network("MGT_NETWORK"))
		defer spec.SetNetwork("DATA_NETWORK", dataNetwork)
	}

	resp, err := v.api.CreatePlan(ctx, spec)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		v.logger.Error().Int("status", resp.StatusCode).Msg("Failed to create deployment plan")
		return &errdefs.ProvisionError{Reason: "failed to create deployment plan", Cause: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	v.logger.Debug().Str("plan", resp.Text()).Msg("Deployment plan")
	spec.SetPlan(resp.Text())
	return nil
}

// CreateCluster submits the deployment and requires it to end up RUNNING.
// A failed creation task is only logged: the cluster status decides, and a
// cluster that is not RUNNING is diagnosed from its node states.
func (v *VIO) CreateCluster(ctx context.Context, spec *types.DeploymentSpec) error {
	logger := v.logger.With().Str("cluster", spec.Name).Logger()
	logger.Info().Msg("Start to create OpenStack cluster")

	resp, err := v.api.CreateCluster(ctx, spec)
	if err == nil {
		_, err = v.tracker.Validate(ctx, "create cluster", resp, task.CreatePolicy)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Msg("Creating cluster error")
	}

	running, err := v.reader.HasStatus(ctx, spec.Name, types.ClusterStatusRunning)
	if err != nil {
		return err
	}
	if running {
		logger.Info().Msg("Successfully deployed OpenStack cluster")
		return nil
	}

	logger.Error().Msg("OpenStack cluster status is not running")
	cause, err := v.reader.ClassifyNodeFailure(ctx, spec.Name)
	if err != nil {
		return err
	}
	logger.Error().Str("cause", string(cause)).Msg("Detected node failure")
	return &errdefs.ProvisionError{Reason: "cluster " + spec.Name + " is not running", Cause: string(cause)}
}
