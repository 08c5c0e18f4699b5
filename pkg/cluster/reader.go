package cluster

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/types"
)

// Cause is the classified root cause of a provisioning failure
type Cause string

const (
	// CauseExecution means a node failed its configuration run
	CauseExecution Cause = "Ansible error"

	// CauseBackend means the management server itself failed
	CauseBackend Cause = "OMS java error"
)

// Lister lists the deployments known to the management server
type Lister interface {
	ListClusters(ctx context.Context) ([]types.ClusterSnapshot, error)
}

// Reader answers questions about remote cluster state. Every call reads a
// fresh listing.
type Reader struct {
	lister Lister
	logger zerolog.Logger
}

// NewReader creates a reader backed by lister
func NewReader(lister Lister) *Reader {
	return &Reader{
		lister: lister,
		logger: log.WithComponent("cluster"),
	}
}

// GetCluster returns the snapshot of cluster name
func (r *Reader) GetCluster(ctx context.Context, name string) (*types.ClusterSnapshot, error) {
	clusters, err := r.lister.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	for i := range clusters {
		if clusters[i].Name == name {
			return &clusters[i], nil
		}
	}
	return nil, &errdefs.NotFoundError{Kind: "cluster", Name: name}
}

// HasStatus reports whether cluster name exists with one of statuses. An
// absent cluster is reported as false without error.
func (r *Reader) HasStatus(ctx context.Context, name string, statuses ...types.ClusterStatus) (bool, error) {
	c, err := r.GetCluster(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	r.logger.Debug().Str("cluster", name).Str("status", string(c.Status)).Msg("Cluster status")
	for _, s := range statuses {
		if c.Status == s {
			return true, nil
		}
	}
	return false, nil
}

// ClassifyNodeFailure inspects the instances of cluster name. Any instance
// in "Bootstrap Failed" is an execution failure; anything else is blamed on
// the management server.
func (r *Reader) ClassifyNodeFailure(ctx context.Context, name string) (Cause, error) {
	c, err := r.GetCluster(ctx, name)
	if err != nil {
		return CauseBackend, err
	}
	for _, group := range c.NodeGroups {
		for _, inst := range group.Instances {
			if inst.Status == types.InstanceBootstrapFailed {
				return CauseExecution, nil
			}
		}
	}
	return CauseBackend, nil
}

// PrivateVIP returns the internal VIP of the load balancer group
func (r *Reader) PrivateVIP(ctx context.Context, name string) (string, error) {
	c, err := r.GetCluster(ctx, name)
	if err != nil {
		return "", err
	}

	lb := nodeGroupByRole(c.NodeGroups, types.RoleLoadBalancer)
	if lb == nil {
		lb = c.NodeGroup(types.RoleLoadBalancer)
	}
	if lb == nil {
		return "", &errdefs.NotFoundError{Kind: "load balancer node group of cluster", Name: name}
	}

	vip, _ := lb.Attributes["internal_vip"].(string)
	if vip == "" {
		return "", &errdefs.NotFoundError{Kind: "internal_vip of cluster", Name: name}
	}
	r.logger.Debug().Str("cluster", name).Str("private_vip", vip).Msg("Private VIP")
	return vip, nil
}

// CheckCreationCompleted requires cluster name to have settled in RUNNING
// or PROVISION_ERROR.
func (r *Reader) CheckCreationCompleted(ctx context.Context, name string) error {
	done, err := r.HasStatus(ctx, name, types.ClusterStatusRunning, types.ClusterStatusProvisionError)
	if err != nil {
		return err
	}
	if !done {
		return &errdefs.NotCompletedError{Action: "provisioning of " + name}
	}
	return nil
}
