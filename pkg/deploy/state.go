package deploy

import (
	"fmt"

	"github.com/cuemby/panda/pkg/diagnostics"
	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/types"
)

// State is everything a run learns or changes while it advances. It is
// handed to every step; steps record their results here rather than on the
// sequencer.
type State struct {
	// Spec is the OpenStack deployment spec, nil when no cluster is wanted.
	// The placement plan is stored into it.
	Spec *types.DeploymentSpec

	// Version of the management server appliance
	Version string

	// Upgrade is the result of the last blue/green upgrade
	Upgrade types.UpgradeContext

	// VIPIndex is the next unused entry of the VIP pools
	VIPIndex int
}

// ActiveCluster returns the name of the cluster currently serving: the
// green cluster of the last upgrade, else the spec name.
func (s *State) ActiveCluster() string {
	if s.Upgrade.Green != "" {
		return s.Upgrade.Green
	}
	if s.Spec != nil {
		return s.Spec.Name
	}
	return ""
}

// BundleSubject returns the deployment name support bundles are taken for
func (s *State) BundleSubject() string {
	if name := s.ActiveCluster(); name != "" {
		return name
	}
	return diagnostics.DefaultDeployment
}

// NextVIPs consumes the next entry of both pools
func (s *State) NextVIPs(public, private []string) (string, string, error) {
	i := s.VIPIndex
	if i >= len(public) || i >= len(private) {
		return "", "", &errdefs.NotSupportedError{
			Reason: fmt.Sprintf("VIP pools exhausted: upgrade %d needs entry %d (public %d, private %d)", i+1, i, len(public), len(private)),
		}
	}
	s.VIPIndex++
	return public[i], private[i], nil
}
