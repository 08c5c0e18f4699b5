package cluster

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/types"
)

// Neutron backends
const (
	BackendDVS  = "dvs"
	BackendNSXV = "nsxv"
	BackendNSXT = "nsxt"
)

// Runner runs a command on the management server and returns its output
type Runner interface {
	Output(ctx context.Context, cmd string) (string, error)
}

// Inventory resolves vSphere object names to managed object ids
type Inventory interface {
	ClusterMoid(ctx context.Context, datacenter, cluster string) (string, error)
	DatastoreMoid(ctx context.Context, datacenter, datastore string) (string, error)
	DVSMoid(ctx context.Context, datacenter, dvs string) (string, error)
}

// NodeGroupByName returns the group called name, or nil
func NodeGroupByName(spec *types.DeploymentSpec, name string) *types.NodeGroup {
	for i := range spec.NodeGroups {
		if spec.NodeGroups[i].Name == name {
			return &spec.NodeGroups[i]
		}
	}
	return nil
}

// NodeGroupByRole returns the first group carrying role, or nil
func NodeGroupByRole(spec *types.DeploymentSpec, role string) *types.NodeGroup {
	return nodeGroupByRole(spec.NodeGroups, role)
}

func nodeGroupByRole(groups []types.NodeGroup, role string) *types.NodeGroup {
	for i := range groups {
		if groups[i].HasRole(role) {
			return &groups[i]
		}
	}
	return nil
}

// ControllerAttrs returns the attribute map of the controller group. The
// map is live: writes change the spec.
func ControllerAttrs(spec *types.DeploymentSpec) (map[string]any, error) {
	ctl := NodeGroupByRole(spec, types.RoleController)
	if ctl == nil {
		return nil, &errdefs.NotFoundError{Kind: "node group with role", Name: types.RoleController}
	}
	if ctl.Attributes == nil {
		ctl.Attributes = make(map[string]any)
	}
	return ctl.Attributes, nil
}

// NeutronBackend returns the controller neutron_backend attribute
func NeutronBackend(spec *types.DeploymentSpec) string {
	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return ""
	}
	backend, _ := attrs["neutron_backend"].(string)
	return backend
}

// ControllerString returns a controller attribute as a string
func ControllerString(spec *types.DeploymentSpec, key string) string {
	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return ""
	}
	v, _ := attrs[key].(string)
	return v
}

// ComputeClusterMoids returns the cluster moids of the compute group
// instances of a deployed cluster.
func ComputeClusterMoids(groups []types.NodeGroup) ([]string, error) {
	compute := nodeGroupByRole(groups, types.RoleCompute)
	if compute == nil {
		return nil, &errdefs.NotFoundError{Kind: "node group with role", Name: types.RoleCompute}
	}
	moids := make([]string, 0, len(compute.Instances))
	for _, inst := range compute.Instances {
		moid, _ := inst.Attributes["cluster_moid"].(string)
		moids = append(moids, moid)
	}
	return moids, nil
}

// SetComputeDriver assigns moids to the compute nodeAttributes entries in
// order. Entries carrying a vcenter_ip key get vcenterIP.
func SetComputeDriver(group *types.NodeGroup, moids []string, vcenterIP string) error {
	if len(moids) < len(group.NodeAttributes) {
		return &errdefs.NotSupportedError{
			Reason: fmt.Sprintf("%d compute clusters for %d compute node attribute entries", len(moids), len(group.NodeAttributes)),
		}
	}
	for i, attrs := range group.NodeAttributes {
		if attrs == nil {
			attrs = map[string]any{}
			group.NodeAttributes[i] = attrs
		}
		if _, ok := attrs["vcenter_ip"]; ok {
			attrs["vcenter_ip"] = vcenterIP
		}
		attrs["cluster_moid"] = moids[i]
	}
	return nil
}

// RefreshVCConfig points the controller at a vCenter
func RefreshVCConfig(spec *types.DeploymentSpec, host, user, password string) error {
	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return err
	}
	attrs["vcenter_ip"] = host
	attrs["vcenter_user"] = user
	attrs["vcenter_password"] = password
	return nil
}

// RefreshNSXVConfig points the controller at an NSX-V manager
func RefreshNSXVConfig(spec *types.DeploymentSpec, manager, user, password string) error {
	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return err
	}
	attrs["nsxv_manager"] = manager
	attrs["nsxv_username"] = user
	attrs["nsxv_password"] = password
	return nil
}

// RefreshSyslogTag sets syslog_server_tag to <BACKEND>-<build> when the
// controller already carries the key.
func RefreshSyslogTag(spec *types.DeploymentSpec, buildID string) {
	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return
	}
	if _, ok := attrs["syslog_server_tag"]; !ok {
		return
	}
	if NeutronBackend(spec) == BackendNSXV {
		attrs["syslog_server_tag"] = "NSXV-" + buildID
	} else {
		attrs["syslog_server_tag"] = "DVS-" + buildID
	}
}

// ResolveFQDN asks the management server for the FQDN of host
func ResolveFQDN(ctx context.Context, runner Runner, host string) (string, error) {
	cmd := fmt.Sprintf(`python -c 'import socket; print socket.getfqdn("%s")'`, host)
	out, err := runner.Output(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("failed to resolve fqdn of %s: %w", host, err)
	}
	return strings.ReplaceAll(out, "\n", ""), nil
}

// SetVCFQDN replaces an IPv4 vcenter_ip with its FQDN when the controller
// verifies vCenter certificates (vcenter_insecure == "false"). Compute
// nodeAttributes carrying vcenter_ip are updated as well.
func SetVCFQDN(ctx context.Context, spec *types.DeploymentSpec, runner Runner) error {
	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return err
	}
	host, _ := attrs["vcenter_ip"].(string)
	insecure, _ := attrs["vcenter_insecure"].(string)
	if insecure != "false" || !IsIPv4(host) {
		return nil
	}

	fqdn, err := ResolveFQDN(ctx, runner, host)
	if err != nil {
		return err
	}
	log.Logger.Debug().Str("vcenter_ip", host).Str("fqdn", fqdn).Msg("Replacing vCenter IP with FQDN")
	attrs["vcenter_ip"] = fqdn

	if compute := NodeGroupByRole(spec, types.RoleCompute); compute != nil {
		for _, na := range compute.NodeAttributes {
			if _, ok := na["vcenter_ip"]; ok {
				na["vcenter_ip"] = fqdn
			}
		}
	}
	return nil
}

// IsIPv4 reports whether host is an IPv4 address literal
func IsIPv4(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil
}

// RefreshMgmtMoid stores the moid of the management cluster in vcClusters[0]
func RefreshMgmtMoid(ctx context.Context, spec *types.DeploymentSpec, inv Inventory, datacenter, mgmtCluster string) error {
	moid, err := inv.ClusterMoid(ctx, datacenter, mgmtCluster)
	if err != nil {
		return err
	}
	log.Logger.Debug().Str("cluster", mgmtCluster).Str("moid", moid).Msg("Management cluster")
	if len(spec.VCClusters) == 0 {
		spec.VCClusters = append(spec.VCClusters, types.VCCluster{})
	}
	spec.VCClusters[0].Moid = moid
	return nil
}

func computeMoids(ctx context.Context, inv Inventory, datacenter string, clusters []string) ([]string, error) {
	moids := make([]string, 0, len(clusters))
	for _, name := range clusters {
		moid, err := inv.ClusterMoid(ctx, datacenter, name)
		if err != nil {
			return nil, err
		}
		log.Logger.Debug().Str("cluster", name).Str("moid", moid).Msg("Compute cluster")
		moids = append(moids, moid)
	}
	return moids, nil
}

// RefreshDVSMoids configures a DVS backed spec for the given compute
// clusters and distributed switch.
func RefreshDVSMoids(ctx context.Context, spec *types.DeploymentSpec, inv Inventory, datacenter string, computeClusters []string, dvs string) error {
	moids, err := computeMoids(ctx, inv, datacenter, computeClusters)
	if err != nil {
		return err
	}
	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return err
	}
	attrs["dvs_default_name"] = dvs

	compute := NodeGroupByRole(spec, types.RoleCompute)
	if compute == nil {
		return &errdefs.NotFoundError{Kind: "node group with role", Name: types.RoleCompute}
	}
	return SetComputeDriver(compute, moids, "")
}

// NSXVTopology names the vSphere objects of an NSX-V backed deployment
type NSXVTopology struct {
	Datacenter      string
	ComputeClusters []string
	GlanceDatastore string
	EdgeDVS         string
	EdgeCluster     string
	VCenterHost     string
}

// RefreshNSXVMoids configures an NSX-V backed spec. The glance datastore is
// only resolved when named, as "null:Datastore:<moid>".
func RefreshNSXVMoids(ctx context.Context, spec *types.DeploymentSpec, inv Inventory, topo NSXVTopology) error {
	moids, err := computeMoids(ctx, inv, topo.Datacenter, topo.ComputeClusters)
	if err != nil {
		return err
	}
	dvsMoid, err := inv.DVSMoid(ctx, topo.Datacenter, topo.EdgeDVS)
	if err != nil {
		return err
	}
	edgeMoid, err := inv.ClusterMoid(ctx, topo.Datacenter, topo.EdgeCluster)
	if err != nil {
		return err
	}

	attrs, err := ControllerAttrs(spec)
	if err != nil {
		return err
	}
	if topo.GlanceDatastore != "" {
		dsMoid, err := inv.DatastoreMoid(ctx, topo.Datacenter, topo.GlanceDatastore)
		if err != nil {
			return err
		}
		attrs["glance_datastores"] = "null:Datastore:" + dsMoid
	}
	attrs["nsxv_edge_cluster_moref"] = edgeMoid
	attrs["nsxv_dvs_moref"] = dvsMoid

	compute := NodeGroupByRole(spec, types.RoleCompute)
	if compute == nil {
		return &errdefs.NotFoundError{Kind: "node group with role", Name: types.RoleCompute}
	}
	return SetComputeDriver(compute, moids, topo.VCenterHost)
}
