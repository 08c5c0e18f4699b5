package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DeploymentSpec is the OpenStack cluster specification posted to OMS.
// Fields the orchestrator does not model are kept in Extra and written
// back unchanged.
type DeploymentSpec struct {
	Name          string                     `json:"name"`
	Attributes    map[string]any             `json:"attributes,omitempty"`
	NetworkConfig map[string]any             `json:"networkConfig,omitempty"`
	VCClusters    []VCCluster                `json:"vcClusters,omitempty"`
	NodeGroups    []NodeGroup                `json:"nodeGroups,omitempty"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// VCCluster is a vCenter cluster reference of the spec
type VCCluster struct {
	Moid  string                     `json:"moid"`
	Extra map[string]json.RawMessage `json:"-"`
}

// NodeGroup is a set of nodes sharing a role. The same shape is used in the
// spec and in cluster listings, where Instances is populated.
type NodeGroup struct {
	Name           string                     `json:"name"`
	Role           string                     `json:"role,omitempty"`
	Roles          []string                   `json:"roles,omitempty"`
	Attributes     map[string]any             `json:"attributes,omitempty"`
	NodeAttributes []map[string]any           `json:"nodeAttributes,omitempty"`
	Instances      []Instance                 `json:"instances,omitempty"`
	Extra          map[string]json.RawMessage `json:"-"`
}

// Instance is a single node of a node group
type Instance struct {
	Name       string                     `json:"name,omitempty"`
	Status     string                     `json:"status"`
	Attributes map[string]any             `json:"attributes,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// Node roles and group names used by the orchestrator
const (
	RoleController   = "Controller"
	RoleCompute      = "Compute"
	RoleLoadBalancer = "LoadBalancer"

	// InstanceBootstrapFailed marks a node whose configuration run failed
	InstanceBootstrapFailed = "Bootstrap Failed"
)

// HasRole reports whether the group carries role, either as its single
// role or in its role list.
func (g *NodeGroup) HasRole(role string) bool {
	if g.Role == role {
		return true
	}
	for _, r := range g.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Plan returns the placement plan stored in the spec attributes
func (s *DeploymentSpec) Plan() string {
	if s.Attributes == nil {
		return ""
	}
	plan, _ := s.Attributes["plan"].(string)
	return plan
}

// SetPlan stores a placement plan in the spec attributes
func (s *DeploymentSpec) SetPlan(plan string) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes["plan"] = plan
}

// Network returns a networkConfig entry as a string
func (s *DeploymentSpec) Network(key string) string {
	v, _ := s.NetworkConfig[key].(string)
	return v
}

// SetNetwork sets a networkConfig entry
func (s *DeploymentSpec) SetNetwork(key, value string) {
	if s.NetworkConfig == nil {
		s.NetworkConfig = make(map[string]any)
	}
	s.NetworkConfig[key] = value
}

// TaskStatus is the lifecycle status of an OMS task
type TaskStatus string

const (
	TaskStatusStarting  TaskStatus = "STARTING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusStopping  TaskStatus = "STOPPING"
	TaskStatusStopped   TaskStatus = "STOPPED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transitions will happen
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusStopping, TaskStatusStopped, TaskStatusFailed:
		return true
	}
	return false
}

// Task is a server-side asynchronous job
type Task struct {
	ID           string     `json:"-"`
	Status       TaskStatus `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// UnmarshalJSON rejects task payloads that carry no status
func (t *Task) UnmarshalJSON(data []byte) error {
	var aux struct {
		Status       *TaskStatus `json:"status"`
		ErrorMessage string      `json:"errorMessage"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Status == nil {
		return errors.New("task payload missing status")
	}
	t.Status = *aux.Status
	t.ErrorMessage = aux.ErrorMessage
	return nil
}

// ClusterStatus is the lifecycle status of an OpenStack deployment
type ClusterStatus string

const (
	ClusterStatusRunning        ClusterStatus = "RUNNING"
	ClusterStatusProvisioning   ClusterStatus = "PROVISIONING"
	ClusterStatusProvisionError ClusterStatus = "PROVISION_ERROR"
	ClusterStatusStopped        ClusterStatus = "STOPPED"
)

// ClusterSnapshot is a point-in-time view of a deployed cluster. It is
// read fresh for every decision and never cached.
type ClusterSnapshot struct {
	Name       string        `json:"name"`
	Status     ClusterStatus `json:"status"`
	NodeGroups []NodeGroup   `json:"nodeGroups,omitempty"`
}

// UnmarshalJSON requires name and status
func (c *ClusterSnapshot) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name       *string        `json:"name"`
		Status     *ClusterStatus `json:"status"`
		NodeGroups []NodeGroup    `json:"nodeGroups"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Name == nil {
		return errors.New("cluster payload missing name")
	}
	if aux.Status == nil {
		return fmt.Errorf("cluster %s payload missing status", *aux.Name)
	}
	c.Name = *aux.Name
	c.Status = *aux.Status
	c.NodeGroups = aux.NodeGroups
	return nil
}

// NodeGroup returns the node group with the given name, or nil
func (c *ClusterSnapshot) NodeGroup(name string) *NodeGroup {
	for i := range c.NodeGroups {
		if c.NodeGroups[i].Name == name {
			return &c.NodeGroups[i]
		}
	}
	return nil
}

// UpgradeContext names the clusters of one blue/green upgrade
type UpgradeContext struct {
	Blue  string
	Green string
	Index int
}
