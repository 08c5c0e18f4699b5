/*
Package types defines the data model shared by the panda orchestration core.

The types mirror the JSON documents exchanged with the OpenStack Management
Server (OMS): the deployment specification posted when a cluster is created,
the cluster listings read back on every idempotence check, and the task
records polled while an asynchronous operation runs.

# Core Types

Deployment:
  - DeploymentSpec: cluster specification (name, attributes, networkConfig,
    vcClusters, nodeGroups)
  - NodeGroup: nodes sharing a role, with free-form attributes and
    per-compute-cluster nodeAttributes
  - VCCluster: management vCenter cluster reference

Runtime State:
  - ClusterSnapshot: name, status and node groups of a deployed cluster
  - Instance: one node of a group and its status
  - Task: server-side asynchronous job (status, errorMessage)
  - UpgradeContext: blue cluster, synthesized green successor and index

# Lifecycle

	Task:    STARTING → RUNNING → COMPLETED
	                            ↘ STOPPING → STOPPED
	                            ↘ FAILED

	Cluster: PROVISIONING → RUNNING
	                      ↘ PROVISION_ERROR

Any task status in {COMPLETED, STOPPING, STOPPED, FAILED} is terminal.

# Serialization

Specs are authored by hand and carry many keys the orchestrator never looks
at. DeploymentSpec, NodeGroup, VCCluster and Instance keep unknown members
in their Extra field and write them back on marshal, so a spec round-trips
unchanged apart from the fields the sequencer resolves (plan, moids,
vcenter_ip, syslog tag).

Task and ClusterSnapshot validate their required members at decode time: a
task without "status" or a cluster without "name" or "status" fails
immediately instead of yielding a zero value.
*/
package types
