/*
Package deploy drives an end-to-end VIO deployment.

A run is a fixed sequence of steps over one State value:

	┌──────────────────── DEPLOYMENT STEPS ─────────────────────┐
	│                                                            │
	│  deploy_appliance    skip when the vApp already exists     │
	│        │             ovftool, one retry after cooldown     │
	│        ▼                                                   │
	│  configure_services  omjs.properties over SSH, restart     │
	│        │                                                   │
	│        ▼                                                   │
	│  create_cluster      skip when the cluster is RUNNING      │
	│        │             compute VC, plan, create, verify      │
	│        ▼                                                   │
	│  apply_patch  ──►  upgrade  (vio-upgrade-* patches only)   │
	│        │   (repeated per patch, cooldown before each)      │
	│        ▼                                                   │
	│  collect_bundle      support bundle of the active cluster  │
	└────────────────────────────────────────────────────────────┘

Every "already done" decision is read from vCenter or the management
server when the step starts; nothing is persisted between runs, so a failed
run can simply be started again.

# Failure Handling

A failing step stops the sequence. Before its error is returned the
Diagnostics collector downloads a support bundle into the log directory;
the collector cannot fail, so the caller always sees the step's own error
(errdefs.ProvisionError, errdefs.NotCompletedError, ...).

# State

State carries the deployment spec (the placement plan is stored into it),
the appliance version, the last upgrade context and the VIP pool cursor.
Each upgrade patch consumes the next public and private VIP; the green
cluster of one upgrade is the blue cluster of the next.

# Backends

OpenstackBackend abstracts how the cluster is brought up. VIO is the only
implementation: it registers an additional compute vCenter when the
controller points elsewhere, resolves the vCenter FQDN when certificates
are verified, generates a placement plan when the spec has none and submits
the cluster through the Task Tracker.
*/
package deploy
