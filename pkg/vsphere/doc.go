/*
Package vsphere talks to vCenter through govmomi.

It resolves the managed object ids that the OpenStack deployment spec
refers to (clusters, datastores, distributed switches), finds and removes
the management server vApp, and reads the vCenter certificate thumbprint
needed to register an extra compute vCenter with OMS.

	c, err := vsphere.Connect(ctx, vsphere.Config{Host: "vc.example.com", User: user, Password: pw})
	if err != nil {
		return err
	}
	defer c.Logout(ctx)

	moid, err := c.ClusterMoid(ctx, "dc1", "compute")

Client satisfies cluster.Inventory.
*/
package vsphere
