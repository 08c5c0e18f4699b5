package vsphere

import (
	"context"
	"crypto/sha1" //nolint:gosec // vCenter thumbprints are SHA-1
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
)

// Config identifies a vCenter
type Config struct {
	Host     string
	User     string
	Password string
}

// VApp is a virtual appliance found in the inventory
type VApp struct {
	Name    string
	Version string
	State   string

	ref types.ManagedObjectReference
}

// Started reports whether the vApp is powered on
func (v *VApp) Started() bool {
	return v.State == string(types.VirtualAppVAppStateStarted)
}

// Client wraps a vCenter session
type Client struct {
	vim    *vim25.Client
	logout func(context.Context) error
	logger zerolog.Logger
}

// Connect logs in to vCenter. Certificate verification is disabled.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	u, err := soap.ParseURL(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid vCenter host %q: %w", cfg.Host, err)
	}
	u.User = url.UserPassword(cfg.User, cfg.Password)

	gc, err := govmomi.NewClient(ctx, u, true)
	if err != nil {
		return nil, fmt.Errorf("failed to log in to vCenter %s: %w", cfg.Host, err)
	}

	c := newClient(gc.Client)
	c.logout = gc.Logout
	return c, nil
}

func newClient(vim *vim25.Client) *Client {
	return &Client{
		vim:    vim,
		logout: func(context.Context) error { return nil },
		logger: log.WithComponent("vsphere"),
	}
}

// Logout ends the vCenter session
func (c *Client) Logout(ctx context.Context) error {
	return c.logout(ctx)
}

func (c *Client) datacenter(ctx context.Context, name string) (*find.Finder, *object.Datacenter, error) {
	finder := find.NewFinder(c.vim, true)
	dc, err := finder.Datacenter(ctx, name)
	if err != nil {
		return nil, nil, notFound("datacenter", name, err)
	}
	finder.SetDatacenter(dc)
	return finder, dc, nil
}

// ClusterMoid returns the moid of a compute cluster
func (c *Client) ClusterMoid(ctx context.Context, datacenter, cluster string) (string, error) {
	finder, _, err := c.datacenter(ctx, datacenter)
	if err != nil {
		return "", err
	}
	cl, err := finder.ClusterComputeResource(ctx, cluster)
	if err != nil {
		return "", notFound("cluster", cluster, err)
	}
	moid := cl.Reference().Value
	c.logger.Debug().Str("cluster", cluster).Str("moid", moid).Msg("Cluster moid")
	return moid, nil
}

// DatastoreMoid returns the moid of a datastore
func (c *Client) DatastoreMoid(ctx context.Context, datacenter, datastore string) (string, error) {
	finder, _, err := c.datacenter(ctx, datacenter)
	if err != nil {
		return "", err
	}
	ds, err := finder.Datastore(ctx, datastore)
	if err != nil {
		return "", notFound("datastore", datastore, err)
	}
	return ds.Reference().Value, nil
}

// DVSMoid returns the moid of a distributed virtual switch
func (c *Client) DVSMoid(ctx context.Context, datacenter, dvs string) (string, error) {
	_, dc, err := c.datacenter(ctx, datacenter)
	if err != nil {
		return "", err
	}

	m := view.NewManager(c.vim)
	v, err := m.CreateContainerView(ctx, dc.Reference(), []string{"VmwareDistributedVirtualSwitch"}, true)
	if err != nil {
		return "", err
	}
	defer func() { _ = v.Destroy(ctx) }()

	refs, err := v.Find(ctx, []string{"VmwareDistributedVirtualSwitch"}, property.Match{"name": dvs})
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", &errdefs.NotFoundError{Kind: "distributed switch", Name: dvs}
	}
	return refs[0].Value, nil
}

// FindVApp returns the first vApp whose name matches pattern
func (c *Client) FindVApp(ctx context.Context, pattern *regexp.Regexp) (*VApp, error) {
	m := view.NewManager(c.vim)
	v, err := m.CreateContainerView(ctx, c.vim.ServiceContent.RootFolder, []string{"VirtualApp"}, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = v.Destroy(ctx) }()

	var apps []mo.VirtualApp
	if err := v.Retrieve(ctx, []string{"VirtualApp"}, []string{"name", "summary"}, &apps); err != nil {
		return nil, fmt.Errorf("failed to list vApps: %w", err)
	}

	for _, app := range apps {
		if !pattern.MatchString(app.Name) {
			continue
		}
		found := &VApp{Name: app.Name, ref: app.Reference()}
		if s, ok := app.Summary.(*types.VirtualAppSummary); ok {
			found.State = string(s.VAppState)
			if s.Product != nil {
				found.Version = s.Product.Version
			}
		}
		c.logger.Debug().Str("vapp", found.Name).Str("version", found.Version).Str("state", found.State).Msg("Found vApp")
		return found, nil
	}
	return nil, &errdefs.NotFoundError{Kind: "vApp matching", Name: pattern.String()}
}

// RemoveVApp powers the vApp off when it is running, then destroys it
func (c *Client) RemoveVApp(ctx context.Context, app *VApp) error {
	va := object.NewVirtualApp(c.vim, app.ref)

	if app.Started() {
		c.logger.Info().Str("vapp", app.Name).Msg("Powering off vApp")
		task, err := va.PowerOff(ctx, true)
		if err != nil {
			return fmt.Errorf("failed to power off %s: %w", app.Name, err)
		}
		if err := task.Wait(ctx); err != nil {
			return fmt.Errorf("failed to power off %s: %w", app.Name, err)
		}
	}

	c.logger.Info().Str("vapp", app.Name).Msg("Destroying vApp")
	task, err := va.Destroy(ctx)
	if err != nil {
		return fmt.Errorf("failed to destroy %s: %w", app.Name, err)
	}
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("failed to destroy %s: %w", app.Name, err)
	}
	return nil
}

// Thumbprint returns the SHA-1 fingerprint of the certificate served on
// host:port as colon separated upper-case hex pairs.
func Thumbprint(ctx context.Context, host string, port int) (string, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 30 * time.Second},
		Config:    &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // only the fingerprint is read
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("failed to read certificate of %s: %w", host, err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return "", fmt.Errorf("%s presented no certificate", host)
	}

	sum := sha1.Sum(certs[0].Raw) //nolint:gosec
	pairs := make([]string, len(sum))
	for i, b := range sum {
		pairs[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(pairs, ":"), nil
}

func notFound(kind, name string, err error) error {
	var nf *find.NotFoundError
	if errors.As(err, &nf) {
		return &errdefs.NotFoundError{Kind: kind, Name: name}
	}
	return fmt.Errorf("failed to find %s %s: %w", kind, name, err)
}
