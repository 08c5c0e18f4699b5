package upgrade

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/events"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/metrics"
	"github.com/cuemby/panda/pkg/oms"
	"github.com/cuemby/panda/pkg/task"
	"github.com/cuemby/panda/pkg/types"
)

// GreenPrefix prefixes the synthesized successor cluster names
const GreenPrefix = "UPGRADE"

// API is the part of the OMS client used by upgrades
type API interface {
	UpgradeProvision(ctx context.Context, blue string, body any) (*oms.Response, error)
	UpgradeMigrate(ctx context.Context, blue string) (*oms.Response, error)
	UpgradeSwitch(ctx context.Context, blue string) (*oms.Response, error)
	UpgradeRetry(ctx context.Context, blue string, body any) (*oms.Response, error)
}

// Validator waits for a submitted task to complete
type Validator interface {
	Validate(ctx context.Context, operation string, resp *oms.Response, policy task.Policy) (string, error)
}

// StatusReader reads cluster status
type StatusReader interface {
	HasStatus(ctx context.Context, name string, statuses ...types.ClusterStatus) (bool, error)
}

// Request carries what the green cluster needs. Which fields are sent
// depends on Version.
type Request struct {
	Version string

	// Sent to 1.x and 2.x
	PublicVIP  string
	PrivateVIP string

	// Sent to 3.x and later
	AdminUser     string
	AdminPassword string
}

// Body returns the provision payload of green for req.Version
func Body(green string, req Request) (map[string]string, error) {
	if req.Version == "" {
		return nil, &errdefs.NotSupportedError{Reason: "upgrade target version is unknown"}
	}

	body := map[string]string{"cluster_name": green}
	if UsesVIPs(req.Version) {
		body["public_vip"] = req.PublicVIP
		body["internal_vip"] = req.PrivateVIP
	} else {
		body["admin_user"] = req.AdminUser
		body["admin_password"] = req.AdminPassword
	}
	return body, nil
}

// UsesVIPs reports whether green clusters of version are provisioned with
// VIPs rather than admin credentials
func UsesVIPs(version string) bool {
	return strings.HasPrefix(version, "1") || strings.HasPrefix(version, "2")
}

// Controller runs blue/green upgrades. It keeps the upgrade index of the
// process so successive upgrades get distinct green cluster names.
type Controller struct {
	api     API
	tracker Validator
	reader  StatusReader
	events  events.Publisher
	logger  zerolog.Logger

	index int
}

// NewController creates a controller
func NewController(api API, tracker Validator, reader StatusReader, publisher events.Publisher) *Controller {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Controller{
		api:     api,
		tracker: tracker,
		reader:  reader,
		events:  publisher,
		logger:  log.WithComponent("upgrade"),
	}
}

// Index returns the index of the last upgrade, 0 before the first
func (c *Controller) Index() int {
	return c.index
}

// SetIndex sets the index of the last upgrade, for a process continuing
// upgrades started by an earlier one.
func (c *Controller) SetIndex(index int) {
	c.index = index
}

// Upgrade provisions a green cluster from blue, migrates the data and
// switches over, then requires the green cluster to be RUNNING.
func (c *Controller) Upgrade(ctx context.Context, blue string, req Request) (types.UpgradeContext, error) {
	c.index++
	metrics.UpgradeIndex.Set(float64(c.index))

	uc := types.UpgradeContext{Blue: blue, Green: GreenPrefix + strconv.Itoa(c.index), Index: c.index}
	logger := c.logger.With().Str("blue", uc.Blue).Str("green", uc.Green).Int("index", uc.Index).Logger()

	body, err := Body(uc.Green, req)
	if err != nil {
		return uc, err
	}

	logger.Info().Str("version", req.Version).Msg("Start to upgrade cluster")

	logger.Debug().Msg("Create green cluster")
	if err := c.phase(ctx, "upgrade provision", func() (*oms.Response, error) {
		return c.api.UpgradeProvision(ctx, blue, body)
	}); err != nil {
		return uc, err
	}

	logger.Debug().Msg("Migrate data")
	if err := c.phase(ctx, "upgrade migrate data", func() (*oms.Response, error) {
		return c.api.UpgradeMigrate(ctx, blue)
	}); err != nil {
		return uc, err
	}

	logger.Debug().Msg("Switch to green cluster")
	if err := c.phase(ctx, "upgrade switch", func() (*oms.Response, error) {
		return c.api.UpgradeSwitch(ctx, blue)
	}); err != nil {
		return uc, err
	}

	if err := c.requireRunning(ctx, uc.Green); err != nil {
		return uc, err
	}

	c.events.Publish(&events.Event{
		Type:     events.EventUpgradeSwitch,
		Message:  fmt.Sprintf("%s -> %s", uc.Blue, uc.Green),
		Metadata: map[string]string{"blue": uc.Blue, "green": uc.Green, "index": strconv.Itoa(uc.Index)},
	})
	logger.Info().Msg("Successfully upgraded cluster")
	return uc, nil
}

// Retry resubmits the provisioning of the green cluster of the last
// upgrade and requires it to be RUNNING afterwards.
func (c *Controller) Retry(ctx context.Context, blue string, req Request) (types.UpgradeContext, error) {
	if c.index == 0 {
		return types.UpgradeContext{}, &errdefs.NotSupportedError{Reason: "no upgrade to retry"}
	}
	uc := types.UpgradeContext{Blue: blue, Green: GreenPrefix + strconv.Itoa(c.index), Index: c.index}

	body, err := Body(uc.Green, req)
	if err != nil {
		return uc, err
	}

	c.logger.Info().Str("blue", uc.Blue).Str("green", uc.Green).Msg("Retry upgrade")
	if err := c.phase(ctx, "upgrade retry", func() (*oms.Response, error) {
		return c.api.UpgradeRetry(ctx, blue, body)
	}); err != nil {
		return uc, err
	}
	return uc, c.requireRunning(ctx, uc.Green)
}

func (c *Controller) phase(ctx context.Context, operation string, submit func() (*oms.Response, error)) error {
	resp, err := submit()
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	_, err = c.tracker.Validate(ctx, operation, resp, task.UpgradePolicy)
	return err
}

func (c *Controller) requireRunning(ctx context.Context, green string) error {
	running, err := c.reader.HasStatus(ctx, green, types.ClusterStatusRunning)
	if err != nil {
		return err
	}
	if !running {
		return &errdefs.ProvisionError{Reason: "upgrading cluster failed", Cause: green + " is not RUNNING"}
	}
	return nil
}
