package oms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuemby/panda/pkg/types"
)

// ComputeVC is the registration payload of an additional compute vCenter
type ComputeVC struct {
	Hostname   string `json:"hostname"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Thumbprint string `json:"thumbprint"`
}

// Hello checks that the API answers for the current session
func (c *Client) Hello(ctx context.Context) (*Response, error) {
	return c.Get(ctx, "hello")
}

// Version returns the management server version string
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, "version")
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", unexpected("get version", resp)
	}
	return strings.Trim(strings.TrimSpace(resp.Text()), `"`), nil
}

// ListClusters returns every deployment known to the server
func (c *Client) ListClusters(ctx context.Context) ([]types.ClusterSnapshot, error) {
	resp, err := c.Get(ctx, "clusters")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpected("list clusters", resp)
	}

	var clusters []types.ClusterSnapshot
	if err := json.Unmarshal(resp.Body, &clusters); err != nil {
		return nil, fmt.Errorf("failed to decode cluster list: %w", err)
	}
	return clusters, nil
}

// GetTask returns the current state of task id
func (c *Client) GetTask(ctx context.Context, id string) (*types.Task, error) {
	resp, err := c.Get(ctx, "task/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpected("get task "+id, resp)
	}

	var task types.Task
	if err := json.Unmarshal(resp.Body, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	task.ID = id
	return &task, nil
}

// CreateCluster submits a deployment. The response is a task submission.
func (c *Client) CreateCluster(ctx context.Context, spec *types.DeploymentSpec) (*Response, error) {
	return c.Post(ctx, "clusters", spec)
}

// CreatePlan asks the server for a placement plan of spec
func (c *Client) CreatePlan(ctx context.Context, spec *types.DeploymentSpec) (*Response, error) {
	return c.Put(ctx, "clusters/plan", spec)
}

// AddComputeVC registers an additional compute vCenter
func (c *Client) AddComputeVC(ctx context.Context, vc ComputeVC) (*Response, error) {
	return c.Post(ctx, "vc", vc)
}

// DeleteCluster submits the deletion of a deployment
func (c *Client) DeleteCluster(ctx context.Context, name string) (*Response, error) {
	return c.Delete(ctx, "cluster/"+url.PathEscape(name))
}

// RetryCluster resubmits a failed deployment
func (c *Client) RetryCluster(ctx context.Context, name string) (*Response, error) {
	return c.Put(ctx, "cluster/"+url.PathEscape(name)+"?action=retry", "")
}

// UpgradeProvision creates the green cluster of a blue/green upgrade
func (c *Client) UpgradeProvision(ctx context.Context, blue string, body any) (*Response, error) {
	return c.Post(ctx, upgradePath(blue, "provision"), body)
}

// UpgradeMigrate copies blue cluster data into the green cluster
func (c *Client) UpgradeMigrate(ctx context.Context, blue string) (*Response, error) {
	return c.Put(ctx, upgradePath(blue, "configure"), "")
}

// UpgradeSwitch moves traffic from the blue to the green cluster
func (c *Client) UpgradeSwitch(ctx context.Context, blue string) (*Response, error) {
	return c.Put(ctx, upgradePath(blue, "switch"), "")
}

// UpgradeRetry retries a failed green cluster provisioning
func (c *Client) UpgradeRetry(ctx context.Context, blue string, body any) (*Response, error) {
	return c.Put(ctx, upgradePath(blue, "retry"), body)
}

func upgradePath(blue, action string) string {
	return "clusters/" + url.PathEscape(blue) + "/upgrade/" + action
}

// CreateSupportBundle asks the server to assemble a support bundle of a
// deployment. The response body holds the server-side path of the bundle.
func (c *Client) CreateSupportBundle(ctx context.Context, deployment string) (*Response, error) {
	return c.Post(ctx, "bundles", map[string]string{"deployment_name": deployment})
}

// DownloadBundle streams bundle file into w and returns the bytes written
func (c *Client) DownloadBundle(ctx context.Context, file string, w io.Writer) (int64, error) {
	u, err := c.apiURL("bundle/" + url.PathEscape(file))
	if err != nil {
		return 0, err
	}

	c.logger.Debug().Str("url", u.String()).Msg("Download bundle")
	resp, err := c.open(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, unexpected("download bundle "+file, &Response{StatusCode: resp.StatusCode, Body: body})
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download bundle %s: %w", file, err)
	}
	return n, nil
}

func unexpected(op string, resp *Response) error {
	return fmt.Errorf("%s: unexpected HTTP %d: %s", op, resp.StatusCode, strings.TrimSpace(resp.Text()))
}
