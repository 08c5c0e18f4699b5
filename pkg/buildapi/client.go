package buildapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
)

const (
	// DefaultURL is the build system endpoint
	DefaultURL = "http://buildapi.eng.vmware.com"

	// DefaultSystem is used when a build id carries no "system-" prefix
	DefaultSystem = "ob"

	// DefaultProduct is the product name of VIO builds
	DefaultProduct = "vmw-openstack"
)

// Deliverable path fragments
const (
	OVASuffix     = "_OVF10.ova"
	PatchSuffix   = "_all.deb"
	UpgradeMarker = "-upgrade-"
)

// Item is a single build system resource
type Item struct {
	data map[string]any
}

// Get returns a raw field
func (i *Item) Get(key string) (any, bool) {
	v, ok := i.data[key]
	return v, ok
}

// String returns a field formatted as a string, or "" when absent
func (i *Item) String(key string) string {
	v, ok := i.data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Matches reports whether every filter is a substring of, or equal to, the
// field of the same name. An empty filter set matches nothing.
func (i *Item) Matches(filters map[string]string) bool {
	if len(filters) == 0 {
		return false
	}
	for k, want := range filters {
		v, ok := i.data[k]
		if !ok {
			return false
		}
		if s, isString := v.(string); isString {
			if !strings.Contains(s, want) {
				return false
			}
			continue
		}
		if fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

// List is a page of resources
type List struct {
	TotalCount int
	Items      []*Item
}

// Client queries the build system
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a client for baseURL (default: DefaultURL)
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: log.WithComponent("buildapi"),
	}
}

// ItemByID fetches /<system>/<name>/<id>
func (c *Client) ItemByID(ctx context.Context, system, name string, id int) (*Item, error) {
	var data map[string]any
	if err := c.get(ctx, fmt.Sprintf("/%s/%s/%d", system, name, id), nil, &data); err != nil {
		return nil, err
	}
	if _, ok := data["_this_resource"]; !ok {
		return nil, fmt.Errorf("%s %d: response is not an item resource", name, id)
	}
	return &Item{data: data}, nil
}

// ListByName fetches /<system>/<name> with filters
func (c *Client) ListByName(ctx context.Context, system, name string, filters map[string]string) (*List, error) {
	return c.list(ctx, fmt.Sprintf("/%s/%s", system, name), filters)
}

// ListByURL fetches a list resource by its (possibly relative) URL
func (c *Client) ListByURL(ctx context.Context, u string) (*List, error) {
	return c.list(ctx, u, nil)
}

// MaxID returns max_id of /<system>/<name>_metrics with filters
func (c *Client) MaxID(ctx context.Context, system, name string, filters map[string]string) (int, error) {
	var page listPage
	if err := c.get(ctx, fmt.Sprintf("/%s/%s_metrics", system, name), filters, &page); err != nil {
		return 0, err
	}
	if page.TotalCount == nil || *page.TotalCount != 1 || len(page.List) != 1 {
		return 0, fmt.Errorf("%s metrics: expected exactly one result", name)
	}
	raw, ok := page.List[0]["max_id"].(json.Number)
	if !ok {
		return 0, fmt.Errorf("%s metrics: max_id missing", name)
	}
	id, err := raw.Int64()
	if err != nil {
		return 0, fmt.Errorf("%s metrics: %w", name, err)
	}
	return int(id), nil
}

type listPage struct {
	TotalCount *int             `json:"_total_count"`
	List       []map[string]any `json:"_list"`
}

func (c *Client) list(ctx context.Context, path string, filters map[string]string) (*List, error) {
	var page listPage
	if err := c.get(ctx, path, filters, &page); err != nil {
		return nil, err
	}
	if page.TotalCount == nil || page.List == nil {
		return nil, fmt.Errorf("%s: response is not a list resource", path)
	}
	l := &List{TotalCount: *page.TotalCount}
	for _, d := range page.List {
		l.Items = append(l.Items, &Item{data: d})
	}
	return l, nil
}

func (c *Client) get(ctx context.Context, p string, filters map[string]string, out any) error {
	u := p
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.base + p
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return err
	}
	q := parsed.Query()
	q.Set("_format", "json")
	for k, v := range filters {
		q.Set(k, v)
	}
	parsed.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("url", parsed.String()).Msg("GET")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("build system request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("build system returned HTTP %d for %s: %s", resp.StatusCode, p, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return nil
}

// ParseBuildID splits "system-number" ids. Plain numbers use DefaultSystem.
func ParseBuildID(buildID string) (string, int, error) {
	system, num := DefaultSystem, buildID
	if before, after, ok := strings.Cut(buildID, "-"); ok {
		system, num = before, after
	}
	id, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, fmt.Errorf("invalid build id %q", buildID)
	}
	return system, id, nil
}

// Build fetches a build by id
func (c *Client) Build(ctx context.Context, buildID string) (*Item, error) {
	system, id, err := ParseBuildID(buildID)
	if err != nil {
		return nil, err
	}
	return c.ItemByID(ctx, system, "build", id)
}

// DeliverableURL returns the download URL of the first deliverable of the
// build whose path contains fragment.
func (c *Client) DeliverableURL(ctx context.Context, buildID, fragment string) (string, error) {
	build, err := c.Build(ctx, buildID)
	if err != nil {
		return "", err
	}
	deliverables, err := c.ListByURL(ctx, build.String("_deliverables_url"))
	if err != nil {
		return "", err
	}
	for _, d := range deliverables.Items {
		if d.Matches(map[string]string{"path": fragment}) {
			u := d.String("_download_url")
			c.logger.Debug().Str("build", buildID).Str("url", u).Msg("Deliverable URL")
			return u, nil
		}
	}
	return "", &errdefs.NotFoundError{Kind: "deliverable " + fragment + " of build", Name: buildID}
}

// LatestBuildID returns the newest succeeded build of branch
func (c *Client) LatestBuildID(ctx context.Context, branch, buildType, product string) (int, error) {
	if product == "" {
		product = DefaultProduct
	}
	return c.MaxID(ctx, DefaultSystem, "build", map[string]string{
		"product":    product,
		"buildstate": "succeeded",
		"buildtype":  buildType,
		"branch":     branch,
	})
}

// Download saves u into dir unless the file is already there and returns
// the local path.
func (c *Client) Download(ctx context.Context, u, dir string) (string, error) {
	dest := filepath.Join(dir, path.Base(u))
	if _, err := os.Stat(dest); err == nil {
		c.logger.Info().Str("path", dest).Msg("File already exists, skip downloading it")
		return dest, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: HTTP %d", u, resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download %s: %w", u, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", err
	}

	c.logger.Info().Str("url", u).Str("path", dest).Int64("bytes", n).Msg("Downloaded")
	return dest, nil
}

// DownloadDeliverable resolves and downloads a deliverable of a build
func (c *Client) DownloadDeliverable(ctx context.Context, buildID, fragment, dir string) (string, error) {
	u, err := c.DeliverableURL(ctx, buildID, fragment)
	if err != nil {
		return "", err
	}
	return c.Download(ctx, u, dir)
}
