package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/events"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/metrics"
	"github.com/cuemby/panda/pkg/oms"
)

// DefaultDeployment is the bundle subject when no cluster spec is known
const DefaultDeployment = "VIO"

// Session is the part of the OMS client used to collect bundles
type Session interface {
	Login(ctx context.Context) error
	CreateSupportBundle(ctx context.Context, deployment string) (*oms.Response, error)
	DownloadBundle(ctx context.Context, file string, w io.Writer) (int64, error)
}

// Uploader copies a collected bundle somewhere else and returns its location
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Collector fetches support bundles from the management server
type Collector struct {
	session  Session
	uploader Uploader
	events   events.Publisher
	logger   zerolog.Logger
}

// Option configures a Collector
type Option func(*Collector)

// WithUploader uploads every collected bundle with u
func WithUploader(u Uploader) Option {
	return func(c *Collector) { c.uploader = u }
}

// WithPublisher publishes a bundle event for every collected bundle
func WithPublisher(p events.Publisher) Option {
	return func(c *Collector) { c.events = p }
}

// NewCollector creates a collector
func NewCollector(session Session, opts ...Option) *Collector {
	c := &Collector{
		session: session,
		events:  events.Discard,
		logger:  log.WithComponent("diagnostics"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect downloads the support bundle of deployment into dir and returns
// the bundle file name. Failures are logged and yield "". Collect never
// returns an error so that it can run on the failure path of any step.
func (c *Collector) Collect(ctx context.Context, deployment, dir string) string {
	if deployment == "" {
		deployment = DefaultDeployment
	}
	logger := c.logger.With().Str("cluster", deployment).Logger()

	file, err := c.collect(ctx, deployment, dir)
	if err != nil {
		metrics.SupportBundlesTotal.WithLabelValues(metrics.ResultFailed).Inc()
		logger.Error().Err(err).Msg("Failed to get support bundle")
		return ""
	}
	metrics.SupportBundlesTotal.WithLabelValues(metrics.ResultCompleted).Inc()
	logger.Info().Str("path", filepath.Join(dir, file)).Msg("Downloaded support bundle")

	meta := map[string]string{"file": file}
	if c.uploader != nil {
		location, err := c.uploader.Upload(ctx, filepath.Join(dir, file))
		if err != nil {
			logger.Error().Err(err).Str("file", file).Msg("Failed to upload support bundle")
		} else {
			logger.Info().Str("location", location).Msg("Uploaded support bundle")
			meta["location"] = location
		}
	}

	c.events.Publish(&events.Event{
		Type:     events.EventBundleCollected,
		Message:  file,
		Metadata: meta,
	})
	return file
}

func (c *Collector) collect(ctx context.Context, deployment, dir string) (string, error) {
	// the REST session usually expired during the previous steps
	if err := c.session.Login(ctx); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	resp, err := c.session.CreateSupportBundle(ctx, deployment)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("create bundle: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(resp.Text()))
	}
	file, err := BundleFile(resp.Text())
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, file)
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	_, err = c.session.DownloadBundle(ctx, file, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	return file, nil
}

// BundleFile extracts the bundle file name from the server-side path
// returned when a bundle is created.
func BundleFile(body string) (string, error) {
	p := strings.Trim(strings.TrimSpace(body), `"`)
	if p == "" {
		return "", errors.New("bundle path missing from response")
	}
	file := path.Base(p)
	if file == "/" || file == "." {
		return "", fmt.Errorf("invalid bundle path %q", p)
	}
	return file, nil
}
