package diagnostics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/panda/pkg/metrics"
	"github.com/cuemby/panda/pkg/oms"
)

type fakeSession struct {
	loginErr    error
	bundleResp  *oms.Response
	downloadErr error
	deployments []string
	logins      int
}

func (f *fakeSession) Login(ctx context.Context) error {
	f.logins++
	return f.loginErr
}

func (f *fakeSession) CreateSupportBundle(ctx context.Context, deployment string) (*oms.Response, error) {
	f.deployments = append(f.deployments, deployment)
	return f.bundleResp, nil
}

func (f *fakeSession) DownloadBundle(ctx context.Context, file string, w io.Writer) (int64, error) {
	if f.downloadErr != nil {
		_, _ = w.Write([]byte("partial"))
		return 7, f.downloadErr
	}
	n, err := io.WriteString(w, "bundle of "+file)
	return int64(n), err
}

type fakeUploader struct {
	paths []string
}

func (f *fakeUploader) Upload(ctx context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	return "s3://bundles/" + filepath.Base(path), nil
}

func bundleResponse() *oms.Response {
	return &oms.Response{StatusCode: http.StatusOK, Body: []byte(`"/var/log/oms/vio-support-20160101.tar.gz"` + "\n")}
}

func TestBundleFile(t *testing.T) {
	tests := []struct {
		body string
		want string
		err  bool
	}{
		{body: `"/opt/vmware/vio/bundles/VIO-bundle.tgz"`, want: "VIO-bundle.tgz"},
		{body: "/tmp/x.tar.gz\n", want: "x.tar.gz"},
		{body: `  "b.tgz"  `, want: "b.tgz"},
		{body: `""`, err: true},
		{body: "/", err: true},
	}
	for _, tt := range tests {
		got, err := BundleFile(tt.body)
		if tt.err {
			assert.Error(t, err, tt.body)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestCollect(t *testing.T) {
	session := &fakeSession{bundleResp: bundleResponse()}
	up := &fakeUploader{}
	dir := filepath.Join(t.TempDir(), "logs")
	before := testutil.ToFloat64(metrics.SupportBundlesTotal.WithLabelValues(metrics.ResultCompleted))

	file := NewCollector(session, WithUploader(up)).Collect(context.Background(), "VIO-prod", dir)
	assert.Equal(t, "vio-support-20160101.tar.gz", file)
	assert.Equal(t, 1, session.logins)
	assert.Equal(t, []string{"VIO-prod"}, session.deployments)

	data, err := os.ReadFile(filepath.Join(dir, file))
	require.NoError(t, err)
	assert.Equal(t, "bundle of vio-support-20160101.tar.gz", string(data))
	assert.Equal(t, []string{filepath.Join(dir, file)}, up.paths)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SupportBundlesTotal.WithLabelValues(metrics.ResultCompleted)))
}

func TestCollectDefaultDeployment(t *testing.T) {
	session := &fakeSession{bundleResp: bundleResponse()}
	NewCollector(session).Collect(context.Background(), "", t.TempDir())
	assert.Equal(t, []string{DefaultDeployment}, session.deployments)
}

func TestCollectSwallowsErrors(t *testing.T) {
	tests := []struct {
		name    string
		session *fakeSession
	}{
		{name: "login", session: &fakeSession{loginErr: errors.New("401"), bundleResp: bundleResponse()}},
		{name: "status", session: &fakeSession{bundleResp: &oms.Response{StatusCode: 500, Body: []byte("boom")}}},
		{name: "path", session: &fakeSession{bundleResp: &oms.Response{StatusCode: 200}}},
		{name: "download", session: &fakeSession{bundleResp: bundleResponse(), downloadErr: errors.New("reset")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			up := &fakeUploader{}
			before := testutil.ToFloat64(metrics.SupportBundlesTotal.WithLabelValues(metrics.ResultFailed))

			file := NewCollector(tt.session, WithUploader(up)).Collect(context.Background(), "VIO", dir)
			assert.Equal(t, "", file)
			assert.Empty(t, up.paths)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.SupportBundlesTotal.WithLabelValues(metrics.ResultFailed)))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no partial bundle left behind")
		})
	}
}

func TestS3Uploader(t *testing.T) {
	var mu sync.Mutex
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotMethod, gotPath, gotBody = r.Method, r.URL.Path, string(body)
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := NewS3Uploader(context.Background(), S3Config{
		Bucket:          "bundles",
		Prefix:          "ci/run-1",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
	})
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "vio-support.tgz")
	require.NoError(t, os.WriteFile(file, []byte("support bundle content"), 0o644))

	location, err := up.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(location, "/bundles/ci/run-1/vio-support.tgz"), location)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/bundles/ci/run-1/vio-support.tgz", gotPath)
	assert.Contains(t, gotBody, "support bundle content")
}

func TestNewS3UploaderRequiresBucketAndRegion(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = NewS3Uploader(context.Background(), S3Config{Bucket: "b"})
	assert.Error(t, err)
}
