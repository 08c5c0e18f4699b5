package deploy

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/panda/pkg/cluster"
	"github.com/cuemby/panda/pkg/errdefs"
)

const mgmtVC = "192.168.111.130"

func staticThumbprint(calls *[]string) ThumbprintFunc {
	return func(ctx context.Context, host string, port int) (string, error) {
		*calls = append(*calls, host)
		return "AA:BB:CC", nil
	}
}

// createdReader reports the cluster missing, then RUNNING once created
func createdReader() *fakeReader {
	return &fakeReader{answers: []bool{false}, running: true}
}

func TestGeneratePlanDVSSwapsDataNetwork(t *testing.T) {
	api := &fakeClusterAPI{}
	v := NewVIO(api, &fakeValidator{}, &fakeReader{}, &fakeRemote{}, nil, mgmtVC)
	spec := testSpec(cluster.BackendDVS, mgmtVC)

	require.NoError(t, v.GeneratePlan(context.Background(), spec))
	assert.Equal(t, "mgmt-pg", api.planNetwork)
	assert.Equal(t, "data-pg", spec.Network("DATA_NETWORK"))
	assert.Equal(t, `{"placement":"generated"}`, spec.Plan())
}

func TestGeneratePlanFailureRestoresNetwork(t *testing.T) {
	api := &fakeClusterAPI{planStatus: http.StatusInternalServerError}
	v := NewVIO(api, &fakeValidator{}, &fakeReader{}, &fakeRemote{}, nil, mgmtVC)
	spec := testSpec(cluster.BackendDVS, mgmtVC)

	err := v.GeneratePlan(context.Background(), spec)
	assert.ErrorIs(t, err, errdefs.ErrProvision)
	assert.Equal(t, "data-pg", spec.Network("DATA_NETWORK"))
	assert.Empty(t, spec.Plan())
}

func TestGeneratePlanNSXKeepsNetworks(t *testing.T) {
	api := &fakeClusterAPI{}
	v := NewVIO(api, &fakeValidator{}, &fakeReader{}, &fakeRemote{}, nil, mgmtVC)

	require.NoError(t, v.GeneratePlan(context.Background(), testSpec(cluster.BackendNSXV, mgmtVC)))
	assert.Equal(t, "data-pg", api.planNetwork)
}

func TestDeployOpenstackSingleVC(t *testing.T) {
	api := &fakeClusterAPI{}
	var prints []string
	v := NewVIO(api, &fakeValidator{}, createdReader(), &fakeRemote{}, staticThumbprint(&prints), mgmtVC)

	state := &State{Spec: testSpec(cluster.BackendDVS, mgmtVC)}
	skipped, err := v.DeployOpenstack(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, []string{"PUT clusters/plan", "POST clusters"}, api.requests)
	assert.Empty(t, prints)
}

func TestDeployOpenstackRunningClusterSendsNothing(t *testing.T) {
	api := &fakeClusterAPI{}
	var prints []string
	reader := &fakeReader{running: true}
	v := NewVIO(api, &fakeValidator{}, reader, &fakeRemote{}, staticThumbprint(&prints), mgmtVC)

	for i := 0; i < 2; i++ {
		skipped, err := v.DeployOpenstack(context.Background(), &State{Spec: testSpec(cluster.BackendDVS, "192.168.120.10")})
		require.NoError(t, err)
		assert.True(t, skipped)
	}
	assert.Empty(t, api.requests)
	assert.Empty(t, prints)
	assert.Equal(t, 2, reader.asked)
}

func TestDeployOpenstackKeepsExistingPlan(t *testing.T) {
	api := &fakeClusterAPI{}
	v := NewVIO(api, &fakeValidator{}, createdReader(), &fakeRemote{}, nil, mgmtVC)

	spec := testSpec(cluster.BackendDVS, mgmtVC)
	spec.SetPlan(`{"placement":"given"}`)
	_, err := v.DeployOpenstack(context.Background(), &State{Spec: spec})
	require.NoError(t, err)
	assert.Equal(t, []string{"POST clusters"}, api.requests)
	assert.Equal(t, `{"placement":"given"}`, spec.Plan())
}

func TestDeployOpenstackMultiVC(t *testing.T) {
	api := &fakeClusterAPI{}
	var prints []string
	v := NewVIO(api, &fakeValidator{}, createdReader(), &fakeRemote{}, staticThumbprint(&prints), mgmtVC)

	state := &State{Spec: testSpec(cluster.BackendDVS, "192.168.120.10")}
	_, err := v.DeployOpenstack(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []string{"POST vc", "PUT clusters/plan", "POST clusters"}, api.requests)
	assert.Equal(t, []string{"192.168.120.10"}, prints)

	require.NotNil(t, api.vc)
	assert.Equal(t, "192.168.120.10", api.vc.Hostname)
	assert.Equal(t, VCenterPort, api.vc.Port)
	assert.Equal(t, "admin", api.vc.Username)
	assert.Equal(t, "AA:BB:CC", api.vc.Thumbprint)
}

func TestAddComputeVCResolvesFQDN(t *testing.T) {
	api := &fakeClusterAPI{}
	var prints []string
	rc := &fakeRemote{outputs: map[string]string{"python -c": "vc2.example.com\n"}}
	v := NewVIO(api, &fakeValidator{}, &fakeReader{}, rc, staticThumbprint(&prints), mgmtVC)

	require.NoError(t, v.AddComputeVC(context.Background(), "192.168.120.10", "admin", "pw", "false"))
	assert.Equal(t, "vc2.example.com", api.vc.Hostname)

	require.NoError(t, v.AddComputeVC(context.Background(), "vc3.example.com", "admin", "pw", "false"))
	assert.Equal(t, "vc3.example.com", api.vc.Hostname)
	assert.Len(t, rc.calls, 1)
}

func TestAddComputeVCRejected(t *testing.T) {
	api := &fakeClusterAPI{vcStatus: http.StatusBadRequest}
	var prints []string
	v := NewVIO(api, &fakeValidator{}, &fakeReader{}, &fakeRemote{}, staticThumbprint(&prints), mgmtVC)

	err := v.AddComputeVC(context.Background(), "192.168.120.10", "admin", "pw", "true")
	var pe *errdefs.ProvisionError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Cause, "HTTP 400")
}

func TestCreateClusterRunning(t *testing.T) {
	tracker := &fakeValidator{}
	v := NewVIO(&fakeClusterAPI{}, tracker, &fakeReader{running: true}, &fakeRemote{}, nil, mgmtVC)

	require.NoError(t, v.CreateCluster(context.Background(), testSpec(cluster.BackendDVS, mgmtVC)))
	assert.Equal(t, []string{"create cluster"}, tracker.ops)
}

func TestCreateClusterTaskErrorButRunning(t *testing.T) {
	tracker := &fakeValidator{err: errors.New("task timed out")}
	v := NewVIO(&fakeClusterAPI{}, tracker, &fakeReader{running: true}, &fakeRemote{}, nil, mgmtVC)

	assert.NoError(t, v.CreateCluster(context.Background(), testSpec(cluster.BackendDVS, mgmtVC)))
}

func TestCreateClusterNotRunning(t *testing.T) {
	reader := &fakeReader{cause: cluster.CauseExecution}
	v := NewVIO(&fakeClusterAPI{}, &fakeValidator{}, reader, &fakeRemote{}, nil, mgmtVC)

	err := v.CreateCluster(context.Background(), testSpec(cluster.BackendDVS, mgmtVC))
	var pe *errdefs.ProvisionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "cluster VIO is not running", pe.Reason)
	assert.Equal(t, string(cluster.CauseExecution), pe.Cause)
}

func TestCreateClusterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &fakeReader{}
	v := NewVIO(&fakeClusterAPI{}, &fakeValidator{err: context.Canceled}, reader, &fakeRemote{}, nil, mgmtVC)

	err := v.CreateCluster(ctx, testSpec(cluster.BackendDVS, mgmtVC))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, reader.asked)
}
