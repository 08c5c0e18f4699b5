package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRun = `
build: "3037963"
username: viouser
password: vmware
host_ip: 192.168.111.151
gateway: 192.168.111.1
netmask: 255.255.255.0
dns: 192.168.111.1
network: VM Network
vc_host: 192.168.111.130
vc_user: Administrator@vsphere.local
vc_password: Admin!23
datacenter: vio-datacenter
cluster: mgmt_cluster
datastore: vdnetSharedStorage
omjs_properties:
  oms.use_linked_clone: "true"
patches:
  - vio-patch-201_2.0.1.3309787_all.deb
public_vip_pool: [192.168.112.201, 192.168.112.202]
private_vip_pool: [192.168.111.201, 192.168.111.202]
timing:
  patch_cooldown: 5s
`

func noEnv(string) (string, bool) { return "", false }

func TestParseDefaults(t *testing.T) {
	run, err := Parse([]byte(sampleRun), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "3037963", run.Build)
	assert.Equal(t, "true", run.OMJSProperties["oms.use_linked_clone"])
	assert.Len(t, run.PublicVIPPool, 2)
	assert.Equal(t, 5*time.Second, run.Timing.PatchCooldown)
	assert.Equal(t, DefaultCooldown, run.Timing.ApplianceCooldown)
	assert.Equal(t, DefaultHealthDelay, run.Timing.HealthDelay)
	assert.Equal(t, DefaultHealthTimeout, run.Timing.HealthTimeout)
	assert.Equal(t, DefaultOvftool, run.Timing.Ovftool)
	assert.Nil(t, run.BundleUpload)
}

func TestParseJSON(t *testing.T) {
	doc := `{"ova_path": " /images/VMware-OpenStack-2.0.0.1_OVF10.ova ", "username": "viouser", "password": "p",
"host_ip": "10.0.0.5", "gateway": "10.0.0.1", "netmask": "255.255.255.0", "network": "VM Network",
"vc_host": "vc", "vc_user": "u", "vc_password": "p", "datacenter": "dc", "cluster": "c", "datastore": "ds"}`

	run, err := Parse([]byte(doc), noEnv)
	require.NoError(t, err)
	assert.Equal(t, "/images/VMware-OpenStack-2.0.0.1_OVF10.ova", run.OVAPath)
	assert.Empty(t, run.Build)
}

func TestParseEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvVCPassword:        "from-env",
		EnvOMSPassword:       "oms-env",
		EnvS3SecretAccessKey: "secret",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	doc := sampleRun + "bundle_upload:\n  bucket: bundles\n  region: us-east-1\n"
	run, err := Parse([]byte(doc), lookup)
	require.NoError(t, err)
	assert.Equal(t, "from-env", run.VCPassword)
	assert.Equal(t, "oms-env", run.Password)
	require.NotNil(t, run.BundleUpload)
	assert.Equal(t, "secret", run.BundleUpload.SecretAccessKey)
	assert.Empty(t, run.BundleUpload.AccessKeyID)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing build and ova",
			doc:  "username: u\npassword: p\nhost_ip: 10.0.0.1\ngateway: 10.0.0.1\nnetmask: 255.0.0.0\nnetwork: n\nvc_host: v\nvc_user: u\nvc_password: p\ndatacenter: d\ncluster: c\ndatastore: s\n",
			want: "build: failed required_without=OVAPath",
		},
		{
			name: "latest build without branch",
			doc:  strings.Replace(sampleRun, `build: "3037963"`, "build: latest", 1),
			want: "branch: failed required_if=Build latest",
		},
		{
			name: "bad ip",
			doc:  strings.Replace(sampleRun, "dns: 192.168.111.1", "dns: not-an-ip", 1),
			want: "dns: failed ip",
		},
		{
			name: "bad vip",
			doc:  strings.Replace(sampleRun, "public_vip_pool: [192.168.112.201, 192.168.112.202]", "public_vip_pool: [x]", 1),
			want: "public_vip_pool[0]: failed ip",
		},
		{
			name: "upload without bucket",
			doc:  sampleRun + "bundle_upload:\n  region: r\n",
			want: "bundle_upload.bucket: failed required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), noEnv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseUnknownField(t *testing.T) {
	_, err := Parse([]byte(sampleRun+"unknown_key: 1\n"), noEnv)
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PANDA_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PANDA_TEST_ENV_FILE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("PANDA_TEST_ENV_FILE"))

	assert.NoError(t, LoadEnvFile(""))
	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")))
}

func TestLoadClusterSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "VIO", "attributes": {"plan": ""}, "custom": 1}`), 0o600))

	spec, err := LoadClusterSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "VIO", spec.Name)
	assert.Contains(t, spec.Extra, "custom")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"attributes": {}}`), 0o600))
	_, err = LoadClusterSpec(bad)
	assert.Error(t, err)
}
