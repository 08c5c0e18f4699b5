package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/panda/pkg/types"
)

// Environment variables that override secrets of the run file
const (
	EnvVCPassword        = "PANDA_VC_PASSWORD"
	EnvOMSPassword       = "PANDA_OMS_PASSWORD"
	EnvAdminPassword     = "PANDA_ADMIN_PASSWORD"
	EnvS3AccessKeyID     = "PANDA_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "PANDA_S3_SECRET_ACCESS_KEY"
	EnvNSXVPassword      = "PANDA_NSXV_PASSWORD"
)

// LatestBuild as the build id picks the newest release build of the branch
const LatestBuild = "latest"

// Defaults
const (
	DefaultOvftool       = "/usr/bin/ovftool"
	DefaultCooldown      = 3 * time.Minute
	DefaultHealthDelay   = 10 * time.Second
	DefaultHealthTimeout = 500 * time.Second
)

// Run describes one end-to-end run: the management server appliance, the
// vCenter it lives in and what to do after the cluster is up.
type Run struct {
	// Appliance
	// Build is a build id, or LatestBuild for the newest release build of Branch
	Build     string `yaml:"build" validate:"required_without=OVAPath"`
	Branch    string `yaml:"branch" validate:"required_if=Build latest"`
	OVAPath   string `yaml:"ova_path"`
	Username  string `yaml:"username" validate:"required"`
	Password  string `yaml:"password" validate:"required"`
	HostIP    string `yaml:"host_ip" validate:"required,ip"`
	Netmask   string `yaml:"netmask" validate:"required,ipv4"`
	Gateway   string `yaml:"gateway" validate:"required,ip"`
	DNS       string `yaml:"dns" validate:"omitempty,ip"`
	NTPServer string `yaml:"ntp_server"`
	Network   string `yaml:"network" validate:"required"`

	// vCenter hosting the appliance
	VCHost     string `yaml:"vc_host" validate:"required"`
	VCUser     string `yaml:"vc_user" validate:"required"`
	VCPassword string `yaml:"vc_password" validate:"required"`
	Datacenter string `yaml:"datacenter" validate:"required"`
	Cluster    string `yaml:"cluster" validate:"required"`
	Datastore  string `yaml:"datastore" validate:"required"`

	OMJSProperties map[string]string `yaml:"omjs_properties"`
	Patches        []string          `yaml:"patches"`
	PublicVIPPool  []string          `yaml:"public_vip_pool" validate:"dive,ip"`
	PrivateVIPPool []string          `yaml:"private_vip_pool" validate:"dive,ip"`

	// Version of the appliance; looked up from the vApp when empty
	Version string `yaml:"version"`

	// OpenStack admin credentials sent by upgrades to version 3 and later
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`

	BuildAPIURL  string        `yaml:"buildapi_url" validate:"omitempty,url"`
	Timing       Timing        `yaml:"timing"`
	BundleUpload *BundleUpload `yaml:"bundle_upload"`
}

// Timing overrides the fixed waits of a run
type Timing struct {
	Ovftool string `yaml:"ovftool"`

	// ApplianceCooldown separates the two ovftool attempts
	ApplianceCooldown time.Duration `yaml:"appliance_cooldown" validate:"gte=0"`

	// PatchCooldown precedes every patch
	PatchCooldown time.Duration `yaml:"patch_cooldown" validate:"gte=0"`

	HealthDelay   time.Duration `yaml:"health_delay" validate:"gte=0"`
	HealthTimeout time.Duration `yaml:"health_timeout" validate:"gte=0"`
}

// BundleUpload sends collected support bundles to an S3 bucket
type BundleUpload struct {
	Bucket          string `yaml:"bucket" validate:"required"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region" validate:"required"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads a YAML (or JSON) run file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes data. Unknown keys are an error.
func Parse(data []byte, lookup func(string) (string, bool)) (*Run, error) {
	var run Run
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	run.ApplyEnv(lookup)
	run.ApplyDefaults()
	if err := run.Validate(); err != nil {
		return nil, err
	}
	return &run, nil
}

// ApplyEnv replaces secrets with the environment values, when set
func (r *Run) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&r.VCPassword, EnvVCPassword)
	set(&r.Password, EnvOMSPassword)
	set(&r.AdminPassword, EnvAdminPassword)
	if r.BundleUpload != nil {
		set(&r.BundleUpload.AccessKeyID, EnvS3AccessKeyID)
		set(&r.BundleUpload.SecretAccessKey, EnvS3SecretAccessKey)
	}
}

// ApplyDefaults fills unset optional fields
func (r *Run) ApplyDefaults() {
	r.OVAPath = strings.TrimSpace(r.OVAPath)
	if r.Timing.Ovftool == "" {
		r.Timing.Ovftool = DefaultOvftool
	}
	if r.Timing.ApplianceCooldown == 0 {
		r.Timing.ApplianceCooldown = DefaultCooldown
	}
	if r.Timing.PatchCooldown == 0 {
		r.Timing.PatchCooldown = DefaultCooldown
	}
	if r.Timing.HealthDelay == 0 {
		r.Timing.HealthDelay = DefaultHealthDelay
	}
	if r.Timing.HealthTimeout == 0 {
		r.Timing.HealthTimeout = DefaultHealthTimeout
	}
}

// Validate checks field constraints
func (r *Run) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Run.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment.
// Variables that are already set win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadClusterSpec reads an OMS deployment spec from a JSON file
func LoadClusterSpec(path string) (*types.DeploymentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster spec: %w", err)
	}
	var spec types.DeploymentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse cluster spec %s: %w", path, err)
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("cluster spec %s has no name", path)
	}
	return &spec, nil
}
