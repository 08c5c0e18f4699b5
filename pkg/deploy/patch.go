package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/remote"
)

// UpgradePatchMarker marks patch files that carry a new release and are
// followed by a blue/green upgrade.
const UpgradePatchMarker = "vio-upgrade-"

// PatchDir is where patch files are copied on the appliance
const PatchDir = "/tmp"

// Patch identifies a patch by the first two "_" separated fields of its
// file name, e.g. vio-patch-201_2.0.1.3309787_all.deb.
type Patch struct {
	Name    string
	Version string
}

// ParsePatchFile extracts the patch name and version from a file path
func ParsePatchFile(file string) (Patch, error) {
	parts := strings.Split(filepath.Base(file), "_")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Patch{}, &errdefs.NotSupportedError{Reason: fmt.Sprintf("patch file name %q is not <name>_<version>_...", filepath.Base(file))}
	}
	return Patch{Name: parts[0], Version: parts[1]}, nil
}

// IsUpgradePatch reports whether the file name of file contains the
// upgrade marker. Directory names are not considered.
func IsUpgradePatch(file string) bool {
	return strings.Contains(filepath.Base(file), UpgradePatchMarker)
}

// PatchInfo is one row of "viopatch list"
type PatchInfo struct {
	Name      string
	Version   string
	Type      string
	Installed bool
}

// ParsePatchList finds version in "viopatch list" output. The first two
// lines are the table header.
func ParsePatchList(output, version string) (PatchInfo, error) {
	lines := strings.Split(output, "\n")
	if len(lines) > 2 {
		lines = lines[2:]
	} else {
		lines = nil
	}
	for _, line := range lines {
		items := strings.Fields(line)
		if len(items) < 3 {
			continue
		}
		if items[1] == version {
			return PatchInfo{
				Name:      items[0],
				Version:   items[1],
				Type:      items[2],
				Installed: items[len(items)-1] == "Yes",
			}, nil
		}
	}
	return PatchInfo{}, &errdefs.NotSupportedError{Reason: fmt.Sprintf("patch %s not added", version)}
}

// Patcher installs patches on the appliance
type Patcher struct {
	remote Remote
	logger zerolog.Logger
}

// NewPatcher creates a patcher
func NewPatcher(rc Remote) *Patcher {
	return &Patcher{remote: rc, logger: log.WithComponent("patch")}
}

// Apply copies file to the appliance, installs it and checks that the
// patch is listed as installed.
func (p *Patcher) Apply(ctx context.Context, file string) error {
	patch, err := ParsePatchFile(file)
	if err != nil {
		return err
	}
	logger := p.logger.With().Str("patch", patch.Name).Str("version", patch.Version).Logger()

	remotePath, err := p.remote.CopyFile(ctx, file, PatchDir)
	if err != nil {
		return err
	}

	logger.Info().Msg("Start to apply patch")
	sudo := remote.Options{Sudo: true, RaiseOnError: true}
	if _, err := p.remote.Run(ctx, "viopatch add -l "+remotePath, sudo); err != nil {
		return err
	}

	install := sudo
	install.Input = "Y"
	cmd := fmt.Sprintf("viopatch install --patch %s --version %s --as-infra", patch.Name, patch.Version)
	if _, err := p.remote.Run(ctx, cmd, install); err != nil {
		return err
	}

	res, err := p.remote.Run(ctx, "viopatch list", sudo)
	if err != nil {
		return err
	}
	info, err := ParsePatchList(res.Output, patch.Version)
	if err != nil {
		return err
	}
	if !info.Installed {
		logger.Error().Interface("patch_info", info).Msg("Applying patch failed")
		return &errdefs.NotCompletedError{Action: "applying " + file, Detail: "patch not reported as installed"}
	}

	logger.Info().Msg("Successfully applied patch")
	return nil
}
