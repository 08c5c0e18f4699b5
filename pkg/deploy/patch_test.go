package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/panda/pkg/errdefs"
)

const patchList = `Name                     Version         Type        Installed
-------------------------------------------------------------------
vio-patch-201            2.0.1.3309787   infra       Yes
vio-upgrade-210          2.1.0.3390226   infra       No
`

func TestParsePatchFile(t *testing.T) {
	p, err := ParsePatchFile("/builds/vio-patch-201_2.0.1.3309787_all.deb")
	require.NoError(t, err)
	assert.Equal(t, Patch{Name: "vio-patch-201", Version: "2.0.1.3309787"}, p)

	_, err = ParsePatchFile("/builds/vio-patch.deb")
	assert.ErrorIs(t, err, errdefs.ErrNotSupported)
}

func TestIsUpgradePatch(t *testing.T) {
	assert.True(t, IsUpgradePatch("/builds/vio-upgrade-210_2.1.0.3390226_all.deb"))
	assert.True(t, IsUpgradePatch("/builds/hotfix-vio-upgrade-211_2.1.1.3400000_all.deb"))
	assert.False(t, IsUpgradePatch("/builds/vio-patch-201_2.0.1.3309787_all.deb"))
	assert.False(t, IsUpgradePatch("/vio-upgrade-dir/vio-patch-201_2.0.1_all.deb"))
}

func TestParsePatchList(t *testing.T) {
	info, err := ParsePatchList(patchList, "2.0.1.3309787")
	require.NoError(t, err)
	assert.Equal(t, PatchInfo{Name: "vio-patch-201", Version: "2.0.1.3309787", Type: "infra", Installed: true}, info)

	info, err = ParsePatchList(patchList, "2.1.0.3390226")
	require.NoError(t, err)
	assert.False(t, info.Installed)

	_, err = ParsePatchList(patchList, "3.0.0")
	assert.ErrorIs(t, err, errdefs.ErrNotSupported)

	_, err = ParsePatchList("Name Version Type Installed\n", "2.0.1.3309787")
	assert.ErrorIs(t, err, errdefs.ErrNotSupported)
}

func TestApplyPatch(t *testing.T) {
	rc := &fakeRemote{outputs: map[string]string{"viopatch list": patchList}}
	p := NewPatcher(rc)

	require.NoError(t, p.Apply(context.Background(), "/builds/vio-patch-201_2.0.1.3309787_all.deb"))
	assert.Equal(t, []string{"/builds/vio-patch-201_2.0.1.3309787_all.deb"}, rc.copied)
	assert.Equal(t, []string{
		"viopatch add -l /tmp/vio-patch-201_2.0.1.3309787_all.deb",
		"viopatch install --patch vio-patch-201 --version 2.0.1.3309787 --as-infra",
		"viopatch list",
	}, rc.commands())
	assert.Equal(t, "Y", rc.calls[1].opts.Input)
	assert.True(t, rc.calls[1].opts.Sudo)
}

func TestApplyPatchNotInstalled(t *testing.T) {
	rc := &fakeRemote{outputs: map[string]string{"viopatch list": patchList}}

	err := NewPatcher(rc).Apply(context.Background(), "/builds/vio-upgrade-210_2.1.0.3390226_all.deb")
	var nc *errdefs.NotCompletedError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, "applying /builds/vio-upgrade-210_2.1.0.3390226_all.deb", nc.Action)
}

func TestApplyPatchNotListed(t *testing.T) {
	rc := &fakeRemote{outputs: map[string]string{"viopatch list": patchList}}

	err := NewPatcher(rc).Apply(context.Background(), "/builds/vio-patch-300_3.0.0_all.deb")
	assert.ErrorIs(t, err, errdefs.ErrNotSupported)
}

func TestApplyPatchInstallFails(t *testing.T) {
	rc := &fakeRemote{fail: map[string]int{"viopatch install": 1}}

	err := NewPatcher(rc).Apply(context.Background(), "/builds/vio-patch-201_2.0.1.3309787_all.deb")
	assert.ErrorIs(t, err, errdefs.ErrRemote)
	assert.Len(t, rc.calls, 2)
}
