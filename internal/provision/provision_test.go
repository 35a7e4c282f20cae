package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ticos/ticos-e2e/internal/identity"
	"github.com/ticos/ticos-e2e/pkg/executer"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
	"go.uber.org/mock/gomock"
)

func newTestProvisioner(t *testing.T) (*Provisioner, *executer.MockExecuter) {
	ctrl := gomock.NewController(t)
	mockExec := executer.NewMockExecuter(ctrl)
	return NewProvisioner(mockExec, ticoslog.Discard()), mockExec
}

func writeTemplate(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "core-image-ticos.wic")
	require.NoError(t, os.WriteFile(p, []byte("template-bytes"), 0o644))
	return p
}

func TestProvision(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	template := writeTemplate(t, dir)
	id := identity.Identity{DeviceID: "0f5c2a6e-1d7b-4c1e-9a57-5b1f7e0e2d11", HardwareVersion: "qemuarm64"}

	p, mockExec := newTestProvisioner(t)
	copyPath := filepath.Join(workDir, "core-image-ticos.0f5c2a6e.copy.wic")

	var localScript string
	gomock.InOrder(
		mockExec.EXPECT().LookPath("wic").Return("/usr/bin/wic", nil),
		mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "ls", copyPath+":2/usr/bin/").
			Return("ticosd\nticos-device-info\nticosctl\n", "", 0),
		mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "rm", copyPath+":2/usr/bin/ticos-device-info").
			Return("", "", 0),
		mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "cp", gomock.Any(), copyPath+":2/usr/bin/").
			DoAndReturn(func(_ context.Context, _ string, args ...string) (string, string, int) {
				localScript = args[1]
				script, err := os.ReadFile(localScript)
				require.NoError(err)
				require.Equal(string(id.Script()), string(script))
				info, err := os.Stat(localScript)
				require.NoError(err)
				require.Equal(os.FileMode(0o755), info.Mode().Perm())
				return "", "", 0
			}),
	)

	img, err := p.Provision(ctx, template, workDir, id)
	require.NoError(err)
	require.Equal(copyPath, img.Path)
	require.Equal(id, img.Identity)

	contents, err := os.ReadFile(img.Path)
	require.NoError(err)
	require.Equal("template-bytes", string(contents))

	require.Equal("ticos-device-info", filepath.Base(localScript))
	require.NoDirExists(filepath.Dir(localScript), "identity script left in the work dir")
	entries, err := os.ReadDir(workDir)
	require.NoError(err)
	require.Len(entries, 1)

	require.NoError(img.Remove())
	require.NoError(img.Remove())
	_, err = os.Stat(template)
	require.NoError(err)
}

func TestProvisionSkipsRemoveWhenScriptMissing(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	template := writeTemplate(t, dir)
	id := identity.Identity{DeviceID: "abc", HardwareVersion: "hw"}

	p, mockExec := newTestProvisioner(t)
	mockExec.EXPECT().LookPath("wic").Return("/usr/bin/wic", nil)
	mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "ls", gomock.Any()).Return("ticosd\n", "", 0)
	mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "cp", gomock.Any(), gomock.Any()).Return("", "", 0)

	img, err := p.Provision(context.Background(), template, dir, id)
	require.NoError(err)
	require.FileExists(img.Path)
}

func TestProvisionFailureRemovesCopy(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	template := writeTemplate(t, dir)
	id := identity.Identity{DeviceID: "dev-1", HardwareVersion: "hw"}

	p, mockExec := newTestProvisioner(t)
	mockExec.EXPECT().LookPath("wic").Return("/usr/bin/wic", nil)
	mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "ls", gomock.Any()).Return("", "", 0)
	mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "cp", gomock.Any(), gomock.Any()).
		Return("", "partition 2 not found", 1)

	img, err := p.Provision(context.Background(), template, dir, id)
	require.Nil(img)
	var perr *Error
	require.ErrorAs(err, &perr)
	require.Equal("insert identity script", perr.Op)
	require.Contains(err.Error(), "partition 2 not found")

	entries, err := os.ReadDir(dir)
	require.NoError(err)
	for _, e := range entries {
		require.False(strings.Contains(e.Name(), ".copy"), "partial copy %s left behind", e.Name())
	}
	contents, err := os.ReadFile(template)
	require.NoError(err)
	require.Equal("template-bytes", string(contents))
}

func TestProvisionKeepsExistingCopy(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	template := writeTemplate(t, dir)
	id := identity.Identity{DeviceID: "dev-1", HardwareVersion: "hw"}

	p, mockExec := newTestProvisioner(t)
	mockExec.EXPECT().LookPath("wic").Return("/usr/bin/wic", nil).Times(2)
	mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "ls", gomock.Any()).Return("", "", 0)
	mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "cp", gomock.Any(), gomock.Any()).Return("", "", 0)

	first, err := p.Provision(context.Background(), template, dir, id)
	require.NoError(err)

	second, err := p.Provision(context.Background(), template, dir, id)
	require.Nil(second)
	var perr *Error
	require.ErrorAs(err, &perr)
	require.Equal("copy template", perr.Op)
	require.ErrorIs(err, os.ErrExist)

	contents, err := os.ReadFile(first.Path)
	require.NoError(err, "the failed call removed an image it did not create")
	require.Equal("template-bytes", string(contents))
}

func TestProvisionMissingTool(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir)
	p, mockExec := newTestProvisioner(t)
	mockExec.EXPECT().LookPath("wic").Return("", errors.New("not found"))

	_, err := p.Provision(context.Background(), template, dir, identity.Identity{DeviceID: "x", HardwareVersion: "y"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "locate image tool", perr.Op)
}

func TestProvisionInvalidIdentity(t *testing.T) {
	p, _ := newTestProvisioner(t)
	_, err := p.Provision(context.Background(), "img.wic", t.TempDir(), identity.Identity{DeviceID: "a b", HardwareVersion: "hw"})
	require.Error(t, err)
}

func TestProvisionMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	p, mockExec := newTestProvisioner(t)
	mockExec.EXPECT().LookPath("wic").Return("/usr/bin/wic", nil)

	_, err := p.Provision(context.Background(), filepath.Join(dir, "missing.wic"), dir, identity.Identity{DeviceID: "x", HardwareVersion: "y"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerify(t *testing.T) {
	id := identity.Identity{DeviceID: "dev-42", HardwareVersion: "qemuarm64"}
	img := &Image{Path: "/tmp/x.wic", Identity: id, Partition: 2, ScriptPath: "/usr/bin/ticos-device-info"}

	tests := []struct {
		name    string
		script  []byte
		wantErr bool
	}{
		{name: "matching identity", script: id.Script()},
		{name: "other identity", script: identity.Identity{DeviceID: "dev-43", HardwareVersion: "qemuarm64"}.Script(), wantErr: true},
		{name: "not an identity script", script: []byte("#!/bin/sh\nexit 0\n"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p, mockExec := newTestProvisioner(t)
			mockExec.EXPECT().ExecuteWithContext(gomock.Any(), "wic", "cp", "/tmp/x.wic:2/usr/bin/ticos-device-info", gomock.Any()).
				DoAndReturn(func(_ context.Context, _ string, args ...string) (string, string, int) {
					dst := filepath.Join(args[2], "ticos-device-info")
					if err := os.WriteFile(dst, tt.script, 0o755); err != nil {
						return "", err.Error(), 1
					}
					return "", "", 0
				})

			err := p.Verify(context.Background(), img, dir)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCopyName(t *testing.T) {
	id := identity.Identity{DeviceID: "12345678-aaaa", HardwareVersion: "hw"}
	require.Equal(t, "disk.12345678.copy.wic", copyName("/images/disk.wic", id))
	require.Equal(t, "disk.12345678.copy", copyName("/images/disk", id))
}
