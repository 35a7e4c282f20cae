package util

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticos/ticos-e2e/pkg/executer"
	"go.uber.org/mock/gomock"
)

func TestSafeExecuter_BlocksTemplateWrites(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "ci-test-image.wic")
	safeExec := NewSafeExecuter(executer.NewMockExecuter(gomock.NewController(t)), template)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
	}{
		{name: "wic rm", args: []string{"rm", template + ":2/usr/bin/ticos-device-info"}},
		{name: "wic cp into image", args: []string{"cp", "/tmp/ticos-device-info", template + ":2/usr/bin/"}},
		{name: "relative path", args: []string{"rm", filepath.Join(dir, ".", "ci-test-image.wic") + ":2/etc/x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := safeExec.ExecuteWithContext(ctx, "wic", tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, "blocked write to a template image")

			_, stderr, code = safeExec.ExecuteWithContextFromDir(ctx, dir, "/usr/bin/wic", tt.args)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, "blocked")
		})
	}
}

func TestSafeExecuter_AllowsCopiesAndReads(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "ci-test-image.wic")
	copyPath := filepath.Join(dir, "ci-test-image.0f5c2a6e.copy.wic")
	mockExec := executer.NewMockExecuter(gomock.NewController(t))
	safeExec := NewSafeExecuter(mockExec, template)
	ctx := context.Background()

	mockExec.EXPECT().ExecuteWithContext(ctx, "wic", "ls", template+":2/usr/bin/").Return("ticosd\n", "", 0)
	mockExec.EXPECT().ExecuteWithContext(ctx, "wic", "rm", copyPath+":2/usr/bin/ticos-device-info").Return("", "", 0)
	mockExec.EXPECT().ExecuteWithContext(ctx, "wic", "cp", template+":2/usr/bin/ticos-device-info", "/tmp/out/").Return("", "", 0)
	mockExec.EXPECT().LookPath("wic").Return("/usr/bin/wic", nil)

	stdout, _, code := safeExec.ExecuteWithContext(ctx, "wic", "ls", template+":2/usr/bin/")
	require.Equal(t, 0, code)
	require.Equal(t, "ticosd\n", stdout)
	_, _, code = safeExec.ExecuteWithContext(ctx, "wic", "rm", copyPath+":2/usr/bin/ticos-device-info")
	require.Equal(t, 0, code)
	// reading from the template into a local directory is fine
	_, _, code = safeExec.ExecuteWithContext(ctx, "wic", "cp", template+":2/usr/bin/ticos-device-info", "/tmp/out/")
	require.Equal(t, 0, code)
	_, err := safeExec.LookPath("wic")
	require.NoError(t, err)
}
