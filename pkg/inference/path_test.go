package inference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateModelPath(t *testing.T) {
	allowedDir := t.TempDir()
	otherDir := t.TempDir()

	modelPath := filepath.Join(allowedDir, "model.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("model"), 0o644))
	otherModelPath := filepath.Join(otherDir, "model.onnx")
	require.NoError(t, os.WriteFile(otherModelPath, []byte("model"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(allowedDir, "dir.onnx"), 0o755))

	policy := DefaultPathPolicy()
	policy.AllowedDirs = []string{allowedDir}

	for _, tc := range []struct {
		name        string
		path        string
		expectedErr error
	}{
		{"valid", modelPath, nil},
		{"empty", "", ErrPathEmpty},
		{"nul", modelPath + "\x00.onnx", ErrPathInvalidCharacters},
		{"traversal_raw", allowedDir + "/../x/model.onnx", ErrPathTraversal},
		{"relative", "model.onnx", ErrPathNotAbsolute},
		{"extension", filepath.Join(allowedDir, "model.exe"), ErrPathBadExtension},
		{"outside", otherModelPath, ErrPathOutsideAllowedDirs},
		{"allowed_dir_itself", allowedDir + ".onnx", ErrPathOutsideAllowedDirs},
		{"missing", filepath.Join(allowedDir, "missing.onnx"), ErrModelNotFound},
		{"directory", filepath.Join(allowedDir, "dir.onnx"), ErrModelNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateModelPath(tc.path, policy)
			if tc.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.expectedErr)
			var pathErr *PathError
			require.True(t, errors.As(err, &pathErr))
			assert.Equal(t, tc.path, pathErr.Path)
		})
	}
}

func TestValidateModelPathSymlinkEscape(t *testing.T) {
	allowedDir := t.TempDir()
	otherDir := t.TempDir()
	target := filepath.Join(otherDir, "secret.onnx")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(allowedDir, "link.onnx")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks are not supported: %v", err)
	}

	policy := DefaultPathPolicy()
	policy.AllowedDirs = []string{allowedDir}
	require.ErrorIs(t, ValidateModelPath(link, policy), ErrPathOutsideAllowedDirs)
}

func TestValidateModelPathNoAllowedDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.ErrorIs(t, ValidateModelPath(path, DefaultPathPolicy()), ErrPathOutsideAllowedDirs)
}
