package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		want      string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "absolute path", input: "/tmp/test/../backups", want: "/tmp/backups"},
		{name: "home dir", input: "~", want: home},
		{name: "home relative", input: "~/backups", want: filepath.Join(home, "backups")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePath_Relative(t *testing.T) {
	got, err := ResolvePath("./backups")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestEnsureParentAndExists(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a", "b", "c.txt")

	require.NoError(t, EnsureParent(file))
	assert.True(t, DirExists(filepath.Dir(file)))
	assert.False(t, FileExists(file))

	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
}

func TestIsHidden(t *testing.T) {
	assert.True(t, IsHidden("/srv/.incoming"))
	assert.True(t, IsHidden(".relayignore"))
	assert.False(t, IsHidden("/srv/world.tar.gz"))
	assert.False(t, IsHidden("."))
	assert.False(t, IsHidden(".."))
}
