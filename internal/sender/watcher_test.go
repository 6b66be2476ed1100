package sender

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_NudgesOnMatchingWrite(t *testing.T) {
	// tmpdir may be a symlink (macos), events carry the resolved path
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	scanner, err := NewScanner(root, DefaultExtensions, nil, nil)
	require.NoError(t, err)

	w := NewWatcher(root, scanner.Accepts)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "world.zip"), []byte("data"), 0o644))

	select {
	case <-w.Nudges():
	case <-time.After(3 * time.Second):
		assert.FailNow(t, "timeout waiting for nudge")
	}
}

func TestWatcher_FilterAndCoalesce(t *testing.T) {
	root := t.TempDir()
	scanner, err := NewScanner(root, DefaultExtensions, nil, nil)
	require.NoError(t, err)

	w := NewWatcher(root, scanner.Accepts)
	w.SetDebounce(10 * time.Millisecond)

	w.handle(filepath.Join(root, "notes.txt"))
	w.handle(filepath.Join(root, ".cache", "x.zip"))
	w.handle(filepath.Join(root, "a", "world.zip"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, w.nudges)

	for i := 0; i < 5; i++ {
		w.handle(filepath.Join(root, "world.tar.gz"))
	}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, w.nudges, 1)
}
