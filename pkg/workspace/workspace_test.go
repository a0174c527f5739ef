package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New(t.TempDir())
	require.NoError(t, err)
	return w
}

func TestNewOutputDirIsUnique(t *testing.T) {
	w := newTestWorkspace(t)

	a, err := w.NewOutputDir(1, types.CapabilityLabeling)
	require.NoError(t, err)
	b, err := w.NewOutputDir(1, types.CapabilityLabeling)
	require.NoError(t, err)
	c, err := w.NewOutputDir(1, types.CapabilityTraining)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(filepath.Base(a), "marked_"))
	assert.True(t, strings.HasPrefix(filepath.Base(c), "training_"))
	assert.DirExists(t, a)
	assert.Equal(t, w.TaskDir(1), filepath.Dir(a))
}

func TestHasOutput(t *testing.T) {
	w := newTestWorkspace(t)

	ok, err := w.HasOutput("")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = w.HasOutput(filepath.Join(w.TaskDir(9), "missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	dir, err := w.NewOutputDir(9, types.CapabilityTraining)
	require.NoError(t, err)
	ok, err = w.HasOutput(dir)
	require.NoError(t, err)
	assert.False(t, ok, "empty directory has no output")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "samples"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "samples", "s1.png"), []byte("x"), 0644))
	ok, err = w.HasOutput(dir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPurgeKeepsDirectory(t *testing.T) {
	w := newTestWorkspace(t)
	dir, err := w.NewOutputDir(2, types.CapabilityLabeling)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("caption"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))

	require.NoError(t, w.Purge(dir))

	assert.DirExists(t, dir)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Error(t, w.Purge("/etc"))
	assert.NoError(t, w.Purge(""))
}

func TestReadCaptions(t *testing.T) {
	w := newTestWorkspace(t)
	dir, err := w.NewOutputDir(3, types.CapabilityLabeling)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte(" a dog on grass \n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a cat"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("  "), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("img"), 0644))

	captions, err := w.ReadCaptions(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a cat", "a dog on grass"}, captions)
}

func TestSaveImage(t *testing.T) {
	w := newTestWorkspace(t)

	name, err := w.SaveImage(4, "../../etc/passwd.png", strings.NewReader("img"))
	require.NoError(t, err)
	assert.Equal(t, "passwd.png", name)

	dir, err := w.InputDir(4)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "passwd.png"))

	_, err = w.SaveImage(4, ".hidden", strings.NewReader("x"))
	assert.Error(t, err)

	require.NoError(t, w.RemoveTask(4))
	assert.NoDirExists(t, w.TaskDir(4))
}
