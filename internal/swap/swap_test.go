package swap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/credativ/anysyncd/internal/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMirror simulates the external mirror primitive by copying a marker
// file from src into dst, so assertions can tell which tree ended up live.
type fakeMirror struct {
	calls []string
}

func (m *fakeMirror) Sync(_ context.Context, src, dst string) error {
	m.calls = append(m.calls, src+"->"+dst)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(src, "marker"))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dst, "marker"), data, 0o600)
}

func writeMarker(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte(content), 0o600))
}

func readMarker(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "marker"))
	require.NoError(t, err)
	return string(data)
}

func TestStagingPathIsHiddenSibling(t *testing.T) {
	got := swap.StagingPath("/srv/www")
	assert.Equal(t, "/srv/.www.tmp", got)
}

func TestCommitSwapsStagingIntoProdOnFirstRun(t *testing.T) {
	root := t.TempDir()
	prod := filepath.Join(root, "www")
	csync := filepath.Join(root, "www.csync")
	writeMarker(t, csync, "v1")

	m := &fakeMirror{}
	err := swap.Commit(context.Background(), m, prod, csync)
	require.NoError(t, err)

	assert.Equal(t, "v1", readMarker(t, prod))
	_, err = os.Stat(prod + ".bak")
	assert.True(t, os.IsNotExist(err), "no stale backup should remain after first commit")
}

func TestCommitRecyclesPreviousProdAsStaging(t *testing.T) {
	root := t.TempDir()
	prod := filepath.Join(root, "www")
	csync := filepath.Join(root, "www.csync")
	staging := swap.StagingPath(prod)

	writeMarker(t, prod, "v1")
	writeMarker(t, csync, "v2")

	m := &fakeMirror{}
	require.NoError(t, swap.Commit(context.Background(), m, prod, csync))

	assert.Equal(t, "v2", readMarker(t, prod), "prod should now serve the new content")
	assert.Equal(t, "v1", readMarker(t, staging), "previous prod tree should be recycled as staging")

	_, err := os.Stat(prod + ".bak")
	assert.True(t, os.IsNotExist(err), "backup should not persist once recycled")
}

func TestCommitFailsIfMirrorFails(t *testing.T) {
	root := t.TempDir()
	prod := filepath.Join(root, "www")
	csync := filepath.Join(root, "www.csync") // never created, Sync will fail reading marker

	m := &fakeMirror{}
	err := swap.Commit(context.Background(), m, prod, csync)
	assert.Error(t, err)

	_, statErr := os.Stat(prod)
	assert.True(t, os.IsNotExist(statErr), "prod should be untouched when mirroring fails")
}
