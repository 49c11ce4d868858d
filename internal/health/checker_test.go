package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/krill-network/krill/internal/infra/sqlite"
)

func newTestChecker(t *testing.T, resourceDir, outputDir string) *Checker {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewChecker(db, resourceDir, outputDir)
}

func TestCheckerAllHealthy(t *testing.T) {
	home := t.TempDir()
	c := newTestChecker(t, filepath.Join(home, "resources"), filepath.Join(home, "output"))
	c.runAll(context.Background())

	statuses := c.Statuses()
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		require.True(t, s.Healthy, "check %s unhealthy: %s", s.Name, s.Error)
		require.False(t, s.CheckedAt.IsZero())
	}
	require.True(t, c.IsHealthy())
}

func TestCheckerFileWhereDirExpected(t *testing.T) {
	home := t.TempDir()
	bogus := filepath.Join(home, "resources")
	require.NoError(t, os.WriteFile(bogus, []byte("x"), 0600))

	c := newTestChecker(t, bogus, filepath.Join(home, "output"))
	c.runAll(context.Background())

	require.False(t, c.IsHealthy())

	var found bool
	for _, s := range c.Statuses() {
		if s.Name == "resource_dir" {
			require.False(t, s.Healthy)
			require.NotEmpty(t, s.Error)
			found = true
		}
	}
	require.True(t, found, "resource_dir check missing from statuses")
}

func TestCheckerMissingDirsAreFine(t *testing.T) {
	home := t.TempDir()
	c := newTestChecker(t, filepath.Join(home, "nope"), filepath.Join(home, "also-nope"))
	c.runAll(context.Background())

	require.True(t, c.IsHealthy(), "missing directories should not fail the checks")
}
