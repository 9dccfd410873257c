package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, dir string) string {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.py"), []byte("print('hi')\n"), 0o644))
	_, err = wt.Add("run.py")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "builder", Email: "builder@example.com", When: time.Unix(1705314600, 0)},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestShortRevision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	full := commitFile(t, dir)

	rev, err := NewRevisionSource(dir).ShortRevision(context.Background())
	require.NoError(t, err)
	assert.Len(t, rev, DefaultAbbrev)
	assert.Equal(t, full[:DefaultAbbrev], rev)
}

func TestShortRevisionFromSubdirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	full := commitFile(t, dir)
	sub := filepath.Join(dir, "app", "common")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	rev, err := NewRevisionSource(sub).ShortRevision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, full[:DefaultAbbrev], rev)
}

func TestShortRevisionEmptyRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = NewRevisionSource(dir).ShortRevision(context.Background())
	assert.ErrorIs(t, err, ErrNoRevision)
}

func TestShortRevisionCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRevisionSource(t.TempDir()).ShortRevision(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
