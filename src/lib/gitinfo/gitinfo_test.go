package gitinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOutsideRepo(t *testing.T) {
	repoPath, branch := Resolve(t.TempDir())
	assert.Empty(t, repoPath)
	assert.Empty(t, branch)

	repoPath, branch = Resolve("")
	assert.Empty(t, repoPath)
	assert.Empty(t, branch)
}

func TestResolveInsideRepo(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	repoPath, branch := Resolve(dir)
	assert.Equal(t, dir, repoPath)
	assert.Equal(t, "master", branch)

	// A subdirectory resolves to the same worktree root.
	sub := filepath.Join(dir, "nested", "deep")
	require.NoError(t, os.MkdirAll(sub, 0755))
	repoPath, _ = Resolve(sub)
	assert.Equal(t, dir, repoPath)
}
