package gitinfo

import (
	"github.com/go-git/go-git/v5"
)

// Resolve walks up from dir to the enclosing git worktree and returns its
// root path and current branch. Both are empty when dir is not inside a
// repository; a detached HEAD yields the short hash as the branch.
func Resolve(dir string) (repoPath, branch string) {
	if dir == "" {
		return "", ""
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", ""
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", ""
	}
	repoPath = wt.Filesystem.Root()

	head, err := repo.Head()
	if err != nil {
		return repoPath, ""
	}
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	} else {
		branch = head.Hash().String()[:8]
	}
	return repoPath, branch
}
