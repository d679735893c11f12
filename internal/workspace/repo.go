// Package workspace manages the working tree of the repository under test.
// Checkout fully replaces the working tree state; a branch is never left
// half-switched.
package workspace

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"netem-bench/internal/logging"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

type Repo struct {
	repo *git.Repository
	dir  string
}

// Clone clones url into dir, removing any previous clone first.
func Clone(url, dir string) (*Repo, error) {
	logger := logging.GetLogger()

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("removing stale clone at %s: %w", dir, err)
	}

	logger.WithField("url", url).Info("Cloning repository")
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{URL: url})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", url, err)
	}
	logger.WithField("dir", dir).Info("Repository cloned")

	return &Repo{repo: repo, dir: dir}, nil
}

// Dir returns the working tree directory.
func (r *Repo) Dir() string {
	return r.dir
}

// Branches lists the branch names available on origin, excluding HEAD.
func (r *Repo) Branches() ([]string, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if !name.IsRemote() {
			return nil
		}
		branch := strings.TrimPrefix(name.Short(), "origin/")
		if branch != "HEAD" {
			branches = append(branches, branch)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating references: %w", err)
	}

	sort.Strings(branches)
	return branches, nil
}

// Checkout forcibly switches the working tree to the named branch, creating
// a local tracking branch from origin on first use.
func (r *Repo) Checkout(branch string) error {
	logger := logging.GetLogger()

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if _, err := r.repo.Reference(local, true); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
			return fmt.Errorf("checking out %s: %w", branch, err)
		}
		logger.WithField("branch", branch).Debug("Checked out existing local branch")
		return nil
	}

	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return fmt.Errorf("branch %q not found on origin: %w", branch, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{
		Hash:   remoteRef.Hash(),
		Branch: local,
		Create: true,
		Force:  true,
	}); err != nil {
		return fmt.Errorf("checking out %s from origin: %w", branch, err)
	}

	logger.WithField("branch", branch).Debug("Checked out branch from origin")
	return nil
}
