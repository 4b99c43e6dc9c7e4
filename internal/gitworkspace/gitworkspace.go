// Package gitworkspace implements Component G (§4.G): a single on-disk git
// checkout used to probe rebase-affects-diff heuristics and to perform the
// rebase/cherry-pick/push mutations the follow-up workflow needs.
//
// Reads (merge-base, diff) go through go-git/go-git/v5. Mutations (rebase,
// cherry-pick, force-push) shell out to the real git binary: go-git v5 has
// no rebase or cherry-pick porcelain, and nothing else in the dependency
// pack supplies one. The on-disk checkout is guarded by a mutex so the two
// never race each other, grounded on server/plugin.go's configurationLock
// pattern — a single short-held lock guarding mutable shared state.
package gitworkspace

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// Workspace is a single on-disk clone of the repository named in §6's
// repo.path, shared by all MR actors.
type Workspace struct {
	mu   sync.Mutex
	path string
	repo *git.Repository
}

// Open opens the existing checkout at path (created out of band, per §6:
// "repo.path names a pre-existing on-disk checkout").
func Open(path string) (*Workspace, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open git workspace at %q", path)
	}
	return &Workspace{path: path, repo: repo}, nil
}

// Fetch fetches the named branch from origin.
func (w *Workspace) Fetch(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.run(ctx, "fetch", "origin", branch)
	if err != nil && !strings.Contains(err.Error(), "already up to date") {
		return errors.Wrapf(err, "failed to fetch %q", branch)
	}
	return nil
}

// CheckoutBranch creates (or resets) a local branch tracking origin/branch.
func (w *Workspace) CheckoutBranch(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.run(ctx, "checkout", "-B", branch, "origin/"+branch); err != nil {
		return errors.Wrapf(err, "failed to checkout %q", branch)
	}
	return nil
}

// MergeBase returns the merge-base SHA of two refs, read via go-git against
// the already-opened repository rather than shelling out: this is a
// read-only object-store walk go-git's plumbing handles natively.
func (w *Workspace) MergeBase(_ context.Context, refA, refB string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	commitA, err := w.resolveCommit(refA)
	if err != nil {
		return "", errors.Wrapf(err, "failed to compute merge-base of %q and %q", refA, refB)
	}
	commitB, err := w.resolveCommit(refB)
	if err != nil {
		return "", errors.Wrapf(err, "failed to compute merge-base of %q and %q", refA, refB)
	}
	bases, err := commitA.MergeBase(commitB)
	if err != nil {
		return "", errors.Wrapf(err, "failed to compute merge-base of %q and %q", refA, refB)
	}
	if len(bases) == 0 {
		return "", errors.Errorf("%q and %q share no merge-base", refA, refB)
	}
	return bases[0].Hash.String(), nil
}

// DiffIsEmpty reports whether two refs produce an empty diff — used by the
// rebase-affects-the-diff heuristic (§ Open Questions). Computed via go-git's
// tree-to-tree patch rather than shelling out to `git diff`.
func (w *Workspace) DiffIsEmpty(_ context.Context, refA, refB string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	commitA, err := w.resolveCommit(refA)
	if err != nil {
		return false, errors.Wrapf(err, "failed to diff %q against %q", refA, refB)
	}
	commitB, err := w.resolveCommit(refB)
	if err != nil {
		return false, errors.Wrapf(err, "failed to diff %q against %q", refA, refB)
	}
	patch, err := commitA.Patch(commitB)
	if err != nil {
		return false, errors.Wrapf(err, "failed to diff %q against %q", refA, refB)
	}
	return len(patch.FilePatches()) == 0, nil
}

// resolveCommit resolves a ref (branch name or SHA) to its commit object
// via the repository opened at construction time.
func (w *Workspace) resolveCommit(ref string) (*object.Commit, error) {
	hash, err := w.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve revision %q", ref)
	}
	commit, err := w.repo.CommitObject(*hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load commit %q", hash.String())
	}
	return commit, nil
}

// RebaseOnto rebases branch onto newBase, returning an error that wraps
// ErrConflict if the rebase stops on a conflict.
func (w *Workspace) RebaseOnto(ctx context.Context, branch, newBase string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "checkout", branch); err != nil {
		return errors.Wrapf(err, "failed to checkout %q before rebase", branch)
	}
	if _, err := w.run(ctx, "rebase", newBase); err != nil {
		_, _ = w.run(ctx, "rebase", "--abort")
		return errors.Wrapf(ErrConflict, "rebase of %q onto %q stopped on conflict: %v", branch, newBase, err)
	}
	return nil
}

// CherryPick creates (or resets) branch at the currently checked out commit
// and cherry-picks commits onto it, returning the subset of SHAs that could not be applied without aborting
// the whole operation — the follow-up workflow creates the MR regardless
// and reports the skipped commits (§4.H: "non-fatal conflict handling").
func (w *Workspace) CherryPick(ctx context.Context, branch string, commitSHAs []string) (skipped []string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.run(ctx, "checkout", "-B", branch); err != nil {
		return nil, errors.Wrapf(err, "failed to checkout %q before cherry-pick", branch)
	}
	for _, sha := range commitSHAs {
		if _, err := w.run(ctx, "cherry-pick", sha); err != nil {
			_, _ = w.run(ctx, "cherry-pick", "--abort")
			skipped = append(skipped, sha)
			continue
		}
	}
	return skipped, nil
}

// Push force-pushes the currently checked out branch to origin.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.run(ctx, "push", "--force-with-lease", "origin", branch); err != nil {
		return errors.Wrapf(err, "failed to push %q", branch)
	}
	return nil
}

// ErrConflict is wrapped by RebaseOnto when the rebase stops on a conflict.
var ErrConflict = errors.New("git operation stopped on conflict")

func (w *Workspace) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.path
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return stdout.String(), errors.Wrap(err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}
