// Package gitrepo wraps the external git binary as a single process-per-call
// adapter. It never embeds a git implementation: every operation shells out,
// the way a tool built to drive a developer's own git installation must.
package gitrepo

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/names"
	"github.com/paraworkflow/para/internal/paraerrors"
)

// Repository operates against a single working directory. Root is either a
// main repository's working tree or a linked worktree's working tree; both
// are valid git "Dir" values for exec purposes.
type Repository struct {
	Root string
}

// Open returns a Repository rooted at dir without touching the filesystem;
// use Discover when dir might be a subdirectory of a repo.
func Open(dir string) *Repository {
	return &Repository{Root: dir}
}

// Discover runs git rev-parse --show-toplevel from dir and returns a
// Repository rooted at the resolved top level.
func Discover(ctx context.Context, dir string) (*Repository, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, paraerrors.GitError([]string{"rev-parse", "--show-toplevel"}, stderrOf(err), err)
	}
	return &Repository{Root: strings.TrimSpace(string(out))}, nil
}

func stderrOf(err error) string {
	if ee, ok := err.(*exec.ExitError); ok {
		return string(ee.Stderr)
	}
	return ""
}

func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", paraerrors.GitError(args, string(out), err)
	}
	return string(out), nil
}

func (r *Repository) runTrim(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, args...)
	return strings.TrimSpace(out), err
}

// CurrentBranch returns the checked-out branch name, or "" in detached HEAD.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	return r.runTrim(ctx, "branch", "--show-current")
}

// DefaultBranch resolves the repository's default branch: local "main" if
// it exists, else the remote HEAD symref, else "master"/"develop", else
// "main" as a last resort. Local main wins first so a repo with a stale or
// misconfigured remote HEAD still resolves to the branch actually checked
// out locally.
func (r *Repository) DefaultBranch(ctx context.Context) (string, error) {
	if r.BranchExists(ctx, "main") {
		return "main", nil
	}

	cmd := exec.CommandContext(ctx, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	cmd.Dir = r.Root
	if out, err := cmd.Output(); err == nil {
		ref := strings.TrimSpace(string(out))
		parts := strings.Split(ref, "/")
		return parts[len(parts)-1], nil
	}

	for _, candidate := range []string{"master", "develop"} {
		if r.BranchExists(ctx, candidate) {
			return candidate, nil
		}
	}
	return "main", nil
}

// BranchExists reports whether a local branch exists.
func (r *Repository) BranchExists(ctx context.Context, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = r.Root
	return cmd.Run() == nil
}

// StageAll stages every change in the working tree.
func (r *Repository) StageAll(ctx context.Context) error {
	_, err := r.run(ctx, "add", "-A")
	return err
}

// HasUncommittedChanges reports whether the working tree or index differs
// from HEAD.
func (r *Repository) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := r.runTrim(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Commit stages all changes and commits with a sanitized message (trim each
// line, drop trailing blanks, preserve line order), returning the new
// commit SHA.
func (r *Repository) Commit(ctx context.Context, message string) (string, error) {
	if err := r.StageAll(ctx); err != nil {
		return "", err
	}
	if _, err := r.run(ctx, "commit", "-m", names.SanitizeCommitMessage(message)); err != nil {
		return "", err
	}
	return r.CurrentCommitSHA(ctx)
}

// CurrentCommitSHA returns the SHA of HEAD.
func (r *Repository) CurrentCommitSHA(ctx context.Context) (string, error) {
	return r.runTrim(ctx, "rev-parse", "HEAD")
}

// Checkout switches the working tree to ref.
func (r *Repository) Checkout(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "checkout", ref)
	return err
}

// CreateBranch creates and checks out a new branch from HEAD.
func (r *Repository) CreateBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// CreateBranchFrom creates name at base without checking it out.
func (r *Repository) CreateBranchFrom(ctx context.Context, name, base string) error {
	_, err := r.run(ctx, "branch", name, base)
	return err
}

// RenameBranch renames old to new. old must not be the current branch of a
// different worktree; callers are expected to have checked BranchExists(new).
func (r *Repository) RenameBranch(ctx context.Context, old, new string) error {
	_, err := r.run(ctx, "branch", "-m", old, new)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "branch", "-D", name)
	return err
}

// BranchCommit returns the commit SHA a branch points at.
func (r *Repository) BranchCommit(ctx context.Context, branch string) (string, error) {
	return r.runTrim(ctx, "rev-parse", branch)
}

// ResetHard resets the working tree and index to ref, discarding changes.
func (r *Repository) ResetHard(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "reset", "--hard", ref)
	return err
}

// MergeFF fast-forwards the current branch to ref, failing if that's not
// possible.
func (r *Repository) MergeFF(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "merge", "--ff-only", ref)
	return err
}

// ResetSoft moves HEAD to ref, leaving the index and working tree untouched
// (so the diff of everything since ref stays staged), the basis for
// squash-on-finish.
func (r *Repository) ResetSoft(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "reset", "--soft", ref)
	return err
}

// Rebase replays the current branch's commits onto onto.
func (r *Repository) Rebase(ctx context.Context, onto string) error {
	_, err := r.run(ctx, "rebase", onto)
	return err
}

// RebaseAbort aborts an in-progress rebase, swallowing errors since it is
// always called on a best-effort cleanup path.
func (r *Repository) RebaseAbort(ctx context.Context) {
	if _, err := r.run(ctx, "rebase", "--abort"); err != nil {
		logging.WithComponent("gitrepo").Warn("rebase --abort failed", "error", err)
	}
}

// StashPush stashes uncommitted changes (including untracked files) under
// message. ok reports whether anything was actually stashed.
func (r *Repository) StashPush(ctx context.Context, message string) (ok bool, err error) {
	out, err := r.run(ctx, "stash", "push", "-u", "-m", message)
	if err != nil {
		return false, err
	}
	return !strings.Contains(out, "No local changes to save"), nil
}

// StashPop applies and drops the most recent stash entry.
func (r *Repository) StashPop(ctx context.Context) error {
	_, err := r.run(ctx, "stash", "pop")
	return err
}

// StashShowPatch returns the diff of the most recent stash entry, used to
// rebuild a rescue commit when popping it back conflicts.
func (r *Repository) StashShowPatch(ctx context.Context) (string, error) {
	return r.run(ctx, "stash", "show", "-p")
}

// StashDrop discards the most recent stash entry without applying it.
func (r *Repository) StashDrop(ctx context.Context) error {
	_, err := r.run(ctx, "stash", "drop")
	return err
}

// MergeBase returns the best common ancestor of a and b.
func (r *Repository) MergeBase(ctx context.Context, a, b string) (string, error) {
	return r.runTrim(ctx, "merge-base", a, b)
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repository) IsAncestor(ctx context.Context, ancestor, descendant string) bool {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor, descendant)
	cmd.Dir = r.Root
	return cmd.Run() == nil
}

// RevListCount returns the number of commits in revRange (e.g. "base..HEAD").
func (r *Repository) RevListCount(ctx context.Context, revRange string) (int, error) {
	out, err := r.runTrim(ctx, "rev-list", "--count", revRange)
	if err != nil {
		return 0, err
	}
	n, parseErr := strconv.Atoi(out)
	if parseErr != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", out, parseErr)
	}
	return n, nil
}

// FormatPatch returns the patch text for revRange as "git format-patch
// --stdout" would print it.
func (r *Repository) FormatPatch(ctx context.Context, revRange string) (string, error) {
	return r.run(ctx, "format-patch", revRange, "--stdout")
}

// ApplyMailbox runs "git am" against a patch file already written to disk.
func (r *Repository) ApplyMailbox(ctx context.Context, patchPath string) error {
	_, err := r.run(ctx, "am", patchPath)
	return err
}

// AbortMailbox runs "git am --abort", swallowing errors since it is always
// called on a best-effort cleanup path.
func (r *Repository) AbortMailbox(ctx context.Context) {
	if _, err := r.run(ctx, "am", "--abort"); err != nil {
		logging.WithComponent("gitrepo").Warn("am --abort failed", "error", err)
	}
}

// WorktreeAdd creates a linked worktree at path, creating and checking out
// branch (from base) in it.
func (r *Repository) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	if r.BranchExists(ctx, branch) {
		_, err := r.run(ctx, "worktree", "add", path, branch)
		return err
	}
	_, err := r.run(ctx, "worktree", "add", "-b", branch, path, base)
	return err
}

// WorktreeAddDetached creates a linked worktree at path in detached-HEAD
// state at ref.
func (r *Repository) WorktreeAddDetached(ctx context.Context, path, ref string) error {
	_, err := r.run(ctx, "worktree", "add", "--detach", path, ref)
	return err
}

// WorktreeRemove removes a linked worktree. Force removes it even with
// uncommitted changes.
func (r *Repository) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.run(ctx, args...)
	return err
}

// WorktreePrune removes administrative files for worktrees whose working
// directories have been deleted out from under git.
func (r *Repository) WorktreePrune(ctx context.Context) error {
	_, err := r.run(ctx, "worktree", "prune")
	return err
}

// WorktreeEntry is one entry of `git worktree list --porcelain`.
type WorktreeEntry struct {
	Path     string
	HEAD     string
	Branch   string
	Detached bool
}

// WorktreeList parses `git worktree list --porcelain` into entries.
func (r *Repository) WorktreeList(ctx context.Context) ([]WorktreeEntry, error) {
	out, err := r.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []WorktreeEntry
	var cur *WorktreeEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				entries = append(entries, *cur)
			}
			cur = &WorktreeEntry{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if cur != nil {
				cur.HEAD = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			}
		case line == "detached":
			if cur != nil {
				cur.Detached = true
			}
		case line == "":
			if cur != nil {
				entries = append(entries, *cur)
				cur = nil
			}
		}
	}
	if cur != nil {
		entries = append(entries, *cur)
	}
	return entries, nil
}

// BranchesWithPrefix returns all local branch names beginning with prefix,
// at any depth below it. It lists refs/heads/ with `git for-each-ref` and
// filters by prefix here, since a for-each-ref glob's "*" stops at "/".
func (r *Repository) BranchesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	out, err := r.run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, prefix) {
			refs = append(refs, line)
		}
	}
	return refs, nil
}

// IsInsideWorkTree reports whether r.Root is a valid git working tree.
func (r *Repository) IsInsideWorkTree(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = r.Root
	return cmd.Run() == nil
}

// RunWithGitDir executes a git subcommand against an explicit --git-dir and
// --work-tree pair rather than r.Root, which is how the integration engine
// operates on the main repository from inside a linked worktree's process.
func RunWithGitDir(ctx context.Context, gitDir, workTree string, args ...string) (string, error) {
	full := append([]string{"--git-dir", gitDir, "--work-tree", workTree}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", paraerrors.GitError(full, string(out), err)
	}
	return string(out), nil
}
