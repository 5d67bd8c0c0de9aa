// Package integration implements the finish-time pipeline that finalizes a
// session's branch and, optionally, folds it back into its base: the
// worktree patch-transport path and the main-repository rebase-and-merge
// path, both designed so a failure never leaves the main repository
// half-updated.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paraworkflow/para/internal/gitrepo"
	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/paraerrors"
)

// Request describes one finish invocation.
type Request struct {
	WorktreePath string // the session's worktree, or the main repo's own root
	Base         string // B: the branch the feature branch was cut from
	Feature      string // F: the branch currently checked out
	Message      string // M: commit message for finalize/squash
	Target       string // T: optional rename target; "" means no rename
	Integrate    bool
}

// Result is the single logical outcome of Finish: either a clean success or
// a soft integration failure that leaves the feature branch untouched.
type Result struct {
	FinalBranch       string
	IntegrationFailed bool
	IntegrationReason string
}

// Finish runs the finalize/rename/integrate pipeline described by req.
func Finish(ctx context.Context, req Request) (Result, error) {
	repo := gitrepo.Open(req.WorktreePath)
	log := logging.WithComponent("integration").With("worktree", req.WorktreePath, "feature", req.Feature)

	final, err := finalize(ctx, repo, req.Base, req.Feature, req.Message)
	if err != nil {
		return Result{}, err
	}

	if req.Target != "" && req.Target != final {
		renamed, err := renameWithCollisionCheck(ctx, repo, final, req.Target)
		if err != nil {
			return Result{}, err
		}
		final = renamed
	}

	if !req.Integrate {
		return Result{FinalBranch: final}, nil
	}

	_, mainRoot, isWorktree := linkedWorktreeInfo(req.WorktreePath)
	if isWorktree {
		log.Info("integrating via patch transport", "mainRoot", mainRoot)
		return integrateFromWorktree(ctx, repo, filepath.Join(mainRoot, ".git"), mainRoot, req.Base, final)
	}
	log.Info("integrating via rebase and ff-merge")
	return integrateFromMainRepo(ctx, repo, req.Base, final)
}

// finalize commits any dirty state with message, then squashes every commit
// since base into one commit with the same message if more than one exists.
// It returns the feature branch name unchanged (finalize never renames).
func finalize(ctx context.Context, repo *gitrepo.Repository, base, feature, message string) (string, error) {
	dirty, err := repo.HasUncommittedChanges(ctx)
	if err != nil {
		return "", err
	}
	if dirty {
		if _, err := repo.Commit(ctx, message); err != nil {
			return "", err
		}
	}

	count, err := repo.RevListCount(ctx, base+".."+"HEAD")
	if err != nil {
		return "", err
	}
	if count > 1 {
		mergeBase, err := repo.MergeBase(ctx, base, "HEAD")
		if err != nil {
			return "", err
		}
		if err := repo.ResetSoft(ctx, mergeBase); err != nil {
			return "", err
		}
		if _, err := repo.Commit(ctx, message); err != nil {
			return "", err
		}
	}
	return feature, nil
}

// renameWithCollisionCheck renames from to to, refusing with a suggested
// unique alternative if to is already taken rather than silently picking one
// (a finish-time rename is an explicit user request, unlike an archive
// collision).
func renameWithCollisionCheck(ctx context.Context, repo *gitrepo.Repository, from, to string) (string, error) {
	if !repo.BranchExists(ctx, to) {
		if err := repo.RenameBranch(ctx, from, to); err != nil {
			return "", err
		}
		return to, nil
	}

	suggestion := to
	for n := 1; n < 100; n++ {
		candidate := fmt.Sprintf("%s-%d", to, n)
		if !repo.BranchExists(ctx, candidate) {
			suggestion = candidate
			break
		}
	}
	return "", paraerrors.New(paraerrors.InvalidBranchName,
		fmt.Sprintf("branch %q already exists; try %q", to, suggestion))
}

// linkedWorktreeInfo inspects <worktreePath>/.git: if it is a file containing
// "gitdir: .../.git/worktrees/<name>", this is a linked worktree, and the
// main repository root is that gitdir path with ".git/worktrees/<name>"
// stripped off the tail (three path components up).
func linkedWorktreeInfo(worktreePath string) (gitDir, mainRoot string, isWorktree bool) {
	data, err := os.ReadFile(filepath.Join(worktreePath, ".git"))
	if err != nil {
		return "", "", false
	}
	line := strings.TrimSpace(string(data))
	gitDir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", "", false
	}

	root := gitDir
	for i := 0; i < 3; i++ {
		root = filepath.Dir(root)
	}
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		return "", "", false
	}
	return gitDir, root, true
}

// integrateFromWorktree implements the worktree integration path: the diff
// since base is extracted as a patch and applied to the main repository via
// an explicit --git-dir/--work-tree invocation, never by switching branches
// inside the worktree's own process.
func integrateFromWorktree(ctx context.Context, repo *gitrepo.Repository, gitDir, mainRoot, base, final string) (Result, error) {
	if dirty, err := repo.HasUncommittedChanges(ctx); err != nil {
		return Result{}, err
	} else if dirty {
		if _, err := repo.Commit(ctx, "finalize before integration"); err != nil {
			return Result{}, err
		}
	}

	patch, err := repo.FormatPatch(ctx, base+"..HEAD")
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(patch) == "" {
		return Result{FinalBranch: final}, nil
	}

	tmpFile, err := os.CreateTemp("", "para-integrate-"+uuid.NewString()+".patch")
	if err != nil {
		return Result{}, paraerrors.Wrap(paraerrors.FileSystem, "creating patch temp file", err)
	}
	patchPath := tmpFile.Name()
	defer os.Remove(patchPath)
	if _, err := tmpFile.WriteString(patch); err != nil {
		tmpFile.Close()
		return Result{}, paraerrors.Wrap(paraerrors.FileSystem, "writing patch temp file", err)
	}
	tmpFile.Close()

	originalBranch, err := gitrepo.RunWithGitDir(ctx, gitDir, mainRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Result{}, err
	}
	originalBranch = strings.TrimSpace(originalBranch)

	if _, err := gitrepo.RunWithGitDir(ctx, gitDir, mainRoot, "checkout", base); err != nil {
		return Result{}, err
	}

	if _, err := gitrepo.RunWithGitDir(ctx, gitDir, mainRoot, "am", patchPath); err != nil {
		_, _ = gitrepo.RunWithGitDir(ctx, gitDir, mainRoot, "am", "--abort")
		if originalBranch != "" && originalBranch != "HEAD" {
			_, _ = gitrepo.RunWithGitDir(ctx, gitDir, mainRoot, "checkout", originalBranch)
		}
		return Result{
			FinalBranch:       final,
			IntegrationFailed: true,
			IntegrationReason: fmt.Sprintf("patch for %q did not apply cleanly against %q; changes preserved on feature branch", final, base),
		}, nil
	}

	return Result{FinalBranch: base}, nil
}

// integrateFromMainRepo implements the main-repository integration path:
// stash, rebase the feature branch onto base, fast-forward base, then
// restore the stash, rescuing it into its own branch if the restore itself
// conflicts.
func integrateFromMainRepo(ctx context.Context, repo *gitrepo.Repository, base, final string) (Result, error) {
	if err := repo.Checkout(ctx, base); err != nil {
		return Result{}, err
	}

	stashed, err := repo.StashPush(ctx, fmt.Sprintf("para-finish-%s", time.Now().UTC().Format("20060102-150405")))
	if err != nil {
		return Result{}, err
	}

	if err := repo.Checkout(ctx, final); err != nil {
		if stashed {
			_ = repo.Checkout(ctx, base)
			_ = repo.StashPop(ctx)
		}
		return Result{}, err
	}

	if err := repo.Rebase(ctx, base); err != nil {
		repo.RebaseAbort(ctx)
		_ = repo.Checkout(ctx, base)
		if stashed {
			_ = repo.StashPop(ctx)
		}
		return Result{
			FinalBranch:       final,
			IntegrationFailed: true,
			IntegrationReason: fmt.Sprintf("rebasing %q onto %q produced conflicts; changes preserved on feature branch", final, base),
		}, nil
	}

	if err := repo.Checkout(ctx, base); err != nil {
		return Result{}, err
	}
	if err := repo.MergeFF(ctx, final); err != nil {
		return Result{}, paraerrors.Wrap(paraerrors.IntegrationFailure, "fast-forward merge failed after clean rebase", err)
	}

	if stashed {
		if err := repo.StashPop(ctx); err != nil {
			rescueBranch := fmt.Sprintf("uncommitted-changes-%s", time.Now().UTC().Format("20060102-150405"))
			if cerr := repo.CreateBranch(ctx, rescueBranch); cerr == nil {
				_, _ = repo.Commit(ctx, "preserve stashed changes from finish")
				_ = repo.StashDrop(ctx)
				_ = repo.Checkout(ctx, base)
			}
			return Result{
				FinalBranch:       base,
				IntegrationFailed: true,
				IntegrationReason: fmt.Sprintf("pre-existing uncommitted changes conflicted on restore; preserved on branch %q", rescueBranch),
			}, nil
		}
	}

	return Result{FinalBranch: base}, nil
}
