// Package worktree manages the lifecycle of linked git worktrees that back
// each session: creation from a branch, validation, removal, and cleanup of
// directories orphaned by a crash.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paraworkflow/para/internal/gitrepo"
	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/names"
	"github.com/paraworkflow/para/internal/paraerrors"
)

// Manager creates and removes linked worktrees for a single repository.
// createMu serializes creation because git has internal races on
// .git/worktrees/*/commondir when two worktrees are added concurrently.
type Manager struct {
	repo        *gitrepo.Repository
	subtreesDir string
	createMu    sync.Mutex
}

// New returns a Manager that places worktrees under subtreesDir.
func New(repo *gitrepo.Repository, subtreesDir string) *Manager {
	return &Manager{repo: repo, subtreesDir: subtreesDir}
}

// Path returns the worktree path this manager would use for a session name.
func (m *Manager) Path(sessionName string) string {
	return filepath.Join(m.subtreesDir, sessionName)
}

// Create adds a linked worktree at Path(sessionName) checked out on branch,
// creating branch from base if it does not already exist.
func (m *Manager) Create(ctx context.Context, sessionName, branch, base string) (string, error) {
	path := m.Path(sessionName)
	log := logging.WithComponent("worktree").With("session", sessionName, "path", path)

	if err := names.ValidateBranchName(branch); err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(m.subtreesDir)
	if err == nil {
		repoRoot, rerr := filepath.EvalSymlinks(m.repo.Root)
		if rerr == nil && resolved == repoRoot {
			return "", paraerrors.New(paraerrors.WorktreeState, "subtrees directory may not equal the repository root")
		}
	}

	if _, statErr := os.Stat(path); statErr == nil {
		return "", paraerrors.New(paraerrors.WorktreeState, fmt.Sprintf("worktree path already exists: %s", path))
	}

	if err := os.MkdirAll(m.subtreesDir, 0o755); err != nil {
		return "", paraerrors.Wrap(paraerrors.FileSystem, "creating subtrees directory", err)
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	m.cleanupStaleReference(ctx, branch)

	if err := m.repo.WorktreeAdd(ctx, path, branch, base); err != nil {
		return "", err
	}

	if !gitrepo.Open(path).IsInsideWorkTree(ctx) {
		_ = m.repo.WorktreeRemove(ctx, path, true)
		return "", paraerrors.New(paraerrors.WorktreeState, "worktree failed validation after creation")
	}

	log.Info("worktree created", "branch", branch)
	return path, nil
}

// Remove removes the linked worktree at path, then prunes administrative
// state. Safe to call on a path that is already gone.
func (m *Manager) Remove(ctx context.Context, path string) error {
	if err := m.repo.WorktreeRemove(ctx, path, false); err != nil {
		if err := m.repo.WorktreeRemove(ctx, path, true); err != nil {
			logging.WithComponent("worktree").Warn("worktree remove failed, falling back to rmdir", "path", path, "error", err)
		}
	}
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return paraerrors.Wrap(paraerrors.FileSystem, "removing worktree directory", err)
	}
	return m.repo.WorktreePrune(ctx)
}

// List returns the repository's linked worktrees, excluding the main
// working tree.
func (m *Manager) List(ctx context.Context) ([]gitrepo.WorktreeEntry, error) {
	entries, err := m.repo.WorktreeList(ctx)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Path != m.repo.Root {
			out = append(out, e)
		}
	}
	return out, nil
}

// cleanupStaleReference removes a dangling worktree registration for branch,
// left over from a crash that happened between worktree creation and
// session-state persistence. Best effort: every step swallows its own error.
func (m *Manager) cleanupStaleReference(ctx context.Context, branch string) {
	_ = m.repo.WorktreePrune(ctx)

	entries, err := m.repo.WorktreeList(ctx)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Branch != branch || e.Path == m.repo.Root {
			continue
		}
		_ = m.repo.WorktreeRemove(ctx, e.Path, true)
		_ = os.RemoveAll(e.Path)
	}
	_ = m.repo.WorktreePrune(ctx)
}

// CleanupOrphaned scans subtreesDir for directories that are no longer
// registered as linked worktrees of repo (left behind by a daemon or CLI
// process that crashed before calling Remove) and deletes them.
func (m *Manager) CleanupOrphaned(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.subtreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, paraerrors.Wrap(paraerrors.FileSystem, "reading subtrees directory", err)
	}

	registered := map[string]bool{}
	if list, err := m.repo.WorktreeList(ctx); err == nil {
		for _, e := range list {
			registered[e.Path] = true
		}
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.subtreesDir, entry.Name())
		if registered[path] {
			continue
		}
		if !m.isOrphanedWorktree(path) {
			continue
		}
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}

	_ = m.repo.WorktreePrune(ctx)
	return removed, nil
}

// isOrphanedWorktree reports whether path looks like it used to be a linked
// worktree of m.repo but git no longer knows about it. A directory with no
// readable .git file, or one without a "gitdir: " line, also counts as
// orphaned.
func (m *Manager) isOrphanedWorktree(path string) bool {
	gitFile := filepath.Join(path, ".git")
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return true
	}
	line := strings.TrimSpace(string(content))
	gitdir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return true
	}
	expected := filepath.Join(m.repo.Root, ".git", "worktrees")
	if !strings.HasPrefix(gitdir, expected) {
		return false // belongs to a different repository, leave it alone
	}
	_, statErr := os.Stat(gitdir)
	return statErr != nil
}
