package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in PATH")
	}
}

func initRepo(t *testing.T) *Repository {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	ctx := context.Background()
	run := func(args ...string) {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial commit")

	return Open(dir)
}

func TestCurrentBranchAndDefaultBranch(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if branch != "main" {
		t.Fatalf("expected main, got %q", branch)
	}

	def, err := repo.DefaultBranch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def != "main" {
		t.Fatalf("expected main, got %q", def)
	}
}

func TestCommitAndStatus(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	dirty, err := repo.HasUncommittedChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Fatalf("expected clean working tree")
	}

	if err := os.WriteFile(filepath.Join(repo.Root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dirty, err = repo.HasUncommittedChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !dirty {
		t.Fatalf("expected dirty working tree")
	}

	sha, err := repo.Commit(ctx, "add a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(sha) != 40 {
		t.Fatalf("expected 40-char SHA, got %q", sha)
	}
}

func TestBranchLifecycle(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	if err := repo.CreateBranchFrom(ctx, "feature/x", "main"); err != nil {
		t.Fatal(err)
	}
	if !repo.BranchExists(ctx, "feature/x") {
		t.Fatalf("expected feature/x to exist")
	}
	if err := repo.RenameBranch(ctx, "feature/x", "feature/y"); err != nil {
		t.Fatal(err)
	}
	if repo.BranchExists(ctx, "feature/x") {
		t.Fatalf("expected feature/x to be gone")
	}
	if !repo.BranchExists(ctx, "feature/y") {
		t.Fatalf("expected feature/y to exist")
	}
	if err := repo.DeleteBranch(ctx, "feature/y"); err != nil {
		t.Fatal(err)
	}
	if repo.BranchExists(ctx, "feature/y") {
		t.Fatalf("expected feature/y to be deleted")
	}
}

func TestWorktreeAddListRemove(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	wtPath := filepath.Join(t.TempDir(), "wt1")
	if err := repo.WorktreeAdd(ctx, wtPath, "session/one", "main"); err != nil {
		t.Fatal(err)
	}

	entries, err := repo.WorktreeList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if e.Branch == "session/one" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find session/one worktree in %+v", entries)
	}

	if err := repo.WorktreeRemove(ctx, wtPath, true); err != nil {
		t.Fatal(err)
	}
	if err := repo.WorktreePrune(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRevListCountAndMergeBase(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	if err := repo.CreateBranch(ctx, "feature/z"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo.Root, "b.txt"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Commit(ctx, "second commit"); err != nil {
		t.Fatal(err)
	}

	n, err := repo.RevListCount(ctx, "main..HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 new commit, got %d", n)
	}

	base, err := repo.MergeBase(ctx, "main", "feature/z")
	if err != nil {
		t.Fatal(err)
	}
	if base == "" {
		t.Fatalf("expected non-empty merge base")
	}
	if !repo.IsAncestor(ctx, base, "feature/z") {
		t.Fatalf("expected merge base to be an ancestor")
	}
}
