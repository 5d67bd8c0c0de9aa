package archive

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/paraworkflow/para/internal/gitrepo"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in PATH")
	}
}

func initRepo(t *testing.T) *gitrepo.Repository {
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
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return gitrepo.Open(dir)
}

func TestArchiveAndList(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	if err := repo.CreateBranchFrom(ctx, "para/my-session", "main"); err != nil {
		t.Fatal(err)
	}

	mgr := New(repo, "para")
	archived, err := mgr.Archive(ctx, "para/my-session", "my-session")
	if err != nil {
		t.Fatal(err)
	}
	if !repo.BranchExists(ctx, archived) {
		t.Fatalf("expected archived branch %q to exist", archived)
	}
	if repo.BranchExists(ctx, "para/my-session") {
		t.Fatalf("expected original branch to be renamed away")
	}

	entries, malformed, err := mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed entries: %v", malformed)
	}
	if len(entries) != 1 || entries[0].SessionName != "my-session" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestArchiveCollisionDisambiguates(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	if err := repo.CreateBranchFrom(ctx, "para/a", "main"); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateBranchFrom(ctx, "para/b", "main"); err != nil {
		t.Fatal(err)
	}

	mgr := New(repo, "para")
	a1, err := mgr.Archive(ctx, "para/a", "same-name")
	if err != nil {
		t.Fatal(err)
	}
	// Archive a second branch under the same session name. Within the same
	// second this collides with a1 and must get a numeric suffix rather than
	// clobbering it; across a second boundary it gets a new timestamp.
	a2, err := mgr.Archive(ctx, "para/b", "same-name")
	if err != nil {
		t.Fatal(err)
	}
	if a2 == a1 {
		t.Fatalf("expected a distinct archive ref, got %q twice", a1)
	}
	if !repo.BranchExists(ctx, a1) || !repo.BranchExists(ctx, a2) {
		t.Fatalf("expected both %q and %q to exist", a1, a2)
	}

	entries, _, err := mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
}

func TestRestore(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	if err := repo.CreateBranchFrom(ctx, "para/x", "main"); err != nil {
		t.Fatal(err)
	}
	mgr := New(repo, "para")

	archivedRef, err := mgr.Archive(ctx, "para/x", "x")
	if err != nil {
		t.Fatal(err)
	}
	entries, _, err := mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var entry Entry
	for _, e := range entries {
		if e.Branch == archivedRef {
			entry = e
		}
	}
	if entry.Branch == "" {
		t.Fatalf("expected to find archived entry for %q", archivedRef)
	}

	restored, err := mgr.Restore(ctx, entry, "x")
	if err != nil {
		t.Fatal(err)
	}
	if restored != "para/x" {
		t.Fatalf("expected restore to para/x, got %q", restored)
	}
	if !repo.BranchExists(ctx, "para/x") {
		t.Fatalf("expected restored branch to exist")
	}
}

func TestRestoreDisambiguatesTakenTarget(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	if err := repo.CreateBranchFrom(ctx, "para/y", "main"); err != nil {
		t.Fatal(err)
	}
	mgr := New(repo, "para")
	archivedRef, err := mgr.Archive(ctx, "para/y", "y")
	if err != nil {
		t.Fatal(err)
	}
	// Recreate para/y so the restore target is taken.
	if err := repo.CreateBranchFrom(ctx, "para/y", "main"); err != nil {
		t.Fatal(err)
	}

	entries, _, err := mgr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var entry Entry
	for _, e := range entries {
		if e.Branch == archivedRef {
			entry = e
		}
	}

	restored, err := mgr.Restore(ctx, entry, "y")
	if err != nil {
		t.Fatal(err)
	}
	if restored == "para/y" {
		t.Fatalf("expected disambiguated name, got %q", restored)
	}
}

func TestPrune(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	if err := repo.CreateBranchFrom(ctx, "para/old", "main"); err != nil {
		t.Fatal(err)
	}
	mgr := New(repo, "para")

	old := time.Now().UTC().Add(-48 * time.Hour).Format("20060102-150405")
	oldRef := "para/archived/" + old + "/old"
	if err := repo.RenameBranch(ctx, "para/old", oldRef); err != nil {
		t.Fatal(err)
	}

	removed, err := mgr.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}
	if repo.BranchExists(ctx, oldRef) {
		t.Fatalf("expected old archived branch to be deleted")
	}
}

func TestExportImportJSON(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()
	if err := repo.CreateBranchFrom(ctx, "para/z", "main"); err != nil {
		t.Fatal(err)
	}
	mgr := New(repo, "para")
	if _, err := mgr.Archive(ctx, "para/z", "z"); err != nil {
		t.Fatal(err)
	}

	data, err := mgr.ExportJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := ImportJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 1 || len(doc.Entries) != 1 || doc.Entries[0].SessionName != "z" {
		t.Fatalf("unexpected round-tripped doc: %+v", doc)
	}
}

func TestImportJSONRejectsMalformed(t *testing.T) {
	if _, err := ImportJSON([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed export")
	}
}
