package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paraworkflow/para/internal/paraerrors"
	"github.com/paraworkflow/para/internal/session/record"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rec := record.Record{
		Name:         "alpha",
		Branch:       "para/alpha",
		WorktreePath: "/repo/subtrees/alpha",
		CreatedAt:    "2026-07-31T00:00:00Z",
		LastActivity: "2026-07-31T00:00:00Z",
		Status:       record.StatusActive,
		Type:         record.WorktreeType(),
	}
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
}

func TestLoadMissingReturnsSessionNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Load("nope")
	if !paraerrors.Is(err, paraerrors.SessionNotFound) {
		t.Fatalf("expected SessionNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("never-existed"); err != nil {
		t.Fatalf("expected no error deleting a missing record, got %v", err)
	}
}

func TestListSkipsMalformedAndSorts(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"zebra", "alpha", "mid"} {
		rec := record.Record{Name: name, Status: record.StatusActive, Type: record.WorktreeType()}
		if err := store.Save(rec); err != nil {
			t.Fatal(err)
		}
	}
	writeGarbage(t, dir, "broken.state")

	records, warnings, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning for the malformed file, got %d: %v", len(warnings), warnings)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 valid records, got %d", len(records))
	}
	if records[0].Name != "alpha" || records[1].Name != "mid" || records[2].Name != "zebra" {
		t.Fatalf("expected sorted order, got %+v", records)
	}
}

func TestFindByPath(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rec := record.Record{Name: "alpha", WorktreePath: "/repo/subtrees/alpha", Type: record.WorktreeType()}
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	found, err := store.FindByPath("/repo/subtrees/alpha")
	if err != nil {
		t.Fatal(err)
	}
	if found.Name != "alpha" {
		t.Fatalf("unexpected match: %+v", found)
	}

	nested, err := store.FindByPath("/repo/subtrees/alpha/src/pkg")
	if err != nil {
		t.Fatal(err)
	}
	if nested.Name != "alpha" {
		t.Fatalf("expected subdirectory lookup to resolve to alpha, got %+v", nested)
	}

	if _, err := store.FindByPath("/nowhere"); !paraerrors.Is(err, paraerrors.SessionNotFound) {
		t.Fatalf("expected SessionNotFound for unmatched path, got %v", err)
	}
	if _, err := store.FindByPath("/repo/subtrees/alpha-other"); !paraerrors.Is(err, paraerrors.SessionNotFound) {
		t.Fatalf("expected a sibling directory sharing a name prefix not to match, got %v", err)
	}
}

func TestFindByPathPrefersLongestMatch(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	outer := record.Record{Name: "outer", WorktreePath: "/repo/subtrees", Type: record.WorktreeType()}
	inner := record.Record{Name: "inner", WorktreePath: "/repo/subtrees/inner", Type: record.WorktreeType()}
	if err := store.Save(outer); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(inner); err != nil {
		t.Fatal(err)
	}

	found, err := store.FindByPath("/repo/subtrees/inner/cmd")
	if err != nil {
		t.Fatal(err)
	}
	if found.Name != "inner" {
		t.Fatalf("expected the more specific record to win, got %+v", found)
	}
}

type fakeBranchChecker struct {
	existing map[string]bool
}

func (f fakeBranchChecker) BranchExists(ctx context.Context, branch string) bool {
	return f.existing[branch]
}

func TestOrphanedOnlyFlagsReviewAndFinishedRecordsWithDeletedBranches(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	records := []record.Record{
		{Name: "still-active", Branch: "para/still-active", Status: record.StatusActive, Type: record.WorktreeType()},
		{Name: "review-gone", Branch: "para/review-gone", Status: record.StatusReview, Type: record.WorktreeType()},
		{Name: "finished-gone", Branch: "para/finished-gone", Status: record.StatusFinished, Type: record.WorktreeType()},
		{Name: "finished-kept", Branch: "para/finished-kept", Status: record.StatusFinished, Type: record.WorktreeType()},
	}
	for _, r := range records {
		if err := store.Save(r); err != nil {
			t.Fatal(err)
		}
	}

	checker := fakeBranchChecker{existing: map[string]bool{"para/still-active": true, "para/finished-kept": true}}
	orphaned, err := store.Orphaned(context.Background(), checker)
	if err != nil {
		t.Fatal(err)
	}
	if len(orphaned) != 2 {
		t.Fatalf("expected 2 orphaned records, got %d: %+v", len(orphaned), orphaned)
	}
	for _, r := range orphaned {
		if r.Name != "review-gone" && r.Name != "finished-gone" {
			t.Fatalf("unexpected orphaned record: %+v", r)
		}
	}
}

func writeGarbage(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
}
