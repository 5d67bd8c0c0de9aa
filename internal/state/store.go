// Package state persists one JSON record per session under a repo-local
// state directory, with atomic write-and-rename semantics so readers never
// observe a half-written file.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/paraworkflow/para/internal/paraerrors"
	"github.com/paraworkflow/para/internal/session/record"
)

const stateExt = ".state"

// Store persists Session records under dir as "<dir>/<name>.state".
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, paraerrors.Wrap(paraerrors.FileSystem, "creating state directory", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+stateExt)
}

// Save writes rec atomically: marshal to a uniquely-named temp file in the
// same directory, then rename over the final path. Rename within one
// filesystem is atomic, so concurrent readers only ever see a complete file.
func (s *Store) Save(rec record.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return paraerrors.Wrap(paraerrors.StateCorruption, "marshaling session record", err)
	}

	tmp := filepath.Join(s.dir, fmt.Sprintf(".%s-%s.tmp", rec.Name, uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return paraerrors.Wrap(paraerrors.FileSystem, "writing session state", err)
	}
	if err := os.Rename(tmp, s.path(rec.Name)); err != nil {
		_ = os.Remove(tmp)
		return paraerrors.Wrap(paraerrors.FileSystem, "finalizing session state", err)
	}
	return nil
}

// Load reads the record for name, retrying once after a half-written or
// in-flight rename before treating the file as genuinely missing.
func (s *Store) Load(name string) (record.Record, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		data, err = os.ReadFile(s.path(name))
	}
	if err != nil {
		return record.Record{}, paraerrors.New(paraerrors.SessionNotFound, fmt.Sprintf("no session named %q", name))
	}

	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.Record{}, paraerrors.Wrap(paraerrors.StateCorruption, fmt.Sprintf("parsing state for %q", name), err)
	}
	return rec, nil
}

// Delete removes the state file for name and its companion "<name>.prompt"
// and "<name>.launch" files. Deleting an already-absent record is not an
// error: callers call Delete on best-effort cleanup paths too.
func (s *Store) Delete(name string) error {
	for _, p := range []string{s.path(name), filepath.Join(s.dir, name+".prompt"), filepath.Join(s.dir, name+".launch")} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return paraerrors.Wrap(paraerrors.FileSystem, "deleting session state", err)
		}
	}
	return nil
}

// List returns every valid record in the store, sorted by name. Files that
// fail to parse are skipped and returned as warnings rather than aborting
// the whole listing.
func (s *Store) List() (records []record.Record, warnings []string, err error) {
	entries, rerr := os.ReadDir(s.dir)
	if rerr != nil {
		return nil, nil, paraerrors.Wrap(paraerrors.FileSystem, "reading state directory", rerr)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), stateExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), stateExt)
		rec, lerr := s.Load(name)
		if lerr != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", name, lerr))
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, warnings, nil
}

// FindByPath locates the record whose worktree_path is a prefix of (or
// equal to) path, used by resume(path) to map a containing directory (e.g.
// a subdirectory the caller cd'd into inside the worktree) back to a
// session. When more than one record's worktree_path matches, the longest
// (most specific) match wins.
func (s *Store) FindByPath(path string) (record.Record, error) {
	records, _, err := s.List()
	if err != nil {
		return record.Record{}, err
	}

	var best record.Record
	found := false
	for _, r := range records {
		if r.WorktreePath == "" {
			continue
		}
		if path != r.WorktreePath && !strings.HasPrefix(path, r.WorktreePath+string(filepath.Separator)) {
			continue
		}
		if !found || len(r.WorktreePath) > len(best.WorktreePath) {
			best = r
			found = true
		}
	}
	if !found {
		return record.Record{}, paraerrors.New(paraerrors.SessionNotFound, fmt.Sprintf("no session with worktree path %q", path))
	}
	return best, nil
}

// branchChecker abstracts the single git query Orphaned needs, so callers
// can pass a *gitrepo.Repository without this package importing it back.
type branchChecker interface {
	BranchExists(ctx context.Context, branch string) bool
}

// Orphaned returns every record in Review or Finished status whose branch
// no longer exists in repo, the cleanup candidates for the lifecycle
// manager's Clean operation.
// The core treats Review and Finished identically for this bookkeeping:
// Finished is only ever produced by a layer above this one, so a record
// left in Review after its branch was integrated and deleted elsewhere is
// just as safe to sweep. Active and Cancelled are excluded: Active records
// are still live, and Cancel already deletes its own state file rather than
// leaving a terminal record behind.
func (s *Store) Orphaned(ctx context.Context, repo branchChecker) ([]record.Record, error) {
	records, _, err := s.List()
	if err != nil {
		return nil, err
	}

	var orphaned []record.Record
	for _, r := range records {
		if r.Status != record.StatusReview && r.Status != record.StatusFinished {
			continue
		}
		if !repo.BranchExists(ctx, r.Branch) {
			orphaned = append(orphaned, r)
		}
	}
	return orphaned, nil
}
