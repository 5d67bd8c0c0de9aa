// Package archive manages the rename-based lifecycle of finished and
// cancelled session branches: moving them under a namespaced archive
// prefix, listing them newest-first, and restoring them back to active use.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paraworkflow/para/internal/gitrepo"
	"github.com/paraworkflow/para/internal/names"
	"github.com/paraworkflow/para/internal/paraerrors"
)

// Manager archives and restores branches of a single repository under
// "<prefix>/archived/...".
type Manager struct {
	repo   *gitrepo.Repository
	prefix string
}

// New returns a Manager for repo using the given branch-namespace prefix.
func New(repo *gitrepo.Repository, prefix string) *Manager {
	return &Manager{repo: repo, prefix: prefix}
}

func (m *Manager) archivedRoot() string {
	return m.prefix + "/archived/"
}

// Entry is one archived branch.
type Entry struct {
	Branch      string // full ref name under <prefix>/archived/...
	Timestamp   string // "YYYYMMDD-HHMMSS"
	SessionName string
}

// Archive renames branch to "<prefix>/archived/<ts>/<sessionName>". sessionName
// is typically the session's own name, but may diverge from the branch's
// trailing path segment if the branch was renamed during finish.
func (m *Manager) Archive(ctx context.Context, branch, sessionName string) (string, error) {
	if !m.repo.BranchExists(ctx, branch) {
		return "", paraerrors.New(paraerrors.WorktreeState, fmt.Sprintf("cannot archive nonexistent branch %q", branch))
	}

	archived := fmt.Sprintf("%s%s/%s", m.archivedRoot(), names.GenerateTimestamp(), sessionName)
	if m.repo.BranchExists(ctx, archived) {
		// Within the same second; disambiguate with a numeric suffix rather
		// than silently clobbering an existing archive entry.
		for n := 1; n < 100; n++ {
			candidate := fmt.Sprintf("%s-%d", archived, n)
			if !m.repo.BranchExists(ctx, candidate) {
				archived = candidate
				break
			}
		}
	}

	if err := m.repo.RenameBranch(ctx, branch, archived); err != nil {
		return "", err
	}
	return archived, nil
}

// parseArchiveRef splits a ref under the archive root into timestamp and
// session-name parts, per the "exactly two slash-delimited parts" rule.
// Anything else is malformed; ok is false.
func (m *Manager) parseArchiveRef(ref string) (Entry, bool) {
	remainder, ok := strings.CutPrefix(ref, m.archivedRoot())
	if !ok {
		return Entry{}, false
	}
	parts := strings.SplitN(remainder, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Entry{}, false
	}
	return Entry{Branch: ref, Timestamp: parts[0], SessionName: parts[1]}, true
}

// List returns every archived branch, sorted lexicographically descending by
// timestamp (newest first), the canonical recovery order. Malformed archive
// refs are skipped and returned separately rather than silently dropped.
func (m *Manager) List(ctx context.Context) (entries []Entry, malformed []string, err error) {
	refs, err := m.repo.BranchesWithPrefix(ctx, m.archivedRoot())
	if err != nil {
		return nil, nil, err
	}

	for _, ref := range refs {
		if e, ok := m.parseArchiveRef(ref); ok {
			entries = append(entries, e)
		} else {
			malformed = append(malformed, ref)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	return entries, malformed, nil
}

// Restore renames an archived entry back to "<prefix>/<target>", generating
// "<target>-N" if that name is already taken.
func (m *Manager) Restore(ctx context.Context, entry Entry, target string) (string, error) {
	candidate := m.prefix + "/" + target
	if m.repo.BranchExists(ctx, candidate) {
		for n := 1; n < 100; n++ {
			alt := fmt.Sprintf("%s-%d", candidate, n)
			if !m.repo.BranchExists(ctx, alt) {
				candidate = alt
				break
			}
		}
	}
	if err := m.repo.RenameBranch(ctx, entry.Branch, candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

// Prune deletes archived branches whose timestamp is older than maxAge.
func (m *Manager) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, _, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		ts, perr := time.Parse("20060102-150405", e.Timestamp)
		if perr != nil {
			continue
		}
		if ts.Before(cutoff) {
			if err := m.repo.DeleteBranch(ctx, e.Branch); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// ExportDoc is the opaque JSON shape for archive export/import per §6:
// {version, created_at, entries:[...]}.
type ExportDoc struct {
	Version   int     `json:"version"`
	CreatedAt string  `json:"created_at"`
	Entries   []Entry `json:"entries"`
}

// ExportJSON serializes the current archive listing to the opaque export
// format, for moving archived-session history between machines.
func (m *Manager) ExportJSON(ctx context.Context) ([]byte, error) {
	entries, _, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	doc := ExportDoc{
		Version:   1,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Entries:   entries,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportJSON parses a previously exported document. It does not recreate
// branches (archives are only meaningful against the repository that owns
// the commits); callers use the result to cross-check or display history.
func ImportJSON(data []byte) (ExportDoc, error) {
	var doc ExportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return ExportDoc{}, paraerrors.Wrap(paraerrors.StateCorruption, "parsing archive export", err)
	}
	return doc, nil
}
