package session

import (
	"context"
	"fmt"
	"time"

	"github.com/paraworkflow/para/internal/archive"
	"github.com/paraworkflow/para/internal/gitrepo"
	"github.com/paraworkflow/para/internal/integration"
	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/names"
	"github.com/paraworkflow/para/internal/paraerrors"
	"github.com/paraworkflow/para/internal/state"
	"github.com/paraworkflow/para/internal/worktree"
)

// DaemonRegistrar is the narrow slice of the daemon client a Manager needs;
// kept as an interface here (rather than importing internal/daemonclient
// directly) so that lifecycle logic never depends on socket transport.
type DaemonRegistrar interface {
	RegisterContainerSession(ctx context.Context, sessionName, worktreePath, repoRoot string) error
	UnregisterSession(ctx context.Context, sessionName string) error
}

// Manager orchestrates git, worktree, archive, and state-store operations
// behind the create/resume/list/finish/cancel/recover/clean operations.
type Manager struct {
	repo       *gitrepo.Repository
	worktrees  *worktree.Manager
	archives   *archive.Manager
	store      *state.Store
	prefix     string
	staleAfter time.Duration
	daemon     DaemonRegistrar
}

// New returns a Manager. daemon may be nil: Container-type sessions then
// fail fast at create time instead of silently never registering.
func New(repo *gitrepo.Repository, worktrees *worktree.Manager, archives *archive.Manager, store *state.Store, prefix string, staleAfter time.Duration, daemon DaemonRegistrar) *Manager {
	return &Manager{
		repo:       repo,
		worktrees:  worktrees,
		archives:   archives,
		store:      store,
		prefix:     prefix,
		staleAfter: staleAfter,
		daemon:     daemon,
	}
}

func (m *Manager) branchFor(name string) string {
	return m.prefix + "/" + name
}

// Create resolves name (generating a fresh one if empty), validates it,
// allocates a branch and worktree off the repository's default branch, and
// persists an Active record. Failure at any step rolls back everything
// created so far.
func (m *Manager) Create(ctx context.Context, name, task string, typ Type) (Record, error) {
	log := logging.WithComponent("session")

	if name == "" {
		existing, _, err := m.store.List()
		if err != nil {
			return Record{}, err
		}
		taken := make([]string, 0, len(existing))
		for _, r := range existing {
			taken = append(taken, r.Name)
		}
		name = names.GenerateUniqueName(taken)
	}
	if err := names.ValidateSessionName(name); err != nil {
		return Record{}, err
	}

	branch := m.branchFor(name)
	if m.repo.BranchExists(ctx, branch) {
		return Record{}, paraerrors.New(paraerrors.SessionAlreadyExists, fmt.Sprintf("branch %q already exists", branch))
	}
	if _, err := m.store.Load(name); err == nil {
		return Record{}, paraerrors.New(paraerrors.SessionAlreadyExists, fmt.Sprintf("session %q already exists", name))
	}

	base, err := m.repo.DefaultBranch(ctx)
	if err != nil {
		return Record{}, err
	}

	path, err := m.worktrees.Create(ctx, name, branch, base)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	record := Record{
		Name:            name,
		Branch:          branch,
		WorktreePath:    path,
		CreatedAt:       now,
		LastActivity:    now,
		Status:          StatusActive,
		TaskDescription: task,
		Type:            typ,
	}

	if err := m.store.Save(record); err != nil {
		_ = m.worktrees.Remove(ctx, path)
		_ = m.repo.DeleteBranch(ctx, branch)
		return Record{}, err
	}

	if typ.Kind == "Container" {
		if m.daemon == nil {
			_ = m.store.Delete(name)
			_ = m.worktrees.Remove(ctx, path)
			_ = m.repo.DeleteBranch(ctx, branch)
			return Record{}, paraerrors.New(paraerrors.DaemonUnavailable, "container session requested but no daemon client is configured")
		}
		if err := m.daemon.RegisterContainerSession(ctx, name, path, m.repo.Root); err != nil {
			_ = m.store.Delete(name)
			_ = m.worktrees.Remove(ctx, path)
			_ = m.repo.DeleteBranch(ctx, branch)
			return Record{}, err
		}
	}

	log.Info("session created", "name", name, "branch", branch)
	return record, nil
}

// Resume locates a session by name or by its worktree's containing path,
// verifies its invariants, and touches last_activity.
func (m *Manager) Resume(ctx context.Context, nameOrPath string) (Record, error) {
	record, err := m.store.Load(nameOrPath)
	if err != nil {
		record, err = m.store.FindByPath(nameOrPath)
		if err != nil {
			return Record{}, err
		}
	}

	if record.Status == StatusActive || record.Status == StatusReview {
		if !m.repo.BranchExists(ctx, record.Branch) {
			return Record{}, paraerrors.New(paraerrors.WorktreeState, fmt.Sprintf("session %q has no backing branch %q", record.Name, record.Branch))
		}
	}

	record.LastActivity = time.Now().UTC().Format(time.RFC3339)
	if err := m.store.Save(record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// List returns every session record annotated with staleness.
func (m *Manager) List(ctx context.Context) ([]Info, []string, error) {
	records, warnings, err := m.store.List()
	if err != nil {
		return nil, nil, err
	}

	infos := make([]Info, 0, len(records))
	for _, r := range records {
		stale := false
		if last, perr := time.Parse(time.RFC3339, r.LastActivity); perr == nil {
			if time.Since(last) > m.staleAfter {
				stale = true
			}
		} else {
			stale = true
		}
		if !m.repo.BranchExists(ctx, r.Branch) {
			stale = true
		}
		infos = append(infos, Info{Record: r, Stale: stale})
	}
	return infos, warnings, nil
}

// Finish finalizes and, optionally, integrates a session's branch, then
// records the Review status on success. It never touches state on a hard
// error.
func (m *Manager) Finish(ctx context.Context, name, message, target string, doIntegrate bool) (integration.Result, error) {
	record, err := m.store.Load(name)
	if err != nil {
		return integration.Result{}, err
	}

	base, err := m.repo.DefaultBranch(ctx)
	if err != nil {
		return integration.Result{}, err
	}

	result, err := integration.Finish(ctx, integration.Request{
		WorktreePath: record.WorktreePath,
		Base:         base,
		Feature:      record.Branch,
		Message:      message,
		Target:       target,
		Integrate:    doIntegrate,
	})
	if err != nil {
		return integration.Result{}, err
	}

	record.Branch = result.FinalBranch
	record.Status = StatusReview
	record.LastActivity = time.Now().UTC().Format(time.RFC3339)
	if err := m.store.Save(record); err != nil {
		return integration.Result{}, err
	}
	return result, nil
}

// Cancel removes the worktree, archives the branch, and deletes the state
// record. It is idempotent: a session already fully or partially cleaned up
// still returns success.
func (m *Manager) Cancel(ctx context.Context, name string, force bool) error {
	record, err := m.store.Load(name)
	if err != nil {
		if paraerrors.Is(err, paraerrors.SessionNotFound) {
			return nil
		}
		return err
	}

	if !force {
		if dirty, derr := gitrepo.Open(record.WorktreePath).HasUncommittedChanges(ctx); derr == nil && dirty {
			return paraerrors.New(paraerrors.WorktreeState, fmt.Sprintf("session %q has uncommitted changes; use force to cancel anyway", name))
		}
	}

	if err := m.worktrees.Remove(ctx, record.WorktreePath); err != nil {
		logging.WithComponent("session").Warn("worktree removal failed during cancel", "name", name, "error", err)
	}

	if m.repo.BranchExists(ctx, record.Branch) {
		if _, err := m.archives.Archive(ctx, record.Branch, name); err != nil {
			return err
		}
	}

	if err := m.store.Delete(name); err != nil {
		return err
	}

	if record.Type.Kind == "Container" && m.daemon != nil {
		if err := m.daemon.UnregisterSession(ctx, name); err != nil {
			logging.WithComponent("session").Warn("daemon unregister failed during cancel", "name", name, "error", err)
		}
	}
	return nil
}

// RecoverList returns archived sessions eligible for recovery, newest first.
func (m *Manager) RecoverList(ctx context.Context) ([]archive.Entry, error) {
	entries, _, err := m.archives.List(ctx)
	return entries, err
}

// RecoverOne restores an archived branch back to <prefix>/<name>, recreates
// a worktree for it, and writes a fresh Active record.
func (m *Manager) RecoverOne(ctx context.Context, entry archive.Entry, name string) (Record, error) {
	if err := names.ValidateSessionName(name); err != nil {
		return Record{}, err
	}

	branch, err := m.archives.Restore(ctx, entry, name)
	if err != nil {
		return Record{}, err
	}

	base, err := m.repo.DefaultBranch(ctx)
	if err != nil {
		return Record{}, err
	}
	path, err := m.worktrees.Create(ctx, name, branch, base)
	if err != nil {
		return Record{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	record := Record{
		Name:         name,
		Branch:       branch,
		WorktreePath: path,
		CreatedAt:    now,
		LastActivity: now,
		Status:       StatusActive,
		Type:         WorktreeType(),
	}
	if err := m.store.Save(record); err != nil {
		_ = m.worktrees.Remove(ctx, path)
		return Record{}, err
	}
	return record, nil
}

// Clean prunes archive branches older than ageDays, removes the state files
// of Review and Finished sessions whose branch is gone, and deletes
// directories under the subtrees directory that git no longer tracks as
// worktrees.
func (m *Manager) Clean(ctx context.Context, ageDays int) (archivesPruned, statesRemoved, worktreesRemoved int, err error) {
	archivesPruned, err = m.archives.Prune(ctx, time.Duration(ageDays)*24*time.Hour)
	if err != nil {
		return 0, 0, 0, err
	}

	orphaned, err := m.store.Orphaned(ctx, m.repo)
	if err != nil {
		return archivesPruned, 0, 0, err
	}
	for _, r := range orphaned {
		if err := m.store.Delete(r.Name); err == nil {
			statesRemoved++
		}
	}

	worktreesRemoved, err = m.worktrees.CleanupOrphaned(ctx)
	if err != nil {
		return archivesPruned, statesRemoved, 0, err
	}
	return archivesPruned, statesRemoved, worktreesRemoved, nil
}
