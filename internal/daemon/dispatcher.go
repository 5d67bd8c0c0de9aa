package daemon

import (
	"context"

	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/session"
)

// SessionDispatcher adapts a *session.Manager to the Dispatcher interface a
// Server's watchers need. It exists because session.Manager.Finish returns
// an integration.Result the watcher protocol has no use for: the watcher
// only needs to know whether dispatch succeeded, and logs the soft-failure
// reason itself.
type SessionDispatcher struct {
	Manager *session.Manager
}

// Finish drops the integration.Result, logging an integration-conflict
// reason (a soft outcome, not an error) rather than returning it.
func (d SessionDispatcher) Finish(ctx context.Context, name, message, target string, integrate bool) error {
	result, err := d.Manager.Finish(ctx, name, message, target, integrate)
	if err != nil {
		return err
	}
	if result.IntegrationFailed {
		logging.WithComponent("daemon").Warn("finish completed with integration failure",
			"session", name, "final_branch", result.FinalBranch, "reason", result.IntegrationReason)
	}
	return nil
}

// Cancel delegates directly; session.Manager.Cancel already matches the
// Dispatcher signature.
func (d SessionDispatcher) Cancel(ctx context.Context, name string, force bool) error {
	return d.Manager.Cancel(ctx, name, force)
}

// Clean delegates directly to session.Manager.Clean for the daemon's
// cron-scheduled sweep.
func (d SessionDispatcher) Clean(ctx context.Context, ageDays int) (archivesPruned, statesRemoved, worktreesRemoved int, err error) {
	return d.Manager.Clean(ctx, ageDays)
}
