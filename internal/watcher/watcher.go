// Package watcher runs one poll loop per (session, worktree), dispatching
// finish/cancel/status signal files into the session lifecycle manager.
package watcher

import (
	"context"
	"time"

	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/signalfile"
)

// ContainerStopper is the narrow capability a Watcher needs to best-effort
// stop a session's container runtime; failures are logged, never returned,
// since a failed stop must not block the finish/cancel it followed.
type ContainerStopper interface {
	StopContainer(ctx context.Context, sessionName string) error
}

// Dispatcher is the slice of session.Manager a Watcher depends on. It is
// expressed as an interface, not a direct import of internal/session, so
// that the watcher stays a pure consumer of signals and never reaches back
// into state ownership itself (per the borrow-only-references design).
type Dispatcher interface {
	Finish(ctx context.Context, name, message, target string, integrate bool) error
	Cancel(ctx context.Context, name string, force bool) error
}

// Watcher polls one worktree's .para directory for signal files and drives
// Dispatcher on behalf of whatever wrote them.
type Watcher struct {
	sessionName  string
	worktreePath string
	poll         time.Duration
	dispatcher   Dispatcher
	stopper      ContainerStopper // optional

	stop chan struct{}
	done chan struct{}
}

// New returns a Watcher for sessionName backed by worktreePath. stopper may
// be nil if the session has no container runtime to stop.
func New(sessionName, worktreePath string, poll time.Duration, dispatcher Dispatcher, stopper ContainerStopper) *Watcher {
	return &Watcher{
		sessionName:  sessionName,
		worktreePath: worktreePath,
		poll:         poll,
		dispatcher:   dispatcher,
		stopper:      stopper,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run blocks, polling every w.poll, until Stop is called or a finish/cancel
// signal is dispatched (either of which ends the watcher's loop).
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)
	log := logging.WithComponent("watcher").With("session", w.sessionName)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			log.Info("watcher stopped")
			return
		case <-ctx.Done():
			log.Info("watcher context cancelled")
			return
		case <-ticker.C:
			sig, err := signalfile.Consume(w.worktreePath)
			if err != nil {
				log.Warn("signal consume failed", "error", err)
				continue
			}
			switch sig.Kind {
			case signalfile.Finish:
				w.handleFinish(ctx, log, sig)
				return
			case signalfile.Cancel:
				w.handleCancel(ctx, log, sig)
				return
			case signalfile.Status:
				// No-op beyond the read itself; status is informational.
			}
		}
	}
}

// Stop closes the stop channel, which wakes the watcher's loop at once, and
// blocks until the loop has exited.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) handleFinish(ctx context.Context, log interface {
	Warn(string, ...any)
}, sig signalfile.Signal) {
	if err := w.dispatcher.Finish(ctx, w.sessionName, sig.CommitMessage, sig.Branch, true); err != nil {
		log.Warn("finish dispatch failed", "error", err)
	}
	w.stopContainer(ctx, log)
}

func (w *Watcher) handleCancel(ctx context.Context, log interface {
	Warn(string, ...any)
}, sig signalfile.Signal) {
	if err := w.dispatcher.Cancel(ctx, w.sessionName, sig.Force); err != nil {
		log.Warn("cancel dispatch failed", "error", err)
	}
	w.stopContainer(ctx, log)
}

func (w *Watcher) stopContainer(ctx context.Context, log interface {
	Warn(string, ...any)
}) {
	if w.stopper == nil {
		return
	}
	if err := w.stopper.StopContainer(ctx, w.sessionName); err != nil {
		log.Warn("container stop failed", "error", err)
	}
}
