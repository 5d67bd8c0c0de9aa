// Package session defines the Session record and the lifecycle manager that
// orchestrates git, worktree, archive, and state-store operations around it.
package session

import (
	"fmt"

	"github.com/paraworkflow/para/internal/session/record"
)

// Status is the lifecycle state of a Session, re-exported from
// internal/session/record so callers never need to import that package
// directly.
type Status = record.Status

const (
	StatusActive    = record.StatusActive
	StatusReview    = record.StatusReview
	StatusFinished  = record.StatusFinished
	StatusCancelled = record.StatusCancelled
)

// Type distinguishes a plain worktree session from one running inside a
// container, which additionally registers itself with the daemon.
type Type = record.Type

// WorktreeType returns the Type value for a plain worktree session.
func WorktreeType() Type { return record.WorktreeType() }

// ContainerType returns the Type value for a container-backed session.
func ContainerType(containerID string) Type { return record.ContainerType(containerID) }

// GitStats is a denormalized, display-only snapshot of a session's diff
// against its base; never authoritative and never required to be present.
type GitStats = record.GitStats

// Record is the on-disk, canonical representation of a session: one JSON
// document per session under the state store's directory.
type Record = record.Record

// Info is the read-only view returned by List, annotated with a staleness
// flag: set when last_activity is unparseable or older than the threshold,
// or when the session's branch no longer exists. Git stats are not computed.
type Info struct {
	Record
	Stale bool
}

// String renders a one-line human summary, in the shape a CLI status table
// would print per row.
func (i Info) String() string {
	stale := ""
	if i.Stale {
		stale = " (stale)"
	}
	task := i.TaskDescription
	if task == "" {
		task = "-"
	}
	return fmt.Sprintf("%-24s %-8s %-40s %s%s", i.Name, i.Status, i.Branch, task, stale)
}
