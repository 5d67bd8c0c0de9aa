// Package record defines the on-disk Session record shape. It is kept as a
// leaf package with no dependency on internal/session or internal/state so
// that both can depend on it without an import cycle: internal/state reads
// and writes Records, and internal/session re-exports these types as part of
// its own public API.
package record

import "fmt"

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive    Status = "Active"
	StatusReview    Status = "Review"
	StatusFinished  Status = "Finished"
	StatusCancelled Status = "Cancelled"
)

// Type distinguishes a plain worktree session from one running inside a
// container, which additionally registers itself with the daemon.
type Type struct {
	Kind        string // "Worktree" or "Container"
	ContainerID string // only meaningful when Kind == "Container"
}

// WorktreeType returns the Type value for a plain worktree session.
func WorktreeType() Type { return Type{Kind: "Worktree"} }

// ContainerType returns the Type value for a container-backed session.
func ContainerType(containerID string) Type {
	return Type{Kind: "Container", ContainerID: containerID}
}

func (t Type) String() string {
	if t.Kind == "Container" && t.ContainerID != "" {
		return fmt.Sprintf("Container(%s)", t.ContainerID)
	}
	return t.Kind
}

// GitStats is a denormalized, display-only snapshot of a session's diff
// against its base; never authoritative and never required to be present.
type GitStats struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
}

// Record is the on-disk, canonical representation of a session: one JSON
// document per session under the state store's directory.
type Record struct {
	Name            string   `json:"name"`
	Branch          string   `json:"branch"`
	WorktreePath    string   `json:"worktree_path"`
	CreatedAt       string   `json:"created_at"`    // RFC3339
	LastActivity    string   `json:"last_activity"` // RFC3339
	Status          Status   `json:"status"`
	TaskDescription string   `json:"task_description,omitempty"`
	Type            Type     `json:"session_type"`
	GitStats        GitStats `json:"git_stats,omitempty"`
	IsDocker        bool     `json:"is_docker,omitempty"`
}
