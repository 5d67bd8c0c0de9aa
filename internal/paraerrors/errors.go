// Package paraerrors defines the error taxonomy shared by every para
// component: a fixed set of kinds that callers can switch on with errors.As,
// instead of matching against ad-hoc error strings.
package paraerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of failure a component reported.
type Kind string

const (
	SessionNotFound      Kind = "session_not_found"
	SessionAlreadyExists Kind = "session_already_exists"
	InvalidSessionName   Kind = "invalid_session_name"
	InvalidBranchName    Kind = "invalid_branch_name"
	GitOperation         Kind = "git_operation"
	WorktreeState        Kind = "worktree_state"
	IntegrationConflict  Kind = "integration_conflict"
	IntegrationFailure   Kind = "integration_failure"
	StateCorruption      Kind = "state_corruption"
	DaemonUnavailable    Kind = "daemon_unavailable"
	DaemonProtocol       Kind = "daemon_protocol"
	FileSystem           Kind = "filesystem"
	PermissionDenied     Kind = "permission_denied"
)

// Error is the concrete error type every para package returns. Kind lets
// callers branch on category; Cause, when present, is preserved for
// errors.Unwrap so %w chains keep working through this type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Argv and Stderr are populated for Kind == GitOperation.
	Argv   []string
	Stderr string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Kind == GitOperation && len(e.Argv) > 0 {
		fmt.Fprintf(&b, " (git %s)", strings.Join(e.Argv, " "))
		if e.Stderr != "" {
			fmt.Fprintf(&b, ": %s", strings.TrimSpace(e.Stderr))
		}
	} else if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, paraerrors.New(paraerrors.SessionNotFound, "")) works as a
// kind-test idiom.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New builds a plain Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind that preserves cause for unwrapping.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// GitError builds a GitOperation error carrying the failing argv and the
// process's stderr/combined output, so the caller can surface both without
// re-parsing a flattened string.
func GitError(argv []string, stderr string, cause error) *Error {
	return &Error{
		Kind:    GitOperation,
		Message: "git command failed",
		Cause:   cause,
		Argv:    argv,
		Stderr:  stderr,
	}
}

// Of reports the Kind of err, returning ok=false if err is not (or does not
// wrap) a *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
