// Package signalfile implements the JSON file-drop protocol that in-worktree
// agents use to ask the daemon's watcher to finish, cancel, or report status
// on a session, without the agent needing any IPC client of its own.
package signalfile

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/paraworkflow/para/internal/logging"
)

const (
	finishFile = "finish_signal.json"
	cancelFile = "cancel_signal.json"
	statusFile = "status.json"
)

// Kind identifies which variant a Signal carries.
type Kind int

const (
	None Kind = iota
	Finish
	Cancel
	Status
)

// Signal is the small sum type spec'd as "None | Finish | Cancel | Status".
// Only the fields relevant to Kind are populated.
type Signal struct {
	Kind Kind

	// Finish
	CommitMessage string
	Branch        string

	// Cancel
	Force bool

	// Status
	Task      string
	Tests     string
	Todos     string
	Blocked   bool
	Timestamp string
}

type finishPayload struct {
	CommitMessage string `json:"commit_message"`
	Branch        string `json:"branch,omitempty"`
}

type cancelPayload struct {
	Force bool `json:"force,omitempty"`
}

type statusPayload struct {
	Task      string `json:"task"`
	Tests     string `json:"tests,omitempty"`
	Todos     string `json:"todos,omitempty"`
	Blocked   bool   `json:"blocked"`
	Timestamp string `json:"timestamp"`
}

func paraDir(worktreePath string) string {
	return filepath.Join(worktreePath, ".para")
}

// Consume checks worktreePath's .para directory for a finish or cancel
// signal, deleting the file once parsed so each signal is acted on exactly
// once. Finish takes priority over cancel if both are somehow present. If
// neither is present, it reports a status signal (read-only, never deleted)
// or None. Malformed JSON is logged and treated as "no signal" so the writer
// gets another poll interval to finish writing the file.
func Consume(worktreePath string) (Signal, error) {
	log := logging.WithComponent("signalfile")
	dir := paraDir(worktreePath)

	if sig, ok := readFinish(dir, log); ok {
		_ = os.Remove(filepath.Join(dir, finishFile))
		return sig, nil
	}
	if sig, ok := readCancel(dir, log); ok {
		_ = os.Remove(filepath.Join(dir, cancelFile))
		return sig, nil
	}
	if sig, ok := readStatus(dir, log); ok {
		return sig, nil
	}
	return Signal{Kind: None}, nil
}

func readFinish(dir string, log *slog.Logger) (Signal, bool) {
	data, err := os.ReadFile(filepath.Join(dir, finishFile))
	if err != nil {
		return Signal{}, false
	}
	var p finishPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn("malformed finish_signal.json", "error", err)
		return Signal{}, false
	}
	return Signal{Kind: Finish, CommitMessage: p.CommitMessage, Branch: p.Branch}, true
}

func readCancel(dir string, log *slog.Logger) (Signal, bool) {
	data, err := os.ReadFile(filepath.Join(dir, cancelFile))
	if err != nil {
		return Signal{}, false
	}
	var p cancelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn("malformed cancel_signal.json", "error", err)
		return Signal{}, false
	}
	return Signal{Kind: Cancel, Force: p.Force}, true
}

func readStatus(dir string, log *slog.Logger) (Signal, bool) {
	data, err := os.ReadFile(filepath.Join(dir, statusFile))
	if err != nil {
		return Signal{}, false
	}
	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn("malformed status.json", "error", err)
		return Signal{}, false
	}
	return Signal{
		Kind:      Status,
		Task:      p.Task,
		Tests:     p.Tests,
		Todos:     p.Todos,
		Blocked:   p.Blocked,
		Timestamp: p.Timestamp,
	}, true
}

// WriteFinish writes finish_signal.json, for tests and for any in-process
// caller that wants to simulate the in-container agent side of the
// protocol.
func WriteFinish(worktreePath, commitMessage, branch string) error {
	return writeJSON(worktreePath, finishFile, finishPayload{CommitMessage: commitMessage, Branch: branch})
}

// WriteCancel writes cancel_signal.json.
func WriteCancel(worktreePath string, force bool) error {
	return writeJSON(worktreePath, cancelFile, cancelPayload{Force: force})
}

// WriteStatus writes status.json, overwriting any previous status.
func WriteStatus(worktreePath string, task, tests, todos string, blocked bool, timestamp string) error {
	return writeJSON(worktreePath, statusFile, statusPayload{
		Task: task, Tests: tests, Todos: todos, Blocked: blocked, Timestamp: timestamp,
	})
}

func writeJSON(worktreePath, name string, v any) error {
	dir := paraDir(worktreePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
