// Package config loads the YAML configuration that wires together a
// repository's session lifecycle manager, worktree layout, and daemon
// endpoints. It carries only the fields the core subsystems consume, none
// of the broader CLI/adapter configuration surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paraworkflow/para/internal/logging"
)

// Config is the root configuration document for a para-managed repository.
type Config struct {
	// RepoRoot is the repository this config governs. Empty means "resolve
	// from the current working directory at Discover time".
	RepoRoot string `yaml:"repo_root"`

	// BranchPrefix namespaces every branch para creates, e.g. "para".
	BranchPrefix string `yaml:"branch_prefix"`

	// SubtreesDir holds session worktrees, relative to RepoRoot unless absolute.
	SubtreesDir string `yaml:"subtrees_dir"`

	// StateDir holds one JSON record per session, relative to RepoRoot unless absolute.
	StateDir string `yaml:"state_dir"`

	// RuntimeDir holds the daemon socket and PID file. Empty means resolve
	// from $XDG_RUNTIME_DIR, falling back to os.TempDir() (/tmp unless
	// $TMPDIR is set).
	RuntimeDir string `yaml:"runtime_dir"`

	// StaleAfter marks a session stale in List() once last_activity exceeds this age.
	StaleAfter time.Duration `yaml:"stale_after"`

	// ArchiveCleanAgeDays is the default age threshold for Clean's archive sweep.
	ArchiveCleanAgeDays int `yaml:"archive_clean_age_days"`

	// WatcherPollInterval is how often a per-session watcher checks signal files.
	WatcherPollInterval time.Duration `yaml:"watcher_poll_interval"`

	// CleanSchedule is a cron expression the daemon uses to run Clean periodically.
	CleanSchedule string `yaml:"clean_schedule"`

	Logging *logging.Config `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		BranchPrefix:        "para",
		SubtreesDir:         "subtrees",
		StateDir:            ".para_state",
		StaleAfter:          24 * time.Hour,
		ArchiveCleanAgeDays: 30,
		WatcherPollInterval: time.Second,
		CleanSchedule:       "0 3 * * *",
		Logging:             logging.DefaultConfig(),
	}
}

// Load reads path as YAML, expanding environment variables before parsing,
// and overlays it onto DefaultConfig. A missing file is not an error: it
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SubtreesDir = expandPath(cfg.SubtreesDir)
	cfg.StateDir = expandPath(cfg.StateDir)
	cfg.RuntimeDir = expandPath(cfg.RuntimeDir)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory if needed.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns "~/.para/config.yaml".
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".para", "config.yaml")
}

func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// ResolveRuntimeDir returns cfg.RuntimeDir when set, else $XDG_RUNTIME_DIR,
// else os.TempDir() (/tmp unless $TMPDIR is set).
func ResolveRuntimeDir(cfg *Config) string {
	if cfg != nil && cfg.RuntimeDir != "" {
		return cfg.RuntimeDir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// SocketPath returns "<runtime_dir>/para-daemon.sock".
func SocketPath(cfg *Config) string {
	return filepath.Join(ResolveRuntimeDir(cfg), "para-daemon.sock")
}

// PIDPath returns "<runtime_dir>/para-daemon.pid".
func PIDPath(cfg *Config) string {
	return filepath.Join(ResolveRuntimeDir(cfg), "para-daemon.pid")
}

// AbsSubtreesDir resolves cfg.SubtreesDir against cfg.RepoRoot.
func (c *Config) AbsSubtreesDir() string {
	if filepath.IsAbs(c.SubtreesDir) {
		return c.SubtreesDir
	}
	return filepath.Join(c.RepoRoot, c.SubtreesDir)
}

// AbsStateDir resolves cfg.StateDir against cfg.RepoRoot.
func (c *Config) AbsStateDir() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.RepoRoot, c.StateDir)
}

// Validate checks required fields are sane.
func (c *Config) Validate() error {
	if c.BranchPrefix == "" {
		return fmt.Errorf("branch_prefix is required")
	}
	if strings.ContainsAny(c.BranchPrefix, " \t\n") {
		return fmt.Errorf("branch_prefix must not contain whitespace: %q", c.BranchPrefix)
	}
	if c.WatcherPollInterval <= 0 {
		return fmt.Errorf("watcher_poll_interval must be positive")
	}
	return nil
}
