// Command para-daemon is the minimal process entrypoint the daemon client
// re-execs to auto-spawn the daemon. It is not a general CLI: session CRUD,
// the container runtime, and every other CLI surface live elsewhere.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paraworkflow/para/internal/archive"
	"github.com/paraworkflow/para/internal/config"
	"github.com/paraworkflow/para/internal/daemon"
	"github.com/paraworkflow/para/internal/daemonclient"
	"github.com/paraworkflow/para/internal/gitrepo"
	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/session"
	"github.com/paraworkflow/para/internal/state"
	"github.com/paraworkflow/para/internal/worktree"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "para-daemon",
		Short: "Para's signal-file daemon",
		Long:  `para-daemon supervises per-session watchers that drive finish/cancel on behalf of in-container agents.`,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.para/config.yaml)")

	// "daemon start" is the argument pair the daemon client re-execs with.
	daemonCmd := &cobra.Command{Use: "daemon", Short: "Daemon lifecycle commands"}
	daemonCmd.AddCommand(newStartCmd())

	rootCmd.AddCommand(newStartCmd(), newStopCmd(), newStatusCmd(), newPingCmd(), daemonCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RepoRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.RepoRoot = wd
	}
	if cfg.Logging != nil {
		if err := logging.Init(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logging: %w", err)
		}
	}
	return cfg, nil
}

func buildManager(ctx context.Context, cfg *config.Config) (*session.Manager, error) {
	repo, err := gitrepo.Discover(ctx, cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("discover repository: %w", err)
	}
	store, err := state.New(cfg.AbsStateDir())
	if err != nil {
		return nil, err
	}
	worktrees := worktree.New(repo, cfg.AbsSubtreesDir())
	archives := archive.New(repo, cfg.BranchPrefix)
	client := daemonclient.New(config.SocketPath(cfg), []string{"daemon", "start"})

	mgr := session.New(repo, worktrees, archives, store, cfg.BranchPrefix, cfg.StaleAfter, client)
	return mgr, nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			mgr, err := buildManager(ctx, cfg)
			if err != nil {
				return err
			}

			srv := daemon.New(
				config.SocketPath(cfg),
				config.PIDPath(cfg),
				cfg.WatcherPollInterval,
				cfg.ArchiveCleanAgeDays,
				cfg.CleanSchedule,
				daemon.SessionDispatcher{Manager: mgr},
				nil,
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			logging.WithComponent("daemon").Info("para-daemon starting", "socket", config.SocketPath(cfg))
			return srv.Serve(ctx)
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := daemonclient.New(config.SocketPath(cfg), []string{"daemon", "start"})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Shutdown(ctx); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if daemon.IsRunning(config.PIDPath(cfg)) {
				fmt.Println("daemon running")
				return nil
			}
			fmt.Println("daemon not running")
			return nil
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Ping a running daemon without auto-spawning it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := daemonclient.New(config.SocketPath(cfg), []string{"daemon", "start"})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			fmt.Println("pong")
			return nil
		},
	}
}
