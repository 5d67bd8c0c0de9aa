// Package daemonclient is the lightweight helper the session lifecycle
// manager uses to talk to the daemon: it dials the daemon's Unix socket, and
// auto-spawns the daemon by re-exec'ing the current binary if the socket is
// unreachable.
package daemonclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/paraworkflow/para/internal/daemon"
	"github.com/paraworkflow/para/internal/logging"
)

const (
	dialTimeout  = 5 * time.Second
	spawnWait    = 500 * time.Millisecond
	spawnRetries = 1
)

// Client sends Commands to the daemon listening on sockPath, auto-spawning
// it via spawnArgs (typically {"daemon", "start"}) when dialing fails.
type Client struct {
	sockPath  string
	spawnArgs []string
}

// New returns a Client targeting sockPath. spawnArgs are appended to
// os.Executable() to auto-start the daemon on a failed dial.
func New(sockPath string, spawnArgs []string) *Client {
	return &Client{sockPath: sockPath, spawnArgs: spawnArgs}
}

// SendCommand dials the daemon with a 5s deadline, writes cmd as one
// newline-delimited JSON line, and reads back exactly one Response line. If
// the dial fails and cmd is not Ping, it spawns the daemon and retries once.
func (c *Client) SendCommand(ctx context.Context, cmd daemon.Command) (daemon.Response, error) {
	resp, err := c.sendOnce(cmd)
	if err == nil {
		return resp, nil
	}
	if cmd.Type == daemon.CommandPing {
		return daemon.Response{}, fmt.Errorf("daemon unreachable: %w", err)
	}

	log := logging.WithComponent("daemonclient")
	log.Warn("daemon unreachable, attempting auto-spawn", "error", err)
	if spawnErr := c.spawnDaemon(); spawnErr != nil {
		return daemon.Response{}, fmt.Errorf("daemon unreachable and auto-spawn failed: %w (dial error: %s)", spawnErr, err)
	}

	time.Sleep(spawnWait)
	for i := 0; i < spawnRetries; i++ {
		resp, err = c.sendOnce(cmd)
		if err == nil {
			return resp, nil
		}
	}
	return daemon.Response{}, fmt.Errorf("daemon unreachable after auto-spawn: %w", err)
}

func (c *Client) sendOnce(cmd daemon.Command) (daemon.Response, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, dialTimeout)
	if err != nil {
		return daemon.Response{}, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	data, err := json.Marshal(cmd)
	if err != nil {
		return daemon.Response{}, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return daemon.Response{}, fmt.Errorf("write command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return daemon.Response{}, fmt.Errorf("read response: %w", err)
		}
		return daemon.Response{}, fmt.Errorf("daemon closed connection without a response")
	}

	var resp daemon.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return daemon.Response{}, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

func (c *Client) spawnDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := c.spawnArgs
	if len(args) == 0 {
		args = []string{"daemon", "start"}
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}
	return cmd.Process.Release()
}

// Ping checks daemon liveness without triggering an auto-spawn.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.sendOnce(daemon.Command{Type: daemon.CommandPing})
	if err != nil {
		return err
	}
	if resp.Type != daemon.ResponsePong {
		return fmt.Errorf("unexpected response to ping: %s", resp.Type)
	}
	return nil
}

// RegisterContainerSession satisfies session.DaemonRegistrar.
func (c *Client) RegisterContainerSession(ctx context.Context, sessionName, worktreePath, repoRoot string) error {
	resp, err := c.SendCommand(ctx, daemon.Command{
		Type:         daemon.CommandRegister,
		SessionName:  sessionName,
		WorktreePath: worktreePath,
		RepoRoot:     repoRoot,
	})
	if err != nil {
		return err
	}
	if resp.Type == daemon.ResponseError {
		return fmt.Errorf("daemon: %s", resp.Error)
	}
	return nil
}

// UnregisterSession satisfies session.DaemonRegistrar.
func (c *Client) UnregisterSession(ctx context.Context, sessionName string) error {
	resp, err := c.SendCommand(ctx, daemon.Command{
		Type:        daemon.CommandUnregister,
		SessionName: sessionName,
	})
	if err != nil {
		return err
	}
	if resp.Type == daemon.ResponseError {
		return fmt.Errorf("daemon: %s", resp.Error)
	}
	return nil
}

// Shutdown asks the daemon to exit after cleaning up its PID file.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.SendCommand(ctx, daemon.Command{Type: daemon.CommandShutdown})
	if err != nil {
		return err
	}
	if resp.Type == daemon.ResponseError {
		return fmt.Errorf("daemon: %s", resp.Error)
	}
	return nil
}
