package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeDispatcher struct {
	cleaned int
}

func (f *fakeDispatcher) Finish(ctx context.Context, name, message, target string, integrate bool) error {
	return nil
}

func (f *fakeDispatcher) Cancel(ctx context.Context, name string, force bool) error {
	return nil
}

func (f *fakeDispatcher) Clean(ctx context.Context, ageDays int) (int, int, int, error) {
	f.cleaned++
	return 0, 0, 0, nil
}

func newTestServer(t *testing.T) (*Server, string, string) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "para-daemon.sock")
	pidPath := filepath.Join(dir, "para-daemon.pid")
	srv := New(sockPath, pidPath, 10*time.Millisecond, 30, "", &fakeDispatcher{}, nil)
	return srv, sockPath, pidPath
}

func sendCommand(t *testing.T, sockPath string, cmd Command) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatal(err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response from daemon: %v", scanner.Err())
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return resp
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func TestServerPing(t *testing.T) {
	srv, sockPath, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)
	waitForSocket(t, sockPath)

	resp := sendCommand(t, sockPath, Command{Type: CommandPing})
	if resp.Type != ResponsePong {
		t.Fatalf("expected pong, got %+v", resp)
	}
}

func TestServerRegisterAndUnregisterSession(t *testing.T) {
	srv, sockPath, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)
	waitForSocket(t, sockPath)

	worktreeDir := t.TempDir()
	resp := sendCommand(t, sockPath, Command{
		Type:         CommandRegister,
		SessionName:  "alpha",
		WorktreePath: worktreeDir,
		RepoRoot:     "/repo",
	})
	if resp.Type != ResponseOk {
		t.Fatalf("expected ok registering session, got %+v", resp)
	}
	if srv.Count() != 1 {
		t.Fatalf("expected one watcher registered, got %d", srv.Count())
	}

	resp = sendCommand(t, sockPath, Command{Type: CommandUnregister, SessionName: "alpha"})
	if resp.Type != ResponseOk {
		t.Fatalf("expected ok unregistering session, got %+v", resp)
	}
	if srv.Count() != 0 {
		t.Fatalf("expected zero watchers after unregister, got %d", srv.Count())
	}
}

func TestServerRegisterIsIdempotent(t *testing.T) {
	srv, sockPath, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)
	waitForSocket(t, sockPath)

	worktreeDir := t.TempDir()
	for i := 0; i < 2; i++ {
		resp := sendCommand(t, sockPath, Command{
			Type:         CommandRegister,
			SessionName:  "dup",
			WorktreePath: worktreeDir,
			RepoRoot:     "/repo",
		})
		if resp.Type != ResponseOk {
			t.Fatalf("expected ok, got %+v", resp)
		}
	}
	if srv.Count() != 1 {
		t.Fatalf("expected exactly one watcher for duplicate registration, got %d", srv.Count())
	}
}

func TestServerUnknownCommandReturnsError(t *testing.T) {
	srv, sockPath, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx)
	waitForSocket(t, sockPath)

	resp := sendCommand(t, sockPath, Command{Type: "bogus"})
	if resp.Type != ResponseError {
		t.Fatalf("expected error response for unknown command, got %+v", resp)
	}
}

func TestServerShutdownRemovesSocketAndPID(t *testing.T) {
	srv, sockPath, pidPath := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	waitForSocket(t, sockPath)

	resp := sendCommand(t, sockPath, Command{Type: CommandShutdown})
	if resp.Type != ResponseOk {
		t.Fatalf("expected ok for shutdown, got %+v", resp)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, stat err=%v", err)
	}
}

func TestIsRunningFalseForMissingPIDFile(t *testing.T) {
	dir := t.TempDir()
	if IsRunning(filepath.Join(dir, "nope.pid")) {
		t.Fatal("expected IsRunning to be false for missing pid file")
	}
}

func TestIsRunningTrueForCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "para-daemon.pid")
	// Our own PID is always live for the duration of the test.
	if err := os.WriteFile(pidPath, []byte(itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if !IsRunning(pidPath) {
		t.Fatal("expected IsRunning to be true for this process's own pid")
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func TestServeRefusesWhenAlreadyRunning(t *testing.T) {
	srv, _, pidPath := newTestServer(t)
	if err := os.WriteFile(pidPath, []byte(itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Serve(ctx); err == nil {
		t.Fatal("expected Serve to refuse starting with a live pid file present")
	}
}
