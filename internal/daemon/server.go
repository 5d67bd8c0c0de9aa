package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/paraworkflow/para/internal/logging"
	"github.com/paraworkflow/para/internal/watcher"
)

// Dispatcher is the slice of session.Manager the daemon needs to drive
// watchers and the periodic clean sweep. Expressed as an interface so this
// package never imports internal/session directly, keeping the watcher
// dependency graph a DAG.
type Dispatcher interface {
	watcher.Dispatcher
	Clean(ctx context.Context, ageDays int) (archivesPruned, statesRemoved, worktreesRemoved int, err error)
}

// ContainerStopper is forwarded to every watcher the daemon spawns.
type ContainerStopper = watcher.ContainerStopper

// Server is the long-lived per-user daemon process: it owns a map of
// session-name to Watcher guarded by a mutex, plus a cron schedule that runs
// Dispatcher.Clean.
type Server struct {
	sockPath      string
	pidPath       string
	poll          time.Duration
	ageDays       int
	cleanSchedule string

	dispatcher Dispatcher
	stopper    ContainerStopper

	mu       sync.Mutex
	watchers map[string]*watcher.Watcher

	cron *cron.Cron

	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a Server listening (once Serve is called) on sockPath, with a
// PID file at pidPath, dispatching registered sessions' watchers at the
// given poll interval. cleanSchedule is a cron expression ("0 3 * * *"-style)
// driving the periodic Dispatcher.Clean sweep.
func New(sockPath, pidPath string, poll time.Duration, ageDays int, cleanSchedule string, dispatcher Dispatcher, stopper ContainerStopper) *Server {
	if cleanSchedule == "" {
		cleanSchedule = "0 3 * * *"
	}
	return &Server{
		sockPath:      sockPath,
		pidPath:       pidPath,
		poll:          poll,
		ageDays:       ageDays,
		cleanSchedule: cleanSchedule,
		dispatcher:    dispatcher,
		stopper:       stopper,
		watchers:      make(map[string]*watcher.Watcher),
	}
}

// IsRunning reports whether the PID recorded at pidPath resolves to a live
// process, via a signal-0 probe.
func IsRunning(pidPath string) bool {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Serve removes any stale socket, writes the PID file, and accepts
// connections until ctx is cancelled or a Shutdown command is received. It
// also starts the cron-scheduled clean sweep.
func (s *Server) Serve(ctx context.Context) error {
	log := logging.WithComponent("daemon")

	if IsRunning(s.pidPath) {
		return fmt.Errorf("daemon already running (pid file %s is live)", s.pidPath)
	}
	_ = os.Remove(s.sockPath)

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.sockPath, err)
	}
	s.listener = ln

	if err := os.WriteFile(s.pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		_ = ln.Close()
		return fmt.Errorf("write pid file: %w", err)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cleanSchedule, func() {
		pruned, removed, worktreesRemoved, err := s.dispatcher.Clean(context.Background(), s.ageDays)
		if err != nil {
			log.Warn("scheduled clean failed", "error", err)
			return
		}
		log.Info("scheduled clean completed", "archives_pruned", pruned, "states_removed", removed, "worktrees_removed", worktreesRemoved)
	}); err != nil {
		log.Warn("failed to schedule clean", "error", err)
	} else {
		s.cron.Start()
	}

	log.Info("daemon listening", "socket", s.sockPath)

	shutdown := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-shutdown:
			_ = ln.Close()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.teardown()
				return nil
			case <-shutdown:
				s.teardown()
				return nil
			default:
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if s.handleConn(conn) {
				close(shutdown)
			}
		}()
	}
}

func (s *Server) teardown() {
	s.mu.Lock()
	for name, w := range s.watchers {
		w.Stop()
		delete(s.watchers, name)
	}
	s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
	}
	_ = os.Remove(s.pidPath)
	_ = os.Remove(s.sockPath)
	s.wg.Wait()
}

// handleConn processes one connection's newline-delimited JSON commands. It
// returns true if the connection requested Shutdown.
func (s *Server) handleConn(conn net.Conn) (shutdownRequested bool) {
	defer conn.Close()
	log := logging.WithComponent("daemon").With("conn", uuid.New().String())

	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)
	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			writeResponse(writer, Response{Type: ResponseError, Error: fmt.Sprintf("malformed command: %s", err)})
			continue
		}

		resp := s.handleCommand(cmd, log)
		writeResponse(writer, resp)
		if cmd.Type == CommandShutdown {
			return true
		}
	}
	return false
}

func (s *Server) handleCommand(cmd Command, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) Response {
	switch cmd.Type {
	case CommandRegister:
		if err := s.registerSession(cmd.SessionName, cmd.WorktreePath, cmd.RepoRoot); err != nil {
			return Response{Type: ResponseError, Error: err.Error()}
		}
		log.Info("registered session", "session", cmd.SessionName)
		return Response{Type: ResponseOk}
	case CommandUnregister:
		s.unregisterSession(cmd.SessionName)
		log.Info("unregistered session", "session", cmd.SessionName)
		return Response{Type: ResponseOk}
	case CommandPing:
		return Response{Type: ResponsePong}
	case CommandShutdown:
		return Response{Type: ResponseOk}
	default:
		return Response{Type: ResponseError, Error: fmt.Sprintf("unknown command type %q", cmd.Type)}
	}
}

func writeResponse(w *bufio.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
	_ = w.Flush()
}

// registerSession spawns a Watcher for sessionName if one is not already
// running; the watcher map entry is created atomically under mu.
func (s *Server) registerSession(sessionName, worktreePath, repoRoot string) error {
	if sessionName == "" || worktreePath == "" {
		return fmt.Errorf("session_name and worktree_path are required")
	}

	s.mu.Lock()
	if _, exists := s.watchers[sessionName]; exists {
		s.mu.Unlock()
		return nil
	}
	w := watcher.New(sessionName, worktreePath, s.poll, s.dispatcher, s.stopper)
	s.watchers[sessionName] = w
	s.mu.Unlock()

	go func() {
		w.Run(context.Background())
		s.mu.Lock()
		if s.watchers[sessionName] == w {
			delete(s.watchers, sessionName)
		}
		s.mu.Unlock()
	}()
	return nil
}

// unregisterSession stops and removes sessionName's watcher, if any.
func (s *Server) unregisterSession(sessionName string) {
	s.mu.Lock()
	w, exists := s.watchers[sessionName]
	if exists {
		delete(s.watchers, sessionName)
	}
	s.mu.Unlock()
	if exists {
		w.Stop()
	}
}

// Count returns the number of sessions currently watched, for tests and
// status reporting.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
