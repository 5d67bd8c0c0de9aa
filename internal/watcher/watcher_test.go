package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paraworkflow/para/internal/signalfile"
)

type fakeDispatcher struct {
	mu             sync.Mutex
	finishedNames  []string
	finishedMsgs   []string
	cancelledName  string
	cancelledForce bool
}

func (f *fakeDispatcher) Finish(ctx context.Context, name, message, target string, integrate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishedNames = append(f.finishedNames, name)
	f.finishedMsgs = append(f.finishedMsgs, message)
	return nil
}

func (f *fakeDispatcher) Cancel(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledName = name
	f.cancelledForce = force
	return nil
}

func (f *fakeDispatcher) snapshot() (finished []string, cancelledName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finishedNames...), f.cancelledName
}

func TestWatcherDispatchesFinishAndExits(t *testing.T) {
	dir := t.TempDir()
	if err := signalfile.WriteFinish(dir, "done", ""); err != nil {
		t.Fatal(err)
	}

	disp := &fakeDispatcher{}
	w := New("alpha", dir, 10*time.Millisecond, disp, nil)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after finish signal")
	}

	finished, _ := disp.snapshot()
	if len(finished) != 1 || finished[0] != "alpha" {
		t.Fatalf("expected finish dispatched for alpha, got %v", finished)
	}
}

func TestWatcherDispatchesCancelAndExits(t *testing.T) {
	dir := t.TempDir()
	if err := signalfile.WriteCancel(dir, true); err != nil {
		t.Fatal(err)
	}

	disp := &fakeDispatcher{}
	w := New("beta", dir, 10*time.Millisecond, disp, nil)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after cancel signal")
	}

	_, cancelledName := disp.snapshot()
	if cancelledName != "beta" {
		t.Fatalf("expected cancel dispatched for beta, got %q", cancelledName)
	}
}

func TestWatcherStopWithoutSignal(t *testing.T) {
	dir := t.TempDir()
	disp := &fakeDispatcher{}
	w := New("gamma", dir, 10*time.Millisecond, disp, nil)

	go w.Run(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop()

	finished, cancelledName := disp.snapshot()
	if len(finished) != 0 || cancelledName != "" {
		t.Fatalf("expected no dispatch before stop, got finished=%v cancelled=%q", finished, cancelledName)
	}
}
