package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherFiresOnWriteToExactPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("protocols: {}\n"), 0o600); err != nil {
		t.Fatalf("failed to seed config file: %v", err)
	}

	w, err := NewWatcher(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Close()

	fired := make(chan string, 1)
	go w.Run(func(p string) { fired <- p })

	time.Sleep(50 * time.Millisecond) // let the watcher's Add() settle
	if err := os.WriteFile(path, []byte("protocols: {}\n# changed\n"), 0o600); err != nil {
		t.Fatalf("failed to rewrite config file: %v", err)
	}

	select {
	case got := <-fired:
		if got != filepath.Clean(path) {
			t.Errorf("expected reload path %q, got %q", path, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected onReload to fire after a write to the watched config file")
	}
}

func TestWatcherIgnoresOtherFilesInTheSameDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	sibling := filepath.Join(dir, "unrelated.txt")
	if err := os.WriteFile(path, []byte("protocols: {}\n"), 0o600); err != nil {
		t.Fatalf("failed to seed config file: %v", err)
	}

	w, err := NewWatcher(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	defer w.Close()

	fired := make(chan string, 1)
	go w.Run(func(p string) { fired <- p })

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(sibling, []byte("noise"), 0o600); err != nil {
		t.Fatalf("failed to write sibling file: %v", err)
	}

	select {
	case got := <-fired:
		t.Fatalf("did not expect onReload for an unrelated file, got %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}
