package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, url string) {
	t.Helper()
	data := "server:\n  url: " + url + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zeni.yaml")
	writeConfig(t, path, "wss://a.example.com/ws")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.URL; got != "wss://a.example.com/ws" {
		t.Errorf("Current().Server.URL = %q", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()

	if _, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher succeeded on a missing file")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zeni.yaml")
	writeConfig(t, path, "wss://a.example.com/ws")

	var mu sync.Mutex
	var gotOld, gotNew string
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		defer mu.Unlock()
		gotOld = old.Server.URL
		gotNew = new.Server.URL
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "wss://b.example.com/ws")
	// Force a distinct mtime; some filesystems are coarse.
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(path, future, future)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotNew != ""
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld != "wss://a.example.com/ws" || gotNew != "wss://b.example.com/ws" {
		t.Errorf("onChange(old=%q, new=%q); want a → b", gotOld, gotNew)
	}
	if w.Current().Server.URL != "wss://b.example.com/ws" {
		t.Errorf("Current() not updated: %q", w.Current().Server.URL)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidRewrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zeni.yaml")
	writeConfig(t, path, "wss://a.example.com/ws")

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(_, _ *Config) {
		changed <- struct{}{}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("server:\n  url: ''\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(path, future, future)

	select {
	case <-changed:
		t.Fatal("onChange fired for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}

	if got := w.Current().Server.URL; got != "wss://a.example.com/ws" {
		t.Errorf("Current().Server.URL = %q; want the previous valid config", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zeni.yaml")
	writeConfig(t, path, "wss://a.example.com/ws")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
