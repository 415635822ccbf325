package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hafiz/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
recitation:
  threshold: 0.6
`

const watcherUpdatedYAML = `
server:
  log_level: info
recitation:
  threshold: 0.8
  fuzzy_word_match: 0.9
`

const watcherInvalidYAML = `
recitation:
  threshold: 7
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// startWatcher runs w until the test ends.
func startWatcher(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "hafiz.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Recitation.Threshold != 0.6 {
		t.Errorf("threshold: got %v, want 0.6", cfg.Recitation.Threshold)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "hafiz.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var callbackOld, callbackNew *config.Config
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		callbackOld = old
		callbackNew = new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startWatcher(t, w)

	// Let the mtime move past the initial load's.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherUpdatedYAML)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(cfgPath, later, later); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if callbackOld == nil || callbackNew == nil {
		t.Fatal("callback received nil configs")
	}
	d := config.Diff(callbackOld, callbackNew)
	if !d.ThresholdChanged || !d.FuzzyWordMatchChanged {
		t.Errorf("Diff after reload: %+v", d)
	}
	if cur := w.Current(); cur.Recitation.Threshold != 0.8 {
		t.Errorf("Current() threshold: got %v, want 0.8", cur.Recitation.Threshold)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "hafiz.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	callCount := 0
	var mu sync.Mutex

	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		callCount++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startWatcher(t, w)

	time.Sleep(100 * time.Millisecond)
	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Recitation.Threshold != 0.6 {
		t.Errorf("Current() should still have old config, got threshold=%v", cur.Recitation.Threshold)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_RunReturnsOnCancel(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "hafiz.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "hafiz.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	callCount := 0
	var mu sync.Mutex

	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		callCount++
		mu.Unlock()
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startWatcher(t, w)

	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "hafiz.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var calls int
	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		calls++
		if old.Recitation.Threshold != 0.6 || new.Recitation.Threshold != 0.8 {
			t.Errorf("callback thresholds: old=%v new=%v", old.Recitation.Threshold, new.Recitation.Threshold)
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if changed, err := w.Reload(); err != nil || changed {
		t.Fatalf("Reload on unchanged file = %v, %v; want false, nil", changed, err)
	}

	writeFile(t, cfgPath, watcherUpdatedYAML)
	if changed, err := w.Reload(); err != nil || !changed {
		t.Fatalf("Reload after edit = %v, %v; want true, nil", changed, err)
	}
	if calls != 1 {
		t.Errorf("callback calls = %d, want 1", calls)
	}

	writeFile(t, cfgPath, watcherInvalidYAML)
	if _, err := w.Reload(); err == nil {
		t.Fatal("Reload of invalid file: want error")
	}
	if got := w.Current().Recitation.Threshold; got != 0.8 {
		t.Errorf("Current() threshold after invalid reload = %v, want 0.8", got)
	}
	if calls != 1 {
		t.Errorf("callback calls = %d, want 1", calls)
	}
}
