package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_RerunsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ntp", "manifests"), 0o755))

	runs := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	w := NewWatcher([]string{dir}, 20*time.Millisecond, zerolog.Nop())
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			runs <- struct{}{}
			return errors.New("failures are logged, not fatal")
		})
	}()

	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("initial run did not happen")
	}

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ntp", "manifests", "init.pp"), []byte("class ntp {}"), 0o644))

	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("change did not trigger a run")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_NoPaths(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "missing")}, 0, zerolog.Nop())
	err := w.Run(context.Background(), func(context.Context) error { return nil })
	assert.Error(t, err)
}
