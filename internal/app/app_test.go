package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/config"
)

type fakeNotifier struct {
	reloads chan struct{}
}

func (f *fakeNotifier) NotifyConfigReload() { f.reloads <- struct{}{} }

func writeTestConfig(t *testing.T, logLevel string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `log_level = "` + logLevel + `"

[broker]
addr = "127.0.0.1:11099"
username = "trader"
password = "secret"

[session]
data_dir = "` + t.TempDir() + `"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigReloadOnHangup(t *testing.T) {
	path := writeTestConfig(t, "info")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	a := New(cfg, path, slog.New(slog.DiscardHandler))
	notifier := &fakeNotifier{reloads: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hup := make(chan os.Signal, 1)
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		_ = a.watchConfigReload(ctx, hup, notifier)
	}()

	// Rewrite the file, then signal. The watcher re-reads it and tells the
	// session.
	newPath := writeTestConfig(t, "debug")
	data, err := os.ReadFile(newPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	hup <- syscall.SIGHUP

	select {
	case <-notifier.reloads:
	case <-time.After(time.Second):
		t.Fatal("reload never reached the session")
	}
	assert.Equal(t, "debug", a.cfg.LogLevel)

	cancel()
	select {
	case <-watcherDone:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestConfigReloadKeepsCurrentOnInvalidFile(t *testing.T) {
	path := writeTestConfig(t, "info")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	a := New(cfg, path, slog.New(slog.DiscardHandler))
	notifier := &fakeNotifier{reloads: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hup := make(chan os.Signal, 1)
	go func() { _ = a.watchConfigReload(ctx, hup, notifier) }()

	require.NoError(t, os.WriteFile(path, []byte(`log_level = "turbo"`), 0o600))
	hup <- syscall.SIGHUP

	select {
	case <-notifier.reloads:
		t.Fatal("invalid configuration must not be applied")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, "info", a.cfg.LogLevel)
}
