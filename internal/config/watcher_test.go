package config

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reloadRecorder struct {
	mu      sync.Mutex
	configs []*Config
	errors  []error
	ch      chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{ch: make(chan struct{}, 16)}
}

func (r *reloadRecorder) onReload(cfg *Config) {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *reloadRecorder) onError(err error) {
	r.mu.Lock()
	r.errors = append(r.errors, err)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *reloadRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher callback")
	}
}

func (r *reloadRecorder) lastConfig() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

func (r *reloadRecorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func TestWatcher(t *testing.T) {
	t.Run("reload on change", func(t *testing.T) {
		path := writeConfigFile(t, validConfigYAML)
		recorder := newReloadRecorder()

		watcher, err := NewWatcher(path, recorder.onReload,
			WithDebounceDelay(20*time.Millisecond),
			WithErrorCallback(recorder.onError),
		)
		require.NoError(t, err)

		require.NoError(t, watcher.Start(context.Background()))
		defer watcher.Stop()

		initial := watcher.GetLastConfig()
		require.NotNil(t, initial)
		assert.Equal(t, 9443, initial.Server.Port)

		updated := strings.Replace(validConfigYAML, "port: 9443", "port: 10443", 1)
		require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

		recorder.wait(t)

		cfg := recorder.lastConfig()
		require.NotNil(t, cfg)
		assert.Equal(t, 10443, cfg.Server.Port)
		assert.Equal(t, 10443, watcher.GetLastConfig().Server.Port)
	})

	t.Run("invalid content keeps last config", func(t *testing.T) {
		path := writeConfigFile(t, validConfigYAML)
		recorder := newReloadRecorder()

		watcher, err := NewWatcher(path, recorder.onReload,
			WithDebounceDelay(20*time.Millisecond),
			WithErrorCallback(recorder.onError),
		)
		require.NoError(t, err)

		require.NoError(t, watcher.Start(context.Background()))
		defer watcher.Stop()

		broken := strings.Replace(validConfigYAML, "jwksUrl: https://idp.example.com/jwks", "jwksUrl: \"\"", 1)
		require.NoError(t, os.WriteFile(path, []byte(broken), 0o600))

		recorder.wait(t)

		assert.Equal(t, 1, recorder.errorCount())
		assert.Nil(t, recorder.lastConfig())
		assert.Equal(t, 9443, watcher.GetLastConfig().Server.Port)
	})

	t.Run("start rejects invalid file", func(t *testing.T) {
		path := writeConfigFile(t, "server:\n  port: 1\n")

		watcher, err := NewWatcher(path, func(*Config) {})
		require.NoError(t, err)

		assert.Error(t, watcher.Start(context.Background()))
		require.NoError(t, watcher.watcher.Close())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		path := writeConfigFile(t, validConfigYAML)

		watcher, err := NewWatcher(path, func(*Config) {})
		require.NoError(t, err)

		require.NoError(t, watcher.Start(context.Background()))
		require.NoError(t, watcher.Stop())
		require.NoError(t, watcher.Stop())
	})
}
