package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projbuild/projbuild/pkg/config"
)

const (
	settle  = 50 * time.Millisecond
	timeout = 5 * time.Second
	quiet   = 400 * time.Millisecond
)

type harness struct {
	root string
	runs chan int
	done chan error
	stop context.CancelFunc
}

func startWatcher(t *testing.T, failRuns bool) *harness {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "output"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "app.proj"), []byte(`{"References": []}`), 0644))

	cfg := config.NewManager().GetDefaultConfig()
	w, err := New(root, cfg, nil,
		WithSettlingDelay(settle),
		WithIgnore(filepath.Join(root, "output")))
	require.NoError(t, err)

	h := &harness{
		root: root,
		runs: make(chan int, 16),
		done: make(chan error, 1),
	}

	var count int32
	ctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel

	go func() {
		h.done <- w.Run(ctx, func(context.Context) error {
			h.runs <- int(atomic.AddInt32(&count, 1))
			if failRuns {
				return errors.New("build broke")
			}
			return nil
		})
	}()

	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})

	h.expectRun(t)
	return h
}

func (h *harness) expectRun(t *testing.T) int {
	t.Helper()
	select {
	case n := <-h.runs:
		return n
	case <-time.After(timeout):
		t.Fatal("expected a run")
		return 0
	}
}

func (h *harness) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case n := <-h.runs:
		t.Fatalf("unexpected run #%d", n)
	case <-time.After(quiet):
	}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWatcher_RerunsOnDescriptorChange(t *testing.T) {
	h := startWatcher(t, false)

	h.write(t, "app/app.proj", `{"References": [], "Name": "renamed"}`)
	assert.Equal(t, 2, h.expectRun(t))
}

func TestWatcher_SettlesBursts(t *testing.T) {
	h := startWatcher(t, false)

	for i := 0; i < 5; i++ {
		h.write(t, "app/app.proj", `{"References": []}`)
	}
	assert.Equal(t, 2, h.expectRun(t))
	h.expectQuiet(t)
}

func TestWatcher_IgnoresIrrelevantChanges(t *testing.T) {
	h := startWatcher(t, false)

	h.write(t, "app/notes.txt", "hello")
	h.write(t, ".git/stray.proj", `{"References": []}`)
	h.write(t, "output/app/generated.proj", `{"References": []}`)
	h.expectQuiet(t)
}

func TestWatcher_NewDirectoryWithDescriptor(t *testing.T) {
	h := startWatcher(t, false)

	h.write(t, "lib/lib.proj", `{"References": []}`)
	h.expectRun(t)

	// the new directory is watched from now on
	h.write(t, "lib/lib.proj", `{"References": [], "Name": "lib2"}`)
	h.expectRun(t)
}

func TestWatcher_ConfigChange(t *testing.T) {
	h := startWatcher(t, false)

	h.write(t, "projbuild.config.json", `{"outputDir": "dist"}`)
	h.expectRun(t)
}

func TestWatcher_KeepsWatchingAfterFailedRun(t *testing.T) {
	h := startWatcher(t, true)

	h.write(t, "app/app.proj", `{"References": []}`)
	assert.Equal(t, 2, h.expectRun(t))

	h.stop()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("watcher did not stop")
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	cfg := config.NewManager().GetDefaultConfig()
	cfg.DescriptorPattern = "[z-a]"

	_, err := New(t.TempDir(), cfg, nil)
	assert.Error(t, err)
}
