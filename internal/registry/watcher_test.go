package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsPluginOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upper.conv")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	r := New()
	var builds atomic.Int32
	ctor := func(map[string]any) (Plugin, Capabilities, error) {
		builds.Add(1)
		return &fakePlugin{name: "upper", closed: &[]string{}}, Capabilities{}, nil
	}
	require.NoError(t, r.Register(KindConverter, "upper", ctor))
	_, _, err := r.Load(KindConverter, "upper", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, builds.Load())

	w, err := NewWatcher(r)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	require.NoError(t, w.Watch(KindConverter, "upper", path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		return builds.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}
