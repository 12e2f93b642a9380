package watch

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batches struct {
	mu    sync.Mutex
	files [][]string
}

func (b *batches) add(files []string) error {
	sort.Strings(files)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = append(b.files, files)
	return nil
}

func (b *batches) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, f := range b.files {
		out = append(out, f...)
	}
	return out
}

func (b *batches) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

func TestDebouncerBatchesChanges(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	got := &batches{}
	d.SetCallback(func(files []string) { _ = got.add(files) })

	d.Add("a")
	d.Add("b")
	d.Add("a")

	assert.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got.all())
}

func TestDebouncerStop(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	got := &batches{}
	d.SetCallback(func(files []string) { _ = got.add(files) })

	d.Add("a")
	d.Stop()
	d.Add("b")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, got.count())
}

func TestMetadataWatcher(t *testing.T) {
	dir := t.TempDir()
	got := &batches{}

	mw, err := NewMetadataWatcher(dir, 20*time.Millisecond, nil, got.add)
	require.NoError(t, err)
	require.NoError(t, mw.Start())
	defer mw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-1"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20230101-000000-aaaaaaaa"), []byte("{}"), 0o644))

	assert.Eventually(t, func() bool {
		for _, f := range got.all() {
			if filepath.Base(f) == "20230101-000000-aaaaaaaa" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	for _, f := range got.all() {
		assert.NotEqual(t, ".tmp-1", filepath.Base(f))
	}

	require.NoError(t, mw.Stop())
	require.NoError(t, mw.Stop())
}
