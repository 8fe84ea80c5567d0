package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/queue"
)

type recordingQueue struct {
	mu  sync.Mutex
	ops []*queue.Operation
}

func (r *recordingQueue) Enqueue(ctx context.Context, path string, kind queue.OpKind, content []byte, oldPath string) (*queue.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op := queue.NewOperation(path, kind, content, oldPath)
	r.ops = append(r.ops, op)
	return op, nil
}

func (r *recordingQueue) find(path string) *queue.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.ops) - 1; i >= 0; i-- {
		if r.ops[i].Path == path {
			return r.ops[i]
		}
	}
	return nil
}

func (r *recordingQueue) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

func startWatcher(t *testing.T) (*Service, *recordingQueue, string) {
	t.Helper()
	root := t.TempDir()
	q := &recordingQueue{}

	svc := NewService(config.VaultConfig{Root: root}, q, 30*time.Millisecond, loggy.NewNoopLogger())
	require.NoError(t, svc.Start())
	t.Cleanup(func() { _ = svc.Stop() })
	return svc, q, root
}

func TestWatcherEnqueuesCreate(t *testing.T) {
	_, q, root := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("hello"), 0644))

	assert.Eventually(t, func() bool {
		op := q.find("note.md")
		return op != nil && op.Kind == queue.OpCreate
	}, 3*time.Second, 20*time.Millisecond)

	op := q.find("note.md")
	assert.Equal(t, []byte("hello"), op.Content)
}

func TestWatcherEnqueuesDelete(t *testing.T) {
	_, q, root := startWatcher(t)

	path := filepath.Join(root, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.Eventually(t, func() bool { return q.find("gone.md") != nil },
		3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		op := q.find("gone.md")
		return op != nil && op.Kind == queue.OpDelete
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	_, q, root := startWatcher(t)

	path := filepath.Join(root, "burst.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0644))
		time.Sleep(2 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return q.find("burst.md") != nil },
		3*time.Second, 20*time.Millisecond)

	// Let any stragglers land, then confirm the burst collapsed.
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, q.count(), 2, "a save burst must not enqueue per write")

	op := q.find("burst.md")
	assert.Equal(t, []byte{'e'}, op.Content, "the settled content is the latest write")
}

func TestWatcherIgnoresHiddenAndTempFiles(t *testing.T) {
	_, q, root := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "draft.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "save.swp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "backup~"), []byte("x"), 0644))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, q.count())
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	_, q, root := startWatcher(t)

	sub := filepath.Join(root, "notes")
	require.NoError(t, os.Mkdir(sub, 0755))

	// Give the watcher a beat to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.md"), []byte("nested"), 0644))

	assert.Eventually(t, func() bool {
		return q.find("notes/deep.md") != nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestIsIgnored(t *testing.T) {
	assert.True(t, isIgnored(".obsidian"))
	assert.True(t, isIgnored("note.tmp"))
	assert.True(t, isIgnored("note.md~"))
	assert.False(t, isIgnored("note.md"))
}
