package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_ExcludesSecondTry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.lock")
	a := New(path)
	require.NoError(t, a.Lock())
	defer a.Unlock()

	b := New(path)
	acquired, err := b.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestAtomicWrite_NeverLeavesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.meta")
	require.NoError(t, AtomicWrite(path, []byte("v1")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	require.NoError(t, AtomicWrite(path, []byte("v2")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestAppendLine_AccumulatesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loops.log")
	require.NoError(t, AppendLine(path, []byte(`{"id":"1"}`)))
	require.NoError(t, AppendLine(path, []byte(`{"id":"2"}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"1\"}\n{\"id\":\"2\"}\n", string(data))
}

func TestLockAndWrite_WritesWholeContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, LockAndWrite(path, []byte("{}")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
