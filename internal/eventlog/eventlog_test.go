package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/store"
)

func newTestLog(t *testing.T) (*Log, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, nil), s
}

func TestLog_RecordAndForLoop(t *testing.T) {
	l, _ := newTestLog(t)
	require.NoError(t, l.LoopIteration("001", 1, false))
	require.NoError(t, l.LoopIteration("001", 2, true))

	events, err := l.ForLoop("001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventLoopIteration, events[0].Type)
}

func TestLog_MergeCompletedWritesEventAndMergeRecord(t *testing.T) {
	l, s := newTestLog(t)
	require.NoError(t, l.MergeCompleted(models.MergeRecord{
		ID: "m1", LoopID: "001", PreMergeHead: "aaa", PostMergeHead: "bbb", FilesChanged: 3,
	}))

	merges, err := s.Merges().ForLoop("001")
	require.NoError(t, err)
	require.Len(t, merges, 1)
	assert.Equal(t, 3, merges[0].FilesChanged)

	events, err := l.ForLoop("001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMergeCompleted, events[0].Type)
}

func TestLog_TailOrdersOldestFirst(t *testing.T) {
	l, _ := newTestLog(t)
	require.NoError(t, l.LoopIteration("001", 1, false))
	require.NoError(t, l.LoopIteration("002", 1, false))
	require.NoError(t, l.LoopIteration("003", 1, true))

	tail, err := l.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "002", tail[0].LoopID)
	assert.Equal(t, "003", tail[1].LoopID)
}
