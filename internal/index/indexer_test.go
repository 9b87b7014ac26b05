package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/fs"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/merge"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/internal/storage"
)

func openStorage(t *testing.T, fsys fs.FileSystem, dir string) *storage.Storage {
	t.Helper()
	st, err := storage.Open(fsys, []string{dir}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newIndexer(t *testing.T, opts Options) (*Indexer, *storage.Storage) {
	t.Helper()
	st := openStorage(t, nil, t.TempDir())
	ix := New(engine.Background(), st, opts)
	t.Cleanup(func() { _ = ix.Close(context.Background()) })
	return ix, st
}

func shoe(id, text string, size int64) *document.Document {
	return document.New(id).
		Add(document.TextField("body", text)).
		Add(document.NumericField("size", 2, size)).
		WithPayload([]byte("payload-" + id))
}

// liveIDs returns the ids of every live document in manifest order.
func liveIDs(t *testing.T, st *storage.Storage, m *manifest.Manifest) []string {
	t.Helper()
	var ids []string
	for _, info := range m.Segments {
		r, err := st.OpenSegment(info, nil)
		require.NoError(t, err)
		for doc := uint32(0); doc < r.DocCount(); doc++ {
			if r.IsDeleted(doc) {
				continue
			}
			row, err := r.Document(doc, nil)
			require.NoError(t, err)
			ids = append(ids, row.ID)
		}
		require.NoError(t, r.Close())
	}
	return ids
}

func TestAddCommit(t *testing.T) {
	ctx := context.Background()
	ix, st := newIndexer(t, Options{})

	require.NoError(t, ix.Add(ctx, shoe("1", "red shoes", 42)))
	require.NoError(t, ix.Add(ctx, shoe("2", "blue shoes", 44)))
	assert.Equal(t, 2, ix.Buffered())

	m, err := ix.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, uint64(2), m.TotalDocs)
	assert.Equal(t, DefaultPrimaryKey, m.PrimaryKey)
	assert.Zero(t, ix.Buffered())

	body, ok := m.Field("body")
	require.True(t, ok)
	assert.Equal(t, document.KindText, body.Type.Kind)
	size, ok := m.Field("size")
	require.True(t, ok)

	r, err := st.OpenSegment(m.Segments[0], nil)
	require.NoError(t, err)
	defer r.Close()

	ti, ok := r.Lookup(body.Ordinal, "shoe")
	require.True(t, ok)
	assert.Equal(t, uint32(2), ti.DocFreq)
	_, ok = r.Lookup(body.Ordinal, "red")
	assert.True(t, ok)

	col, ok := r.Column(segment.ColumnKey{Ord: size.Ordinal})
	require.True(t, ok)
	assert.Equal(t, uint8(2), col.Width)
	assert.Equal(t, int64(44), col.Int(1))
	assert.Equal(t, uint32(2), r.Norm(body.Ordinal, 0))

	row, err := r.Document(1, nil)
	require.NoError(t, err)
	assert.Equal(t, "2", row.ID)
	assert.Equal(t, []byte("payload-2"), row.Payload)
}

func TestReAddReplacesDocument(t *testing.T) {
	ctx := context.Background()
	ix, st := newIndexer(t, Options{})

	require.NoError(t, ix.Add(ctx, shoe("1", "red shoes", 42)))
	require.NoError(t, ix.Add(ctx, shoe("2", "blue shoes", 42)))
	_, err := ix.Commit(ctx)
	require.NoError(t, err)

	// Once against the committed copy, once within the buffer.
	require.NoError(t, ix.Add(ctx, shoe("1", "green shoes", 42)))
	require.NoError(t, ix.Add(ctx, shoe("1", "yellow shoes", 42)))
	m, err := ix.Commit(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"2", "1"}, liveIDs(t, st, m))

	// Re-adding the same document again is idempotent.
	require.NoError(t, ix.Add(ctx, shoe("1", "yellow shoes", 42)))
	m, err = ix.Commit(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2", "1"}, liveIDs(t, st, m))
}

func TestDeleteByID(t *testing.T) {
	ctx := context.Background()
	ix, st := newIndexer(t, Options{})

	require.NoError(t, ix.Add(ctx, shoe("1", "red", 1)))
	require.NoError(t, ix.Add(ctx, shoe("2", "blue", 2)))
	_, err := ix.Commit(ctx)
	require.NoError(t, err)

	n, err := ix.DeleteByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = ix.DeleteByID(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	m, err := ix.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, liveIDs(t, st, m))
}

func TestFieldErrorsSkipOnlyTheField(t *testing.T) {
	ctx := context.Background()
	ix, st := newIndexer(t, Options{})

	doc := document.New("1").
		Add(document.TextField("body", "red shoes")).
		Add(document.NumericField("tiny", 1, 1000)).
		Add(document.Field{Name: "loc", Type: document.Coord(4), Value: "nowhere"})
	require.NoError(t, ix.Add(ctx, doc))

	// Redeclaring body with another type is a field error as well.
	doc2 := document.New("2").
		Add(document.NumericField("body", 4, 1)).
		Add(document.StringField("tag", "x"))
	require.NoError(t, ix.Add(ctx, doc2))

	m, err := ix.Commit(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, liveIDs(t, st, m))

	body, _ := m.Field("body")
	assert.Equal(t, document.KindText, body.Type.Kind)
	_, ok := m.Field("tag")
	assert.True(t, ok)
}

func TestIndexLockBusy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := New(engine.Background(), openStorage(t, nil, dir), Options{})
	require.NoError(t, first.Add(ctx, shoe("1", "red", 1)))

	second := New(engine.Background(), openStorage(t, nil, dir), Options{})
	err := second.Add(ctx, shoe("2", "blue", 2))
	assert.ErrorIs(t, err, lock.ErrBusy)

	require.NoError(t, first.Close(ctx))
	require.NoError(t, second.Add(ctx, shoe("2", "blue", 2)))
	require.NoError(t, second.Close(ctx))

	assert.ErrorIs(t, first.Add(ctx, shoe("3", "x", 1)), engine.ErrClosed)
}

func TestDuplicateLockRefusesWrites(t *testing.T) {
	ix, st := newIndexer(t, Options{})
	require.NoError(t, st.Locks().TryAcquire(lock.Duplicate))

	err := ix.Add(context.Background(), shoe("1", "red", 1))
	assert.ErrorIs(t, err, lock.ErrBusy)

	require.NoError(t, st.Locks().Release(lock.Duplicate))
	assert.NoError(t, ix.Add(context.Background(), shoe("1", "red", 1)))
}

func TestCommitFailureKeepsLastGoodManifest(t *testing.T) {
	ctx := context.Background()
	faulty := fs.NewFaultyFS(nil)
	st := openStorage(t, faulty, t.TempDir())
	ix := New(engine.Background(), st, Options{})
	defer ix.Close(ctx)

	require.NoError(t, ix.Add(ctx, shoe("1", "red", 1)))
	good, err := ix.Commit(ctx)
	require.NoError(t, err)

	require.NoError(t, ix.Add(ctx, shoe("2", "blue", 2)))
	faulty.AddRule("MANIFEST", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	_, err = ix.Commit(ctx)
	require.Error(t, err)
	assert.Same(t, good, ix.Manifest())
	assert.Equal(t, 1, ix.Buffered())

	loaded, err := st.Manifests().Load()
	require.NoError(t, err)
	assert.Equal(t, good.Version, loaded.Version)

	faulty.ClearRules()
	m, err := ix.Commit(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, liveIDs(t, st, m))
}

func TestDeletionsReachDiskBeforeManifest(t *testing.T) {
	ctx := context.Background()
	faulty := fs.NewFaultyFS(nil)
	st := openStorage(t, faulty, t.TempDir())
	ix := New(engine.Background(), st, Options{})
	defer ix.Close(ctx)

	require.NoError(t, ix.Add(ctx, shoe("1", "red", 1)))
	require.NoError(t, ix.Add(ctx, shoe("2", "blue", 2)))
	good, err := ix.Commit(ctx)
	require.NoError(t, err)

	// The replacement of 1 is never published.
	require.NoError(t, ix.Add(ctx, shoe("1", "green", 3)))
	faulty.AddRule("MANIFEST", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	_, err = ix.Commit(ctx)
	require.Error(t, err)

	// A process opening the last good manifest never sees two copies of 1.
	assert.Equal(t, []string{"2"}, liveIDs(t, st, good))

	faulty.ClearRules()
	m, err := ix.Commit(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2", "1"}, liveIDs(t, st, m))
}

func TestAutoMergeBoundsSegments(t *testing.T) {
	ctx := context.Background()
	ix, st := newIndexer(t, Options{
		AutoMerge: true,
		Policy:    &merge.TieredPolicy{MergeFactor: 10, MaxSegmentBytes: 1},
	})

	var m *manifest.Manifest
	for flush := 0; flush < 11; flush++ {
		for i := 0; i < 15; i++ {
			id := fmt.Sprintf("%d-%d", flush, i)
			require.NoError(t, ix.Add(ctx, shoe(id, "shoes number "+id, int64(i))))
		}
		var err error
		m, err = ix.Commit(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(m.Segments), 10)
	}
	assert.Len(t, liveIDs(t, st, m), 165)
	assert.Equal(t, uint64(165), m.TotalDocs)
}

func TestAutoMergeSkipsWhileSlotsBusy(t *testing.T) {
	ctx := context.Background()
	ectx := engine.Background()
	st := openStorage(t, nil, t.TempDir())
	ix := New(ectx, st, Options{
		AutoMerge: true,
		Policy:    &merge.TieredPolicy{MergeFactor: 10, MaxSegmentBytes: 1 << 30},
	})
	defer ix.Close(ctx)

	require.NoError(t, ectx.Resources.AcquireBackground(ctx))
	for i := 0; i < 2; i++ {
		require.NoError(t, ix.Add(ctx, shoe(fmt.Sprint(i), "shoes", 1)))
		m, err := ix.Commit(ctx)
		require.NoError(t, err)
		assert.Len(t, m.Segments, i+1)
	}

	ectx.Resources.ReleaseBackground()
	require.NoError(t, ix.Add(ctx, shoe("2", "shoes", 1)))
	m, err := ix.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, m.Segments, 1)
	assert.Len(t, liveIDs(t, st, m), 3)
}

func TestOptimizeAndTruncate(t *testing.T) {
	ctx := context.Background()
	ix, st := newIndexer(t, Options{})

	for i := 0; i < 3; i++ {
		require.NoError(t, ix.Add(ctx, shoe(fmt.Sprint(i), "red shoes", int64(i))))
		_, err := ix.Commit(ctx)
		require.NoError(t, err)
	}
	_, err := ix.DeleteByID(ctx, "1")
	require.NoError(t, err)

	m, err := ix.Optimize(ctx)
	require.NoError(t, err)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, uint32(2), m.Segments[0].DocCount)
	assert.Equal(t, []string{"0", "2"}, liveIDs(t, st, m))

	require.NoError(t, ix.Add(ctx, shoe("9", "buffered", 9)))
	m, err = ix.Truncate(ctx)
	require.NoError(t, err)
	require.Len(t, m.Segments, 1)
	assert.Zero(t, m.TotalDocs)
	assert.Zero(t, ix.Buffered())
	_, ok := m.Field("body")
	assert.True(t, ok)
	assert.Empty(t, liveIDs(t, st, m))
}

func TestIsMemoryOver(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndexer(t, Options{FlushBytes: 512})
	assert.False(t, ix.IsMemoryOver())

	for i := 0; !ix.IsMemoryOver(); i++ {
		require.Less(t, i, 100)
		require.NoError(t, ix.Add(ctx, shoe(fmt.Sprint(i), "a rather long body of text for the buffer", 1)))
	}
	_, err := ix.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, ix.IsMemoryOver())
}

func TestSetFieldWeight(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndexer(t, Options{})
	require.NoError(t, ix.Add(ctx, shoe("1", "red", 1)))

	require.NoError(t, ix.SetFieldWeight(ctx, "body", 2.5))
	assert.ErrorIs(t, ix.SetFieldWeight(ctx, "nope", 1), ErrUnknownField)

	m, err := ix.Commit(ctx)
	require.NoError(t, err)
	body, _ := m.Field("body")
	assert.InDelta(t, 2.5, body.Weight, 1e-6)
}
