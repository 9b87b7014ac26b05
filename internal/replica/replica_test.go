package replica

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/document"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/index"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/search"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/internal/storage"
)

func openStorage(t *testing.T, dirs ...string) *storage.Storage {
	t.Helper()
	if len(dirs) == 0 {
		dirs = []string{t.TempDir()}
	}
	st, err := storage.Open(nil, dirs, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func item(id, title string) *document.Document {
	return document.New(id).Add(document.TextField("title", title))
}

// populate commits two segments and deletes one document of the first.
func populate(t *testing.T, st *storage.Storage) {
	t.Helper()
	ctx := context.Background()
	ix := index.New(engine.Background(), st, index.Options{})
	for _, d := range []*document.Document{item("1", "red shoes"), item("2", "red hat")} {
		require.NoError(t, ix.Add(ctx, d))
	}
	_, err := ix.Commit(ctx)
	require.NoError(t, err)
	for _, d := range []*document.Document{item("3", "blue shoes"), item("4", "red boots")} {
		require.NoError(t, ix.Add(ctx, d))
	}
	_, err = ix.Commit(ctx)
	require.NoError(t, err)
	_, err = ix.DeleteByID(ctx, "2")
	require.NoError(t, err)
	_, err = ix.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, ix.Close(ctx))
}

func searchIDs(t *testing.T, st *storage.Storage, q string) []string {
	t.Helper()
	s, err := search.Open(context.Background(), engine.Background(), st, search.Options{RefreshInterval: -1, IdleInterval: -1})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	resp, err := s.Search(context.Background(), search.Request{Query: q, Sort: "none"})
	require.NoError(t, err)
	var ids []string
	for _, r := range resp.Rows {
		ids = append(ids, r.ID)
	}
	slices.Sort(ids)
	return ids
}

func TestExportRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStorage(t)
	populate(t, src)
	want := searchIDs(t, src, "title:red")
	require.Equal(t, []string{"1", "4"}, want)

	store := blobstore.NewMemoryStore()
	info, err := Export(ctx, src, store, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, info.Segments)
	// Two segments with three files each plus one deletion file.
	assert.Equal(t, 7, info.Files)
	assert.Positive(t, info.Bytes)
	assert.False(t, src.Locks().Held(lock.Duplicate))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "MANIFEST")
	assert.Contains(t, names, indexName(info.Version))

	dst := openStorage(t, t.TempDir(), t.TempDir())
	rinfo, err := Restore(ctx, dst, store, Options{Parallelism: 2})
	require.NoError(t, err)
	assert.Equal(t, 7, rinfo.Files)
	assert.Zero(t, rinfo.Reused)
	assert.False(t, dst.Locks().Held(lock.Replicate))
	assert.False(t, dst.Locks().Held(lock.Index))

	assert.Equal(t, want, searchIDs(t, dst, "title:red"))
	assert.Equal(t, []string{"1", "3"}, searchIDs(t, dst, "title:shoes"))
}

func TestRestoreReusesLocalSegments(t *testing.T) {
	ctx := context.Background()
	src := openStorage(t)
	populate(t, src)
	store := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, store, Options{})
	require.NoError(t, err)

	dst := openStorage(t)
	first, err := Restore(ctx, dst, store, Options{})
	require.NoError(t, err)

	second, err := Restore(ctx, dst, store, Options{})
	require.NoError(t, err)
	assert.Equal(t, 6, second.Reused)
	// Only the deletion file is transferred again.
	assert.Equal(t, 1, second.Files)
	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, []string{"1", "4"}, searchIDs(t, dst, "title:red"))
}

func TestExportPrunesStaleBlobs(t *testing.T) {
	ctx := context.Background()
	src := openStorage(t)
	populate(t, src)
	store := blobstore.NewMemoryStore()
	first, err := Export(ctx, src, store, Options{})
	require.NoError(t, err)

	ix := index.New(engine.Background(), src, index.Options{})
	_, err = ix.Optimize(ctx)
	require.NoError(t, err)
	require.NoError(t, ix.Close(ctx))

	second, err := Export(ctx, src, store, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Segments)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.NotContains(t, names, indexName(first.Version))
	segs, err := store.List(ctx, segmentPrefix)
	require.NoError(t, err)
	assert.Len(t, segs, second.Files)
}

func TestRestoreDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	src := openStorage(t)
	populate(t, src)
	store := blobstore.NewMemoryStore()
	info, err := Export(ctx, src, store, Options{})
	require.NoError(t, err)

	data, err := blobstore.Get(ctx, store, indexName(info.Version))
	require.NoError(t, err)
	var idx Index
	require.NoError(t, yaml.Unmarshal(data, &idx))
	target := idx.Files[0].Name
	blob, err := blobstore.Get(ctx, store, target)
	require.NoError(t, err)
	blob[len(blob)/2] ^= 0xff
	require.NoError(t, store.Put(ctx, target, blob))

	dst := openStorage(t)
	_, err = Restore(ctx, dst, store, Options{})
	require.ErrorIs(t, err, ErrChecksum)

	// Nothing was installed.
	_, err = dst.Manifests().Load()
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestRestoreWithoutExport(t *testing.T) {
	_, err := Restore(context.Background(), openStorage(t), blobstore.NewMemoryStore(), Options{})
	assert.ErrorIs(t, err, ErrNoExport)
}

func TestRestoreRefusesWhileWriting(t *testing.T) {
	ctx := context.Background()
	src := openStorage(t)
	populate(t, src)
	store := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, store, Options{})
	require.NoError(t, err)

	dst := openStorage(t)
	ix := index.New(engine.Background(), dst, index.Options{})
	require.NoError(t, ix.Add(ctx, item("9", "green")))
	t.Cleanup(func() { _ = ix.Close(ctx) })

	_, err = Restore(ctx, dst, store, Options{})
	assert.ErrorIs(t, err, lock.ErrBusy)
}

func TestExportToLocalStore(t *testing.T) {
	ctx := context.Background()
	src := openStorage(t)
	populate(t, src)
	dir := t.TempDir()
	info, err := Export(ctx, src, blobstore.NewLocalStore(dir), Options{})
	require.NoError(t, err)

	_, err = os.Stat(dir + "/" + segmentBlob(1, segment.ExtIndex))
	require.NoError(t, err)

	dst := openStorage(t)
	rinfo, err := Restore(ctx, dst, blobstore.NewLocalStore(dir), Options{})
	require.NoError(t, err)
	assert.Equal(t, info.Files, rinfo.Files)
	assert.Equal(t, []string{"3"}, searchIDs(t, dst, "title:blue"))
}

func TestRestoreRenumbersCollidingSegments(t *testing.T) {
	ctx := context.Background()
	src := openStorage(t)
	populate(t, src)
	store := blobstore.NewMemoryStore()
	_, err := Export(ctx, src, store, Options{})
	require.NoError(t, err)

	dst := openStorage(t)
	ix := index.New(engine.Background(), dst, index.Options{})
	require.NoError(t, ix.Add(ctx, item("9", "green scarf")))
	_, err = ix.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, ix.Close(ctx))

	s, err := search.Open(ctx, engine.Background(), dst, search.Options{RefreshInterval: -1, IdleInterval: -1})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = Restore(ctx, dst, store, Options{})
	require.NoError(t, err)

	m, err := dst.LoadManifest()
	require.NoError(t, err)
	assert.NotContains(t, m.SegmentIDs(), uint64(1))

	require.NoError(t, s.Refresh(ctx))
	resp, err := s.Search(ctx, search.Request{Query: "title:red", Sort: "none"})
	require.NoError(t, err)
	var ids []string
	for _, r := range resp.Rows {
		ids = append(ids, r.ID)
	}
	slices.Sort(ids)
	assert.Equal(t, []string{"1", "4"}, ids)
	assert.Empty(t, searchIDs(t, dst, "title:scarf"))
}
