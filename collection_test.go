package lexgo

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/document"
)

func openTest(t *testing.T, root string, opts ...Option) *Collection {
	t.Helper()
	opts = append([]Option{WithRefreshInterval(-1), WithIdleInterval(-1)}, opts...)
	c, err := Open(context.Background(), root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func product(id, title, color string, price int64) *document.Document {
	return document.New(id).
		Add(document.TextField("title", title)).
		Add(document.StringField("color", color)).
		Add(document.NumericField("price", 4, price)).
		WithPayload([]byte(`{"id":"` + id + `"}`)).
		WithSnippet(title)
}

func rowIDs(resp *Response) []string {
	out := make([]string, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		out = append(out, r.ID)
	}
	return out
}

func matchSet(t *testing.T, c *Collection, q string) []string {
	t.Helper()
	resp, err := c.Query(q).Sort("none").Limit(100).Execute(context.Background())
	require.NoError(t, err, q)
	ids := rowIDs(resp)
	slices.Sort(ids)
	return ids
}

func TestRedAndBlueShoes(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	require.NoError(t, c.Add(ctx,
		product("1", "red shoes", "red", 4999),
		product("2", "blue shoes", "blue", 5999),
		product("3", "red hat", "red", 1999),
	))

	resp, err := c.Query("title:shoes").Execute(ctx)
	require.NoError(t, err)
	assert.Zero(t, resp.Total, "buffered documents are not searchable")

	require.NoError(t, c.Commit(ctx))

	resp, err = c.Query("title:red title:shoes").Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, []string{"1"}, rowIDs(resp))
	assert.Equal(t, []byte(`{"id":"1"}`), resp.Rows[0].Payload)
	assert.Equal(t, "red shoes", resp.Rows[0].Snippet)

	resp, err = c.Query("title:shoes").Sort("price:desc").Fields("price").Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, rowIDs(resp))
	assert.Equal(t, int64(5999), resp.Rows[0].Values["price"])

	assert.Equal(t, []string{"1", "3"}, matchSet(t, c, "title:red"))
	assert.Equal(t, []string{"2"}, matchSet(t, c, "title:shoes -title:red"))
	assert.Equal(t, []string{"1", "3"}, matchSet(t, c, "color:red"))
	assert.Equal(t, []string{"1", "2"}, matchSet(t, c, "price:>=4000"))

	row, err := c.Query("title:blue").First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", row.ID)

	_, err = c.Query("title:green").First(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := c.Query("title:red").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestMergeBoundsSegments(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir(), WithMergePolicy(10, 1))

	for flush := range 11 {
		for i := range 15 {
			if flush*15+i >= 150 {
				break
			}
			id := fmt.Sprintf("%d", flush*15+i)
			require.NoError(t, c.Add(ctx, product(id, "shoes number "+id, "red", int64(i))))
		}
		require.NoError(t, c.Commit(ctx))

		st, err := c.Stats()
		require.NoError(t, err)
		assert.LessOrEqual(t, st.Segments, 10)
	}

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(150), st.Docs)

	n, err := c.Query("title:shoes").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), n)

	require.NoError(t, c.Optimize(ctx))
	st, err = c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, uint64(150), st.Docs)
}

func TestDeleteByQueryThenZeroHits(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	require.NoError(t, c.Add(ctx,
		product("1", "red shoes", "red", 1),
		product("2", "red hat", "red", 2),
		product("3", "blue shoes", "blue", 3),
	))
	require.NoError(t, c.Commit(ctx))

	n, err := c.DeleteByQuery(ctx, "title:red", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resp, err := c.Query("title:red").Execute(ctx)
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
	assert.Empty(t, resp.Rows)
	assert.Equal(t, []string{"3"}, matchSet(t, c, "title:shoes"))

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Docs)
	assert.Equal(t, uint64(2), st.Deleted)

	count, err := c.Query("title:red").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteByQueryOnStringField(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	require.NoError(t, c.Add(ctx,
		product("1", "red shoes", "red", 1),
		product("2", "red hat", "red", 2),
		product("3", "blue shoes", "blue", 3),
	))
	require.NoError(t, c.Commit(ctx))

	n, err := c.DeleteByQuery(ctx, "color:red", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resp, err := c.Query("color:red").Sort("none").Execute(ctx)
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
	assert.False(t, resp.Estimated)
	assert.Empty(t, resp.Rows)

	count, err := c.Query("color:red").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = c.Query("color:blue").Sort("price:desc").EstimateTotal().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestFieldWeightChangesRanking(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	require.NoError(t, c.Add(ctx,
		document.New("t").Add(document.TextField("title", "red")).Add(document.TextField("body", "plain")),
		document.New("b").Add(document.TextField("title", "plain")).Add(document.TextField("body", "red")),
	))
	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.SetFieldWeight(ctx, "title", 5))
	require.NoError(t, c.Commit(ctx))

	const q = "title:red OR body:red"
	resp, err := c.Query(q).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "b"}, rowIDs(resp))

	// The cached ranking is dropped with the commit carrying the new weight.
	require.NoError(t, c.SetFieldWeight(ctx, "body", 10))
	require.NoError(t, c.Commit(ctx))
	resp, err = c.Query(q).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "t"}, rowIDs(resp))

	assert.Error(t, c.SetFieldWeight(ctx, "missing", 2))
}

func TestDeleteByID(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	require.NoError(t, c.Add(ctx, product("1", "red shoes", "red", 1), product("2", "red hat", "red", 2)))
	require.NoError(t, c.Commit(ctx))

	n, err := c.Delete(ctx, "1", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"1", "2"}, matchSet(t, c, "title:red"), "deletes apply on commit")

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, []string{"2"}, matchSet(t, c, "title:red"))
}

func TestGeoRadius(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	require.NoError(t, c.Add(ctx,
		document.New("near").Add(document.CoordField("loc", 6, 40.01, -74.0)),
		document.New("far").Add(document.CoordField("loc", 6, 40.45, -74.0)),
	))
	require.NoError(t, c.Commit(ctx))

	resp, err := c.Query("loc:40.0/-74.0~5").Fields("loc").Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"near"}, rowIDs(resp))
	p, ok := resp.Rows[0].Values["loc"].(Point)
	require.True(t, ok)
	assert.InDelta(t, 40.01, p.Lat, 1e-6)
}

func TestSnapshotIsolationAcrossCollections(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	w := openTest(t, root)
	require.NoError(t, w.Add(ctx, product("1", "red shoes", "red", 1)))
	require.NoError(t, w.Commit(ctx))

	r := openTest(t, root, ReadOnly())
	assert.Equal(t, []string{"1"}, matchSet(t, r, "title:red"))

	require.NoError(t, w.Add(ctx, product("2", "red hat", "red", 2)))
	require.NoError(t, w.Commit(ctx))
	assert.Equal(t, []string{"1"}, matchSet(t, r, "title:red"), "invisible until refresh")

	require.NoError(t, r.Refresh(ctx))
	assert.Equal(t, []string{"1", "2"}, matchSet(t, r, "title:red"))
}

func TestBooleanLaws(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	titles := []string{"red shoes", "blue shoes", "red hat", "green hat", "blue red scarf", "shoes hat"}
	for i, title := range titles {
		require.NoError(t, c.Add(ctx, product(fmt.Sprint(i), title, "x", int64(i))))
	}
	require.NoError(t, c.Commit(ctx))

	laws := []struct {
		name string
		a, b string
	}{
		{"and commutes", "title:red title:shoes", "title:shoes title:red"},
		{"or commutes", "title:red OR title:hat", "title:hat OR title:red"},
		{"and distributes", "title:red (title:shoes OR title:scarf)", "(title:red title:shoes) OR (title:red title:scarf)"},
		{"de morgan", "title:shoes -(title:red OR title:blue)", "title:shoes -title:red -title:blue"},
		{"idempotent", "title:red title:red", "title:red"},
		{"and not excludes", "(title:hat -title:red) title:red", "title:nosuchterm"},
	}
	for _, law := range laws {
		t.Run(law.name, func(t *testing.T) {
			assert.Equal(t, matchSet(t, c, law.a), matchSet(t, c, law.b))
		})
	}
}

func TestReAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())

	require.NoError(t, c.Add(ctx, product("1", "red shoes", "red", 1)))
	require.NoError(t, c.Commit(ctx))
	require.NoError(t, c.Add(ctx, product("1", "blue shoes", "blue", 1)))
	require.NoError(t, c.Add(ctx, product("1", "blue shoes", "blue", 1)))
	require.NoError(t, c.Commit(ctx))

	assert.Empty(t, matchSet(t, c, "title:red"))
	assert.Equal(t, []string{"1"}, matchSet(t, c, "title:blue"))

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Docs)
}

func TestStatsReportMemory(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir(), WithResourceLimits(4<<20, 1, 0))
	require.NoError(t, c.Add(ctx, product("1", "red shoes", "red", 1)))
	require.NoError(t, c.Commit(ctx))

	_, err := c.Search(ctx, Request{Query: "title:red", Limit: 10})
	require.NoError(t, err)

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(4<<20), st.MemoryLimit)
	assert.Positive(t, st.MemoryUsed, "cached result is reserved")
	assert.LessOrEqual(t, st.MemoryUsed, st.MemoryLimit)
	assert.Positive(t, st.Bytes)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	w := openTest(t, root)
	require.NoError(t, w.Add(ctx, product("1", "red shoes", "red", 1)))
	require.NoError(t, w.Commit(ctx))

	r := openTest(t, root, ReadOnly())
	assert.True(t, r.ReadOnly())
	assert.ErrorIs(t, r.Add(ctx, product("2", "x", "x", 1)), ErrReadOnly)
	assert.ErrorIs(t, r.Commit(ctx), ErrReadOnly)
	_, err := r.Delete(ctx, "1")
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = r.DeleteByQuery(ctx, "title:red", "")
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, r.Optimize(ctx), ErrReadOnly)
	assert.ErrorIs(t, r.Truncate(ctx), ErrReadOnly)
	_, err = r.Restore(ctx, blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, ErrReadOnly)

	assert.Equal(t, []string{"1"}, matchSet(t, r, "title:red"))
}

func TestSecondWriterIsBusy(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	w := openTest(t, root)
	require.NoError(t, w.Add(ctx, product("1", "red shoes", "red", 1)))

	other := openTest(t, root)
	assert.ErrorIs(t, other.Add(ctx, product("2", "red hat", "red", 2)), ErrBusy)
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir())
	require.NoError(t, c.Add(ctx, product("1", "red shoes", "red", 1)))
	require.NoError(t, c.Commit(ctx))

	require.NoError(t, c.Truncate(ctx))
	assert.Empty(t, matchSet(t, c, "title:red"))

	st, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Docs)
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir(), WithMaxWindow(50))
	require.NoError(t, c.Add(ctx, product("1", "red shoes", "red", 1)))
	require.NoError(t, c.Commit(ctx))

	tests := []struct {
		name   string
		b      *SearchBuilder
		status int
	}{
		{"malformed", c.Query("(title:red"), StatusMalformed},
		{"bad sort", c.Query("title:red").Sort("nope"), StatusBadSort},
		{"window", c.Query("title:red").Offset(45).Limit(10), StatusWindowExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.b.Execute(ctx)
			var qe *QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.status, qe.Status)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.Status)
		})
	}

	resp, err := c.Query("title:red").Offset(45).Limit(10).LimitWindow(100).Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, resp.Rows)
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	c := openTest(t, t.TempDir(), WithMaxWindow(10))
	for i := range 25 {
		require.NoError(t, c.Add(ctx, product(fmt.Sprint(i), "red shoes", "red", int64(i))))
	}
	require.NoError(t, c.Commit(ctx))

	var got []string
	for row, err := range c.Query("title:red").Sort("price").Limit(7).Stream(ctx) {
		require.NoError(t, err)
		got = append(got, row.ID)
	}
	require.Len(t, got, 25)
	assert.Equal(t, "0", got[0])
	assert.Equal(t, "24", got[24])

	got = got[:0]
	for row, err := range c.Query("title:red").Sort("price").Limit(7).Stream(ctx) {
		require.NoError(t, err)
		got = append(got, row.ID)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"0", "1", "2"}, got)
}

func TestExportRestore(t *testing.T) {
	ctx := context.Background()
	src := openTest(t, t.TempDir())
	require.NoError(t, src.Add(ctx,
		product("1", "red shoes", "red", 1),
		product("2", "blue shoes", "blue", 2),
	))
	require.NoError(t, src.Commit(ctx))
	require.NoError(t, src.Add(ctx, product("3", "red hat", "red", 3)))

	store := blobstore.NewMemoryStore()
	info, err := src.Export(ctx, store)
	require.NoError(t, err)
	assert.Positive(t, info.Files)

	dst := openTest(t, t.TempDir(), WithTransferParallelism(2))
	require.NoError(t, dst.Add(ctx, product("9", "green scarf", "green", 9)))

	rinfo, err := dst.Restore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, info.Files, rinfo.Files)

	assert.Equal(t, []string{"1", "2"}, matchSet(t, dst, "title:shoes"))
	assert.Empty(t, matchSet(t, dst, "title:hat"), "buffered documents are not exported")
	assert.Empty(t, matchSet(t, dst, "title:scarf"))

	// The restored collection accepts writes again.
	require.NoError(t, dst.Add(ctx, product("4", "blue hat", "blue", 4)))
	require.NoError(t, dst.Commit(ctx))
	assert.Equal(t, []string{"4"}, matchSet(t, dst, "title:hat"))
}

func TestRestoreWithoutExport(t *testing.T) {
	c := openTest(t, t.TempDir())
	_, err := c.Restore(context.Background(), blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetricsCollectorIsWired(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetricsCollector{}
	c := openTest(t, t.TempDir(), WithMetricsCollector(m))

	require.NoError(t, c.Add(ctx, product("1", "red shoes", "red", 1), product("2", "red hat", "red", 2)))
	require.NoError(t, c.Commit(ctx))
	for range 2 {
		_, err := c.Query("title:red").Execute(ctx)
		require.NoError(t, err)
	}
	_, err := c.DeleteByQuery(ctx, "title:hat", "")
	require.NoError(t, err)

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats.AddCount)
	assert.GreaterOrEqual(t, stats.CommitCount, int64(1))
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(1), stats.SearchCached)
	assert.Equal(t, int64(1), stats.DeletedDocs)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c, err := Open(ctx, root, WithRefreshInterval(-1))
	require.NoError(t, err)
	require.NoError(t, c.Add(ctx, product("1", "red shoes", "red", 1)))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Add(ctx, product("2", "x", "x", 1)), ErrClosed)
	_, err = c.Search(ctx, Request{Query: "title:red"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Stats()
	assert.ErrorIs(t, err, ErrClosed)

	// Close committed the buffer and released the index lock.
	reopened := openTest(t, root)
	assert.Equal(t, []string{"1"}, matchSet(t, reopened, "title:red"))
	require.NoError(t, reopened.Add(ctx, product("2", "red hat", "red", 2)))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), WithConfig(Config{Compression: "brotli"}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
