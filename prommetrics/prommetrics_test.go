package prommetrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/engine"
)

var _ engine.MetricsObserver = (*Observer)(nil)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg, "shop")

	o.OnAdd(3, nil)
	o.OnAdd(3, nil)
	o.OnAdd(0, errors.New("bad doc"))
	o.OnCommit(10*time.Millisecond, 2, nil)
	o.OnMerge(time.Millisecond, 3, 40, nil)
	o.OnSearch(time.Millisecond, 7, false, nil)
	o.OnSearch(time.Millisecond, 7, true, nil)
	o.OnSearch(time.Millisecond, 0, false, errors.New("bad query"))
	o.OnDelete(4, nil)
	o.OnRefresh(time.Millisecond, 5, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(o.docsAdded))
	assert.Equal(t, 40.0, testutil.ToFloat64(o.docsMerged))
	assert.Equal(t, 4.0, testutil.ToFloat64(o.docsDeleted))
	assert.Equal(t, 5.0, testutil.ToFloat64(o.segments))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.cacheResults.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.cacheResults.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.operations.WithLabelValues("add", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.operations.WithLabelValues("search", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.operations.WithLabelValues("search", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.searchHits))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg, "shop")
	o.OnDelete(2, nil)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `lexgo_documents_deleted_total{collection="shop"} 2`))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, "a")
	assert.Panics(t, func() { New(reg, "a") })
}
