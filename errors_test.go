package lexgo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/lock"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/internal/query"
	"github.com/hupe1980/lexgo/internal/replica"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"closed", engine.ErrClosed, ErrClosed},
		{"segment closed", segment.ErrClosed, ErrClosed},
		{"busy", fmt.Errorf("index: %w", lock.ErrBusy), ErrBusy},
		{"fatal", manifest.ErrFatal, ErrFatal},
		{"corrupt segment", segment.ErrCorrupt, ErrCorrupt},
		{"corrupt manifest", manifest.ErrCorrupt, ErrCorrupt},
		{"checksum", replica.ErrChecksum, ErrCorrupt},
		{"no export", replica.ErrNoExport, ErrNotFound},
		{"memory", resource.ErrMemoryLimitExceeded, ErrMemoryLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in, "the cause stays reachable")
		})
	}

	assert.NoError(t, translateError(nil))
	other := errors.New("boom")
	assert.Same(t, other, translateError(other))
}

func TestTranslateQueryError(t *testing.T) {
	in := query.NewError(query.StatusMalformed, "(red", "unbalanced parenthesis")
	err := translateError(fmt.Errorf("search: %w", in))

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, StatusMalformed, qe.Status)
	assert.Equal(t, "(red", qe.Query)
	assert.Equal(t, "unbalanced parenthesis", qe.Message)
	assert.Contains(t, qe.Error(), "400")

	var inner *query.Error
	assert.ErrorAs(t, err, &inner)
}
