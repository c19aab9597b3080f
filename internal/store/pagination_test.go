package store

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	want := OrderCursor{
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ID:        uuid.New(),
	}

	got, err := DecodeCursor(EncodeCursor(want))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)
}

func TestDecodeEmptyCursor(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeGarbageCursor(t *testing.T) {
	_, err := DecodeCursor("not base64!!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeCursor("bm90IGpzb24")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, DefaultPageSize},
		{-3, 10, 1, 10},
		{2, 500, 2, MaxPageSize},
		{4, 25, 4, 25},
		{MaxPage + 1, 100, MaxPage, 100},
		{math.MaxInt, math.MaxInt, MaxPage, MaxPageSize},
	}

	for _, tt := range tests {
		page, size := NormalizePage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
		assert.GreaterOrEqual(t, (page-1)*size, 0)
	}
}

func TestOffsetPageTotalPages(t *testing.T) {
	assert.Equal(t, 0, newOffsetPage(nil, 0, 1, 20).TotalPages)
	assert.Equal(t, 1, newOffsetPage(nil, 20, 1, 20).TotalPages)
	assert.Equal(t, 2, newOffsetPage(nil, 21, 1, 20).TotalPages)
}
