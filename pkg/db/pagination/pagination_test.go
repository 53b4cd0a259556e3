package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{Key: "pages/about", Hits: 42})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, &Cursor{Key: "pages/about", Hits: 42}, cursor)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	token, err := EncodeCursor(Cursor{})
	require.NoError(t, err)
	_, err = DecodeCursor(token)
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestSize(t *testing.T) {
	size, err := Pagination{}.Size()
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, size)

	size, err = Pagination{PageSize: 1000}.Size()
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, size)

	_, err = Pagination{PageSize: -1}.Size()
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestBuildCursorPageInfo(t *testing.T) {
	keys := []string{"a", "b", "c"}
	extract := func(k string) Cursor { return Cursor{Key: k} }

	page, info, err := BuildCursorPageInfo(keys, 2, extract)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, page)
	assert.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "b", next.Key)

	page, info, err = BuildCursorPageInfo(keys, 3, extract)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
