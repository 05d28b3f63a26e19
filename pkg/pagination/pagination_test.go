package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	assert.Equal(t, DefaultLimit, Size(0))
	assert.Equal(t, DefaultLimit, Size(-4))
	assert.Equal(t, 7, Size(7))
	assert.Equal(t, MaxLimit, Size(MaxLimit+50))
	assert.Equal(t, 8, Probe(7))
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 4, 2, 9, 30, 0, 123456000, time.FixedZone("cet", 3600))
	id := uuid.New()

	token := Cursor{At: at, ID: id}.Encode()
	assert.NotContains(t, token, "=")

	got, err := Decode(token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, at.Equal(got.At))
	assert.Equal(t, time.UTC, got.At.Location())
	assert.Equal(t, id, got.ID)
}

func TestDecodeEmptyAndMalformed(t *testing.T) {
	got, err := Decode("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, token := range []string{"!!!", "bm9kb3Q", "YWJjLjEyMw"} {
		_, err := Decode(token)
		assert.ErrorIs(t, err, errMalformed, token)
	}
}

func TestTrim(t *testing.T) {
	base := time.Now().UTC()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	position := func(id uuid.UUID) Cursor { return Cursor{At: base, ID: id} }

	page, next := Trim(ids, 2, position)
	assert.Equal(t, ids[:2], page)
	cursor, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, ids[1], cursor.ID)

	page, next = Trim(ids[:2], 2, position)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
}
