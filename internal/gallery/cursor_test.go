package gallery

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewestCursorRoundTrip(t *testing.T) {
	c := NewestCursor{
		CreatedAt: time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC),
		ID:        uuid.New(),
	}

	token, err := EncodeCursor(c)
	require.NoError(t, err)

	got, err := DecodeCursor(ModeNewest, token)
	require.NoError(t, err)
	require.IsType(t, NewestCursor{}, got)
	decoded := got.(NewestCursor)
	assert.True(t, decoded.CreatedAt.Equal(c.CreatedAt))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestPersonCursorRoundTrip(t *testing.T) {
	d := 0.1234
	withDistance := PersonCursor{IsTagged: false, MinDistance: &d, ID: uuid.New()}
	token, err := EncodeCursor(withDistance)
	require.NoError(t, err)
	got, err := DecodeCursor(ModePerson, token)
	require.NoError(t, err)
	assert.Equal(t, withDistance, got)

	// Absent min_distance survives the round trip as nil.
	noDistance := PersonCursor{IsTagged: true, ID: uuid.New()}
	token, err = EncodeCursor(noDistance)
	require.NoError(t, err)
	got, err = DecodeCursor(ModePerson, token)
	require.NoError(t, err)
	assert.Equal(t, noDistance, got)
	assert.Nil(t, got.(PersonCursor).MinDistance)
}

func TestDecodeCursorRejectsWrongMode(t *testing.T) {
	newest, err := EncodeCursor(NewestCursor{CreatedAt: time.Now().UTC(), ID: uuid.New()})
	require.NoError(t, err)
	person, err := EncodeCursor(PersonCursor{IsTagged: true, ID: uuid.New()})
	require.NoError(t, err)

	_, err = DecodeCursor(ModePerson, newest)
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeCursor(ModeNewest, person)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":     "!!not-base64!!",
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("hello")),
		"empty object":   base64.RawURLEncoding.EncodeToString([]byte("{}")),
		"missing id":     base64.RawURLEncoding.EncodeToString([]byte(`{"created_at":"2025-03-14T09:26:53Z"}`)),
		"unknown fields": base64.RawURLEncoding.EncodeToString([]byte(`{"created_at":"2025-03-14T09:26:53Z","id":"0b8f8f66-5a2d-4c3e-9f7a-111111111111","offset":40}`)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCursor(ModeNewest, token)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}
