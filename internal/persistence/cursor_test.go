package persistence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivasann/daisy-copilot/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, time.April, 2, 8, 15, 30, 123456789, time.UTC)
	token := EncodeCursor(&domain.Cursor{Timestamp: ts, ID: "rec-9"})
	require.NotEmpty(t, token)

	got, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, got.Timestamp.Equal(ts))
	require.Equal(t, "rec-9", got.ID)
}

func TestDecodeCursorEmpty(t *testing.T) {
	got, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, "", EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "bm9waXBl", "bm90LWEtdGltZXxpZA"} {
		_, err := DecodeCursor(token)
		require.Error(t, err, token)
		require.True(t, errors.Is(err, domain.ErrInvalidArgument), token)
	}
}

func TestBefore(t *testing.T) {
	ts := time.Date(2025, time.April, 2, 8, 0, 0, 0, time.UTC)
	c := &domain.Cursor{Timestamp: ts, ID: "m"}

	require.True(t, Before(domain.ActivityRecord{ID: "z", Timestamp: ts.Add(-time.Second)}, c))
	require.True(t, Before(domain.ActivityRecord{ID: "a", Timestamp: ts}, c))
	require.False(t, Before(domain.ActivityRecord{ID: "m", Timestamp: ts}, c))
	require.False(t, Before(domain.ActivityRecord{ID: "a", Timestamp: ts.Add(time.Second)}, c))
	require.True(t, Before(domain.ActivityRecord{}, nil))
}
