package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSuffix(t *testing.T) {
	ts := time.Date(2026, 3, 7, 9, 5, 1, 999, time.UTC)
	require.Equal(t, "20260307_090501", Suffix(ts))
}

func TestISO(t *testing.T) {
	ts := time.Date(2026, 3, 7, 9, 5, 1, 500, time.UTC)
	require.Equal(t, "2026-03-07T09:05:01.0000005Z", ISO(ts))
}

func TestFixed(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fixed(ts)
	require.True(t, c.Now().Equal(ts))
	require.True(t, c.Now().Equal(ts))
}
