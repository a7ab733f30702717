package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_SeedAndAdvance(t *testing.T) {
	clk, err := NewClock("2026-02-02T00:00:00Z")
	require.NoError(t, err)

	assert.Equal(t, "2026-02-02T00:00:00Z", clk.Now(), "first call returns the seed")
	assert.Equal(t, "2026-02-02T00:00:01Z", clk.Now())
	assert.Equal(t, "2026-02-02T00:00:02Z", clk.Now())
	assert.Equal(t, int64(3), clk.Calls())
}

func TestClock_RollsOverMinutes(t *testing.T) {
	clk, err := NewClock("2026-02-02T00:00:58Z")
	require.NoError(t, err)
	clk.Now()
	clk.Now()
	assert.Equal(t, "2026-02-02T00:01:00Z", clk.Now())
}

func TestClock_RejectsBadSeed(t *testing.T) {
	_, err := NewClock("02/02/2026")
	require.Error(t, err)

	_, err = NewClock("2026-02-02T00:00:00+01:00")
	require.Error(t, err, "only UTC Z-suffixed timestamps are accepted")
}

func TestClock_Replayable(t *testing.T) {
	a, err := NewClock("2026-02-02T00:00:00Z")
	require.NoError(t, err)
	b, err := NewClock("2026-02-02T00:00:00Z")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Now(), b.Now())
	}
}
