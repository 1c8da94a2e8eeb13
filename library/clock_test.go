package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeKeeperInitialState(t *testing.T) {
	open := NewTimeKeeper(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 8, 19)
	assert.True(t, open.IsOpen())

	night := NewTimeKeeper(time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC), 8, 19)
	assert.Equal(t, Closed, night.State())
}

func TestAdvanceRunsHooksOnEachCrossing(t *testing.T) {
	tk := NewTimeKeeper(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 8, 19)
	var seen []string
	tk.OnTransition(func(s LibraryState, at time.Time) {
		seen = append(seen, s.String()+"@"+at.Format("02 15"))
	})

	now, err := tk.Advance(1, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), now)
	assert.Equal(t, []string{"closed@01 19", "open@02 08"}, seen)
	assert.True(t, tk.IsOpen())

	seen = nil
	_, err = tk.Advance(0, 1)
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestAdvanceLimits(t *testing.T) {
	tk := NewTimeKeeper(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), 8, 19)

	_, err := tk.Advance(8, 0)
	require.ErrorIs(t, err, ErrInvalidDays)
	_, err = tk.Advance(0, 24)
	require.ErrorIs(t, err, ErrInvalidHours)
	_, err = tk.Advance(-1, 0)
	require.ErrorIs(t, err, ErrInvalidDays)

	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), tk.Now())

	now, err := tk.Advance(MaxAdvanceDays, MaxAdvanceHours)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 9, 7, 0, 0, 0, time.UTC), now)
	assert.Equal(t, Closed, tk.State())
}
