package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

func TestRegisterAssignsFixedWidthIDs(t *testing.T) {
	d := NewVisitorDirectory()
	ann, err := d.Register("Ann", "Lee", annAddress, "5551234", day1)
	require.NoError(t, err)
	bob, err := d.Register("Bob", "Ray", "2 Side St", "5550000", day1)
	require.NoError(t, err)

	assert.Equal(t, "0000000001", ann.ID)
	assert.Equal(t, "0000000002", bob.ID)
	assert.True(t, IsVisitorID(ann.ID))
	assert.False(t, IsVisitorID("12345"))
	assert.False(t, IsVisitorID("00000000a1"))

	_, err = d.Register("Ann", "Lee", annAddress, "5551234", day1)
	require.ErrorIs(t, err, ErrDuplicateVisitor)
	assert.Equal(t, 2, d.Len())
}

func TestDirectoryContinuesAfterHighestID(t *testing.T) {
	d := NewVisitorDirectory(VisitorRecord{ID: "0000000041", FirstName: "Old"})
	v, err := d.Register("New", "One", "x", "y", day1)
	require.NoError(t, err)
	assert.Equal(t, "0000000042", v.ID)
}

func TestVisitLifecycle(t *testing.T) {
	d := NewVisitorDirectory()
	ann, _ := d.Register("Ann", "Lee", annAddress, "5551234", day1)

	_, err := d.EndVisit(ann.ID, day1)
	require.ErrorIs(t, err, ErrNotVisiting)

	_, err = d.BeginVisit(ann.ID, day1)
	require.NoError(t, err)
	_, err = d.BeginVisit(ann.ID, day1.Add(time.Minute))
	require.ErrorIs(t, err, ErrAlreadyVisiting)

	visit, err := d.EndVisit(ann.ID, day1.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, visit.Duration)
	assert.Equal(t, "01:30:00", formatDuration(visit.Duration))

	_, err = d.EndVisit(ann.ID, day1.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrNotVisiting)

	got, _ := d.Get(ann.ID)
	require.Len(t, got.Visits, 1)
	assert.Equal(t, 90*time.Minute, d.AverageVisit())

	_, err = d.BeginVisit("0000000099", day1)
	require.ErrorIs(t, err, ErrInvalidVisitorID)
}

func TestVisitInverses(t *testing.T) {
	d := NewVisitorDirectory()
	ann, _ := d.Register("Ann", "Lee", annAddress, "5551234", day1)

	opened, _ := d.BeginVisit(ann.ID, day1)
	require.NoError(t, d.CancelVisit(ann.ID, opened))
	got, _ := d.Get(ann.ID)
	assert.Empty(t, got.Visits)

	require.NoError(t, d.RestoreVisit(ann.ID, opened))
	closed, _ := d.EndVisit(ann.ID, day1.Add(time.Hour))

	require.NoError(t, d.ReopenVisit(ann.ID, closed))
	got, _ = d.Get(ann.ID)
	assert.True(t, got.Visits[0].Open())

	require.NoError(t, d.CloseVisit(ann.ID, closed))
	got, _ = d.Get(ann.ID)
	assert.True(t, got.Visits[0].equal(closed))

	// A visit that moved on cannot be reopened with stale values.
	stale := closed
	stale.End = stale.End.Add(time.Minute)
	require.ErrorIs(t, d.ReopenVisit(ann.ID, stale), ErrStaleHistory)
}

func TestUnregister(t *testing.T) {
	d := NewVisitorDirectory()
	ann, _ := d.Register("Ann", "Lee", annAddress, "5551234", day1)
	require.NoError(t, d.Unregister(ann.ID))
	assert.False(t, d.Exists(ann.ID))

	require.NoError(t, d.RestoreVisitor(ann))
	assert.True(t, d.Exists(ann.ID))
	require.ErrorIs(t, d.RestoreVisitor(ann), ErrDuplicateVisitor)

	_, _ = d.BeginVisit(ann.ID, day1)
	require.ErrorIs(t, d.Unregister(ann.ID), ErrVisitorInUse)
}

func TestUnregisterNewestHandsBackItsID(t *testing.T) {
	d := NewVisitorDirectory()
	ann, _ := d.Register("Ann", "Lee", annAddress, "5551234", day1)
	bob, _ := d.Register("Bob", "Ray", "2 Side St", "5550000", day1)

	require.NoError(t, d.Unregister(ann.ID))
	cat, err := d.Register("Cat", "Fox", "3 Hill Rd", "5550001", day1)
	require.NoError(t, err)
	assert.Equal(t, "0000000003", cat.ID)

	require.NoError(t, d.Unregister(cat.ID))
	require.NoError(t, d.Unregister(bob.ID))
	dan, err := d.Register("Dan", "Oak", "4 Low Rd", "5550002", day1)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, dan.ID)

	// Restoring a record past the counter moves the counter with it.
	require.NoError(t, d.RestoreVisitor(cat))
	eve, err := d.Register("Eve", "Ash", "5 Elm Rd", "5550003", day1)
	require.NoError(t, err)
	assert.Equal(t, "0000000004", eve.ID)
}
