package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evacam "github.com/Bin1119/EVA-CAM"
)

func newInputModel() *model {
	m := &model{
		tracker: evacam.NewDirectionTracker(),
		timers:  make(map[evacam.Direction]*time.Timer),
	}
	return m
}

func TestModel_HoldWindowSynthesizesRelease(t *testing.T) {
	m := newInputModel()

	m.press(evacam.DirYPos)
	assert.False(t, m.tracker.Snapshot().Empty(), "held while repeats arrive")

	require.Eventually(t, func() bool { return m.tracker.Snapshot().Empty() },
		time.Second, 5*time.Millisecond, "direction released after the window lapses")
}

func TestModel_RepeatExtendsHold(t *testing.T) {
	m := newInputModel()

	m.press(evacam.DirZNeg)
	snap := m.tracker.Snapshot()
	require.Len(t, snap, 1)
	since := snap[evacam.DirZNeg]

	// Repeats inside the window keep the direction held without restarting
	// the hold clock.
	deadline := time.Now().Add(2 * holdWindow)
	for time.Now().Before(deadline) {
		m.press(evacam.DirZNeg)
		time.Sleep(holdWindow / 4)
		require.False(t, m.tracker.Snapshot().Empty(), "repeats must keep the hold alive")
	}
	assert.Equal(t, since, m.tracker.Snapshot()[evacam.DirZNeg])
}

func TestModel_ReleaseAllDropsEveryDirection(t *testing.T) {
	m := newInputModel()

	m.press(evacam.DirYPos)
	m.press(evacam.DirZPos)
	m.press(evacam.DirYawNeg)
	require.Len(t, m.tracker.Snapshot(), 3)

	m.releaseAll()
	assert.True(t, m.tracker.Snapshot().Empty())
	assert.Empty(t, m.timers)
}

func TestKeyDirections_CoverAllAxes(t *testing.T) {
	seen := make(map[evacam.Direction]bool)
	for _, d := range keyDirections {
		seen[d] = true
	}
	for _, d := range []evacam.Direction{
		evacam.DirXPos, evacam.DirXNeg,
		evacam.DirYPos, evacam.DirYNeg,
		evacam.DirZPos, evacam.DirZNeg,
		evacam.DirYawPos, evacam.DirYawNeg,
	} {
		assert.True(t, seen[d], "no key bound for %s", d)
	}
}
