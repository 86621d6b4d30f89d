package evacam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bin1119/EVA-CAM/fault"
)

// fakeArm records every command it receives.
type fakeArm struct {
	mu      sync.Mutex
	moves   [][6]float64
	waits   []bool
	stops   int
	moveErr error
	moving  bool
	closed  bool
}

func (a *fakeArm) MoveCartesian(_ context.Context, pose [6]float64, _ float64, wait bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.moveErr != nil {
		return a.moveErr
	}
	a.moves = append(a.moves, pose)
	a.waits = append(a.waits, wait)
	return nil
}

func (a *fakeArm) MoveJoints(_ context.Context, _ [JointCount]float64, _ float64, _ bool) error {
	return nil
}

func (a *fakeArm) Stop(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	return nil
}

func (a *fakeArm) Moving(_ context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moving, nil
}

func (a *fakeArm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeArm) moveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.moves)
}

func (a *fakeArm) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

func (a *fakeArm) lastMove() ([6]float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.moves) == 0 {
		return [6]float64{}, false
	}
	return a.moves[len(a.moves)-1], true
}

func testLoopSettings() MotionSettings {
	s := DefaultMotionSettings()
	s.TickPeriod = time.Millisecond
	return s
}

func TestControlLoop_IdleIssuesNothing(t *testing.T) {
	arm := &fakeArm{}
	loop := NewControlLoop(arm, NewDirectionTracker(), NewEmergencyStop(),
		testLimits(), testLoopSettings(), nil, nil)

	require.NoError(t, loop.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	loop.Stop()

	assert.Zero(t, arm.moveCount(), "no held direction, no commands")
	assert.Equal(t, 1, arm.stopCount(), "graceful exit issues exactly one stop")
	assert.Equal(t, LoopIdle, loop.State())
	assert.True(t, loop.FirstCommandAt().IsZero())
}

func TestControlLoop_AccumulatesHeldDirection(t *testing.T) {
	arm := &fakeArm{}
	tracker := NewDirectionTracker()
	loop := NewControlLoop(arm, tracker, NewEmergencyStop(),
		testLimits(), testLoopSettings(), nil, nil)
	loop.SetStartPose(Pose{Z: 400}, [JointCount]float64{})

	require.NoError(t, loop.Start(context.Background()))
	tracker.KeyDown(DirYPos, time.Now())

	require.Eventually(t, func() bool { return arm.moveCount() >= 3 },
		time.Second, time.Millisecond)
	tracker.KeyUp(DirYPos)
	loop.Stop()

	// Each issued command advances Y by one step from the previous target.
	pose := loop.CommandedPose()
	n := arm.moveCount()
	assert.InDelta(t, float64(n)*5, pose.Y, 1e-9)
	assert.Equal(t, 400.0, pose.Z)

	last, ok := arm.lastMove()
	require.True(t, ok)
	assert.Equal(t, pose.Y, last[1], "commands are absolute targets")

	// Continuous commands never wait for completion.
	arm.mu.Lock()
	for _, w := range arm.waits {
		assert.False(t, w)
	}
	arm.mu.Unlock()

	assert.False(t, loop.FirstCommandAt().IsZero())
	assert.False(t, loop.LastCommandAt().Before(loop.FirstCommandAt()))
}

func TestControlLoop_MixedDirectionsNetCommand(t *testing.T) {
	arm := &fakeArm{}
	tracker := NewDirectionTracker()
	loop := NewControlLoop(arm, tracker, NewEmergencyStop(),
		testLimits(), testLoopSettings(), nil, nil)
	loop.SetStartPose(Pose{Z: 400}, [JointCount]float64{})

	require.NoError(t, loop.Start(context.Background()))
	now := time.Now()
	tracker.KeyDown(DirYPos, now)
	tracker.KeyDown(DirZNeg, now)
	tracker.KeyDown(DirYawPos, now)

	require.Eventually(t, func() bool { return arm.moveCount() >= 2 },
		time.Second, time.Millisecond)
	loop.Stop()

	// One net command per tick moves every held axis together.
	pose := loop.CommandedPose()
	n := float64(arm.moveCount())
	assert.InDelta(t, n*5, pose.Y, 1e-9)
	assert.InDelta(t, 400-n*5, pose.Z, 1e-9)
	assert.InDelta(t, n*1, pose.Yaw, 1e-9)
}

func TestControlLoop_EmergencyStopHaltsWithinTick(t *testing.T) {
	arm := &fakeArm{}
	tracker := NewDirectionTracker()
	estop := NewEmergencyStop()

	var exitState LoopState
	var exitErr error
	loop := NewControlLoop(arm, tracker, estop,
		testLimits(), testLoopSettings(), nil, nil).
		WithExitHandler(func(final LoopState, err error) {
			exitState = final
			exitErr = err
		})
	loop.SetStartPose(Pose{Z: 400}, [JointCount]float64{})

	require.NoError(t, loop.Start(context.Background()))
	tracker.KeyDown(DirYPos, time.Now())
	require.Eventually(t, func() bool { return arm.moveCount() >= 1 },
		time.Second, time.Millisecond)

	estop.Trip()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after emergency stop")
	}

	assert.Equal(t, 1, arm.stopCount())
	assert.Equal(t, LoopIdle, loop.State())
	assert.Equal(t, LoopIdle, exitState)
	assert.True(t, fault.Is(exitErr, fault.EmergencyStop))
	assert.True(t, tracker.Snapshot().Empty(), "held directions are flushed on stop")
}

func TestControlLoop_StartRefusedWhileTripped(t *testing.T) {
	estop := NewEmergencyStop()
	estop.Trip()
	loop := NewControlLoop(&fakeArm{}, NewDirectionTracker(), estop,
		testLimits(), testLoopSettings(), nil, nil)

	err := loop.Start(context.Background())
	assert.True(t, fault.Is(err, fault.EmergencyStop))
	assert.Equal(t, LoopIdle, loop.State())
}

func TestControlLoop_RejectionKeepsRunning(t *testing.T) {
	arm := &fakeArm{}
	tracker := NewDirectionTracker()
	limits := testLimits()
	// Start on the Y ceiling so every +Y command lands out of bounds.
	start := Pose{Y: 700, Z: 400}

	loop := NewControlLoop(arm, tracker, NewEmergencyStop(),
		limits, testLoopSettings(), nil, nil)
	loop.SetStartPose(start, [JointCount]float64{})

	require.NoError(t, loop.Start(context.Background()))
	tracker.KeyDown(DirYPos, time.Now())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, LoopRunning, loop.State(), "rejections must not halt the loop")
	assert.Zero(t, arm.moveCount())
	assert.Equal(t, start, loop.CommandedPose())

	loop.Stop()
	assert.Equal(t, LoopIdle, loop.State())
}

func TestControlLoop_TransportFaultEndsLoop(t *testing.T) {
	arm := &fakeArm{moveErr: errors.New("broken pipe")}
	tracker := NewDirectionTracker()

	var exitErr error
	loop := NewControlLoop(arm, tracker, NewEmergencyStop(),
		testLimits(), testLoopSettings(), nil, nil).
		WithExitHandler(func(_ LoopState, err error) { exitErr = err })
	loop.SetStartPose(Pose{Z: 400}, [JointCount]float64{})

	require.NoError(t, loop.Start(context.Background()))
	tracker.KeyDown(DirYPos, time.Now())

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not fault on transport error")
	}

	assert.Equal(t, LoopFaulted, loop.State())
	assert.True(t, fault.Is(exitErr, fault.TransportFault))
}

func TestControlLoop_DoubleStartRejected(t *testing.T) {
	loop := NewControlLoop(&fakeArm{}, NewDirectionTracker(), NewEmergencyStop(),
		testLimits(), testLoopSettings(), nil, nil)

	require.NoError(t, loop.Start(context.Background()))
	assert.Error(t, loop.Start(context.Background()))
	loop.Stop()

	// A finished loop is one-shot; restarting it is refused too.
	assert.Error(t, loop.Start(context.Background()))
}
