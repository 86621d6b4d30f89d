package evacam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bin1119/EVA-CAM/fault"
)

func TestResolve_Linear(t *testing.T) {
	rm, err := Resolve(MotionCommand{Kind: MotionLinear, Delta: Pose{Y: 5}, Speed: 100})
	require.NoError(t, err)
	assert.Equal(t, MotionLinear, rm.Kind)
	assert.Equal(t, Pose{Y: 5}, rm.Delta)

	// A net tick command may carry rotation alongside translation.
	rm, err = Resolve(MotionCommand{Kind: MotionLinear, Delta: Pose{Y: 5, Yaw: 1}, Speed: 100})
	require.NoError(t, err)
	assert.Equal(t, Pose{Y: 5, Yaw: 1}, rm.Delta)
}

func TestResolve_LinearRequiresTranslation(t *testing.T) {
	_, err := Resolve(MotionCommand{Kind: MotionLinear, Delta: Pose{Yaw: 1}, Speed: 100})
	assert.True(t, fault.Is(err, fault.InvalidParameter))
}

func TestResolve_RotationalRejectsTranslation(t *testing.T) {
	_, err := Resolve(MotionCommand{Kind: MotionRotational, Delta: Pose{Y: 1, Yaw: 1}, Speed: 50})
	assert.True(t, fault.Is(err, fault.InvalidParameter))

	rm, err := Resolve(MotionCommand{Kind: MotionRotational, Delta: Pose{Yaw: 2}, Speed: 50})
	require.NoError(t, err)
	assert.Equal(t, MotionRotational, rm.Kind)
}

func TestResolve_SpeedValidation(t *testing.T) {
	for _, speed := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := Resolve(MotionCommand{Kind: MotionLinear, Delta: Pose{X: 1}, Speed: speed})
		assert.True(t, fault.Is(err, fault.InvalidParameter), "speed %v must be rejected", speed)
	}
}

func TestResolve_NonFiniteDelta(t *testing.T) {
	_, err := Resolve(MotionCommand{Kind: MotionLinear, Delta: Pose{X: math.NaN()}, Speed: 10})
	assert.True(t, fault.Is(err, fault.InvalidParameter))
}

func TestResolve_Circular(t *testing.T) {
	rm, err := Resolve(MotionCommand{Kind: MotionCircular, Radius: 60, Steps: 8, Plane: PlaneYZ, Speed: 80})
	require.NoError(t, err)
	require.Len(t, rm.Waypoints, 8)

	// Every waypoint sits on the circle, in the YZ plane.
	for i, wp := range rm.Waypoints {
		assert.Zero(t, wp.X, "waypoint %d leaves the plane", i)
		r := math.Hypot(wp.Y, wp.Z)
		assert.InDelta(t, 60, r, 1e-9, "waypoint %d off the circle", i)
	}
	// First waypoint starts at angle zero.
	assert.InDelta(t, 60, rm.Waypoints[0].Y, 1e-9)
}

func TestResolve_CircularValidation(t *testing.T) {
	cases := []MotionCommand{
		{Kind: MotionCircular, Radius: 0, Steps: 8, Plane: PlaneXY, Speed: 10},
		{Kind: MotionCircular, Radius: -5, Steps: 8, Plane: PlaneXY, Speed: 10},
		{Kind: MotionCircular, Radius: 10, Steps: 2, Plane: PlaneXY, Speed: 10},
		{Kind: MotionCircular, Radius: 10, Steps: 8, Plane: "bad", Speed: 10},
		{Kind: MotionCircular, Radius: 10, Steps: 8, Plane: PlaneXY, Speed: 10, Delta: Pose{X: 1}},
	}
	for i, cmd := range cases {
		_, err := Resolve(cmd)
		assert.True(t, fault.Is(err, fault.InvalidParameter), "case %d", i)
	}
}

func TestResolve_Joint(t *testing.T) {
	joints := [JointCount]float64{1, 0, -2, 0, 0, 0, 3}
	rm, err := Resolve(MotionCommand{Kind: MotionJoint, Joints: &joints, Speed: 20})
	require.NoError(t, err)
	require.NotNil(t, rm.Joints)
	assert.Equal(t, joints, *rm.Joints)

	// The resolved copy is independent of the caller's array.
	joints[0] = 99
	assert.Equal(t, 1.0, rm.Joints[0])
}

func TestResolve_JointValidation(t *testing.T) {
	_, err := Resolve(MotionCommand{Kind: MotionJoint, Speed: 20})
	assert.True(t, fault.Is(err, fault.InvalidParameter), "missing joints")

	bad := [JointCount]float64{math.Inf(-1)}
	_, err = Resolve(MotionCommand{Kind: MotionJoint, Joints: &bad, Speed: 20})
	assert.True(t, fault.Is(err, fault.InvalidParameter), "non-finite joint")

	ok := [JointCount]float64{1}
	_, err = Resolve(MotionCommand{Kind: MotionJoint, Joints: &ok, Delta: Pose{X: 1}, Speed: 20})
	assert.True(t, fault.Is(err, fault.InvalidParameter), "joint motion with cartesian delta")
}

func TestPose_AddSub(t *testing.T) {
	a := Pose{X: 1, Y: 2, Yaw: 10}
	b := Pose{X: -1, Z: 3}
	assert.Equal(t, Pose{Y: 2, Z: 3, Yaw: 10}, a.Add(b))
	assert.Equal(t, a, a.Add(b).Sub(b))
}

func TestDescribe_CoversAllKinds(t *testing.T) {
	for _, k := range []MotionKind{MotionLinear, MotionRotational, MotionCircular, MotionJoint} {
		schema := Describe(k)
		assert.Equal(t, k, schema.Kind)
		assert.NotEmpty(t, schema.Fields, "%s schema has no fields", k)
	}
}
