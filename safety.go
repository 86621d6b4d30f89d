package evacam

import (
	"github.com/Bin1119/EVA-CAM/fault"
)

// AxisBounds is the allowed range for one workspace axis, in millimeters.
type AxisBounds struct {
	Min, Max float64
}

func (b AxisBounds) contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// WorkspaceBounds is the reachable box the target pose must stay inside.
type WorkspaceBounds struct {
	X, Y, Z AxisBounds
}

// SafetyLimits is the per-session safety configuration snapshot. Loaded once
// per session and treated as immutable; Check reads it and nothing else, so
// concurrent checks from multiple ticks are safe.
type SafetyLimits struct {
	MaxLinearSpeed  float64 // mm/s
	MaxAngularSpeed float64 // deg/s
	Workspace       WorkspaceBounds
	AngleMin        float64 // deg, orientation and joint angles
	AngleMax        float64 // deg

	// CollisionSensitivity caps the per-tick delta of continuous commands:
	// the cap is the distance covered in collisionCapWindow at the class
	// speed limit, divided by the sensitivity. 0 disables the cap.
	CollisionSensitivity int
}

// collisionCapWindow sizes the sensitivity-derived single-tick delta cap. At
// sensitivity 1 a continuous command may cover at most this much travel time
// at the class speed limit; higher sensitivities shrink the cap linearly.
const collisionCapWindow = 0.25 // seconds

// Check validates a resolved motion against the limits, given the pose the
// motion starts from and the current commanded joint angles. Checks run in
// order (speed, bounds, tick cap) and the first failure short-circuits with
// a fault.LimitViolation naming the reason and field. Limits are never
// partially applied.
func (l SafetyLimits) Check(rm ResolvedMotion, from Pose, joints [JointCount]float64) error {
	if err := l.checkSpeed(rm); err != nil {
		return err
	}
	if err := l.checkBounds(rm, from, joints); err != nil {
		return err
	}
	return l.checkTickCap(rm)
}

func (l SafetyLimits) checkSpeed(rm ResolvedMotion) error {
	max := l.MaxLinearSpeed
	class := "linear"
	if rm.Kind.angular() {
		max = l.MaxAngularSpeed
		class = "angular"
	}
	if max > 0 && rm.Speed > max {
		return fault.New(fault.LimitViolation, "speed exceeds class limit",
			fault.Context{"field": "speed", "class": class, "speed": rm.Speed, "max": max})
	}
	return nil
}

func (l SafetyLimits) checkBounds(rm ResolvedMotion, from Pose, joints [JointCount]float64) error {
	switch rm.Kind {
	case MotionJoint:
		for i, d := range rm.Joints {
			target := joints[i] + d
			if target < l.AngleMin || target > l.AngleMax {
				return fault.New(fault.LimitViolation, "joint angle outside limits",
					fault.Context{"field": "joints", "joint": i, "target": target})
			}
		}
		return nil

	case MotionCircular:
		for i, wp := range rm.Waypoints {
			if err := l.checkPose(from.Add(wp), i); err != nil {
				return err
			}
		}
		return nil

	default:
		return l.checkPose(from.Add(rm.Delta), -1)
	}
}

// checkPose verifies one target pose. waypoint is -1 for non-circular motion.
func (l SafetyLimits) checkPose(target Pose, waypoint int) error {
	fail := func(field string, v float64) error {
		f := fault.New(fault.LimitViolation, "target outside workspace bounds",
			fault.Context{"field": field, "target": v})
		if waypoint >= 0 {
			f.WithContext("waypoint", waypoint)
		}
		return f
	}
	if !l.Workspace.X.contains(target.X) {
		return fail("x", target.X)
	}
	if !l.Workspace.Y.contains(target.Y) {
		return fail("y", target.Y)
	}
	if !l.Workspace.Z.contains(target.Z) {
		return fail("z", target.Z)
	}
	for _, a := range []struct {
		name string
		v    float64
	}{{"roll", target.Roll}, {"pitch", target.Pitch}, {"yaw", target.Yaw}} {
		if a.v < l.AngleMin || a.v > l.AngleMax {
			return fail(a.name, a.v)
		}
	}
	return nil
}

// checkTickCap guards the continuous path against runaway accumulation from
// a stuck key: a single non-waiting command may not jump farther than the
// sensitivity-derived cap. Scripted motions (Wait=true) are bounded by the
// workspace check instead.
func (l SafetyLimits) checkTickCap(rm ResolvedMotion) error {
	if l.CollisionSensitivity <= 0 || rm.Wait || rm.Kind == MotionCircular {
		return nil
	}

	sens := float64(l.CollisionSensitivity)
	if rm.Kind == MotionJoint {
		limit := l.MaxAngularSpeed * collisionCapWindow / sens
		if limit <= 0 {
			return nil
		}
		for i, d := range rm.Joints {
			if d < -limit || d > limit {
				return fault.New(fault.LimitViolation, "joint delta exceeds single-tick cap",
					fault.Context{"field": "joints", "joint": i, "delta": d, "cap": limit})
			}
		}
		return nil
	}

	if limit := l.MaxLinearSpeed * collisionCapWindow / sens; limit > 0 {
		if mag := rm.Delta.translation(); mag > limit {
			return fault.New(fault.LimitViolation, "translation exceeds single-tick cap",
				fault.Context{"field": "delta", "magnitude": mag, "cap": limit})
		}
	}
	if limit := l.MaxAngularSpeed * collisionCapWindow / sens; limit > 0 {
		if mag := rm.Delta.rotation(); mag > limit {
			return fault.New(fault.LimitViolation, "rotation exceeds single-tick cap",
				fault.Context{"field": "delta", "magnitude": mag, "cap": limit})
		}
	}
	return nil
}
