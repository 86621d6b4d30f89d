package evacam

import (
	"fmt"
	"math"

	"github.com/Bin1119/EVA-CAM/fault"
)

// Pose is a Cartesian pose or pose delta: x, y, z in millimeters, roll,
// pitch, yaw in degrees.
type Pose struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
}

// Add returns the pose shifted by delta.
func (p Pose) Add(delta Pose) Pose {
	return Pose{
		X:     p.X + delta.X,
		Y:     p.Y + delta.Y,
		Z:     p.Z + delta.Z,
		Roll:  p.Roll + delta.Roll,
		Pitch: p.Pitch + delta.Pitch,
		Yaw:   p.Yaw + delta.Yaw,
	}
}

// Sub returns the delta that moves from other to p.
func (p Pose) Sub(other Pose) Pose {
	return Pose{
		X:     p.X - other.X,
		Y:     p.Y - other.Y,
		Z:     p.Z - other.Z,
		Roll:  p.Roll - other.Roll,
		Pitch: p.Pitch - other.Pitch,
		Yaw:   p.Yaw - other.Yaw,
	}
}

// IsZero reports whether every field is exactly zero.
func (p Pose) IsZero() bool {
	return p == Pose{}
}

// Array returns the pose in the wire order the arm controller expects.
func (p Pose) Array() [6]float64 {
	return [6]float64{p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw}
}

// translation reports the Euclidean magnitude of the x/y/z components.
func (p Pose) translation() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// rotation reports the Euclidean magnitude of the roll/pitch/yaw components.
func (p Pose) rotation() float64 {
	return math.Sqrt(p.Roll*p.Roll + p.Pitch*p.Pitch + p.Yaw*p.Yaw)
}

func (p Pose) hasTranslation() bool {
	return p.X != 0 || p.Y != 0 || p.Z != 0
}

func (p Pose) hasRotation() bool {
	return p.Roll != 0 || p.Pitch != 0 || p.Yaw != 0
}

func (p Pose) finite() bool {
	for _, v := range p.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// JointCount is the number of manipulator joints.
const JointCount = 7

// MotionKind tags the variant of a motion command.
type MotionKind int

const (
	// MotionLinear is a straight Cartesian move. It carries translation
	// and may carry rotation accumulated in the same tick.
	MotionLinear MotionKind = iota
	// MotionRotational is a pure orientation change.
	MotionRotational
	// MotionCircular traces a polyline of waypoints around a radius.
	MotionCircular
	// MotionJoint is a joint-space move.
	MotionJoint
)

func (k MotionKind) String() string {
	switch k {
	case MotionLinear:
		return "linear"
	case MotionRotational:
		return "rotational"
	case MotionCircular:
		return "circular"
	case MotionJoint:
		return "joint"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// angular reports whether the kind is speed-limited as an angular motion.
func (k MotionKind) angular() bool {
	return k == MotionRotational || k == MotionJoint
}

// Plane selects the circle plane for circular motion.
type Plane string

const (
	PlaneXY Plane = "xy"
	PlaneYZ Plane = "yz"
	PlaneXZ Plane = "xz"
)

// MotionCommand is one immutable motion request. Exactly one of the
// Cartesian delta and the joint delta is populated, depending on Kind.
// Radius, Steps and Plane apply to circular commands only.
type MotionCommand struct {
	Kind   MotionKind
	Delta  Pose
	Joints *[JointCount]float64
	Speed  float64
	Wait   bool

	Radius float64
	Steps  int
	Plane  Plane
}

// ResolvedMotion is a motion request after parameter validation: a concrete
// pose or joint delta ready for the safety limiter and the arm link.
// Waypoints is populated for circular motion only, as deltas from the
// starting pose.
type ResolvedMotion struct {
	Kind      MotionKind
	Delta     Pose
	Joints    *[JointCount]float64
	Speed     float64
	Wait      bool
	Waypoints []Pose
}

// Resolve validates a motion command and produces its resolved form. All
// failures are fault.InvalidParameter and occur before any limit check or
// hardware interaction. Resolution is pure computation.
func Resolve(cmd MotionCommand) (ResolvedMotion, error) {
	if math.IsNaN(cmd.Speed) || math.IsInf(cmd.Speed, 0) || cmd.Speed <= 0 {
		return ResolvedMotion{}, fault.New(fault.InvalidParameter,
			"speed must be positive and finite",
			fault.Context{"field": "speed", "value": cmd.Speed})
	}
	if !cmd.Delta.finite() {
		return ResolvedMotion{}, fault.New(fault.InvalidParameter,
			"delta contains NaN or Inf", fault.Context{"field": "delta"})
	}

	switch cmd.Kind {
	case MotionLinear:
		if cmd.Joints != nil {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"linear motion must not carry joint angles",
				fault.Context{"field": "joints"})
		}
		if !cmd.Delta.hasTranslation() {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"linear motion requires a translation component",
				fault.Context{"field": "delta"})
		}
		return resolved(cmd), nil

	case MotionRotational:
		if cmd.Joints != nil {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"rotational motion must not carry joint angles",
				fault.Context{"field": "joints"})
		}
		if cmd.Delta.hasTranslation() {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"rotational motion must not carry translation",
				fault.Context{"field": "delta"})
		}
		if !cmd.Delta.hasRotation() {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"rotational motion requires a rotation component",
				fault.Context{"field": "delta"})
		}
		return resolved(cmd), nil

	case MotionCircular:
		return resolveCircular(cmd)

	case MotionJoint:
		if cmd.Joints == nil {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"joint motion requires joint angles",
				fault.Context{"field": "joints"})
		}
		if !cmd.Delta.IsZero() {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"joint motion must not carry a Cartesian delta",
				fault.Context{"field": "delta"})
		}
		for i, v := range cmd.Joints {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ResolvedMotion{}, fault.New(fault.InvalidParameter,
					"joint delta contains NaN or Inf",
					fault.Context{"field": fmt.Sprintf("joints[%d]", i)})
			}
		}
		joints := *cmd.Joints
		return ResolvedMotion{
			Kind:   MotionJoint,
			Joints: &joints,
			Speed:  cmd.Speed,
			Wait:   cmd.Wait,
		}, nil

	default:
		return ResolvedMotion{}, fault.New(fault.InvalidParameter,
			"unknown motion kind", fault.Context{"field": "kind", "value": int(cmd.Kind)})
	}
}

func resolved(cmd MotionCommand) ResolvedMotion {
	return ResolvedMotion{
		Kind:  cmd.Kind,
		Delta: cmd.Delta,
		Speed: cmd.Speed,
		Wait:  cmd.Wait,
	}
}

// resolveCircular produces the waypoint polyline: Steps poses evenly spaced
// on a circle of Radius in the configured plane, expressed as deltas from
// the starting pose (the circle center). Each waypoint is validated
// independently.
func resolveCircular(cmd MotionCommand) (ResolvedMotion, error) {
	if cmd.Joints != nil {
		return ResolvedMotion{}, fault.New(fault.InvalidParameter,
			"circular motion must not carry joint angles",
			fault.Context{"field": "joints"})
	}
	if !cmd.Delta.IsZero() {
		return ResolvedMotion{}, fault.New(fault.InvalidParameter,
			"circular motion is parameterized by radius, not delta",
			fault.Context{"field": "delta"})
	}
	if math.IsNaN(cmd.Radius) || math.IsInf(cmd.Radius, 0) || cmd.Radius <= 0 {
		return ResolvedMotion{}, fault.New(fault.InvalidParameter,
			"radius must be positive and finite",
			fault.Context{"field": "radius", "value": cmd.Radius})
	}
	if cmd.Steps < 3 {
		return ResolvedMotion{}, fault.New(fault.InvalidParameter,
			"circular motion requires at least 3 steps",
			fault.Context{"field": "steps", "value": cmd.Steps})
	}

	waypoints := make([]Pose, cmd.Steps)
	for i := 0; i < cmd.Steps; i++ {
		angle := 2 * math.Pi * float64(i) / float64(cmd.Steps)
		u := cmd.Radius * math.Cos(angle)
		v := cmd.Radius * math.Sin(angle)
		var wp Pose
		switch cmd.Plane {
		case PlaneXY:
			wp = Pose{X: u, Y: v}
		case PlaneYZ:
			wp = Pose{Y: u, Z: v}
		case PlaneXZ:
			wp = Pose{X: u, Z: v}
		default:
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"plane must be one of xy, yz, xz",
				fault.Context{"field": "plane", "value": string(cmd.Plane)})
		}
		if !wp.finite() {
			return ResolvedMotion{}, fault.New(fault.InvalidParameter,
				"waypoint contains NaN or Inf",
				fault.Context{"field": fmt.Sprintf("waypoints[%d]", i)})
		}
		waypoints[i] = wp
	}

	return ResolvedMotion{
		Kind:      MotionCircular,
		Speed:     cmd.Speed,
		Wait:      cmd.Wait,
		Waypoints: waypoints,
	}, nil
}

// ParamField describes one parameter of a motion kind.
type ParamField struct {
	Name        string
	Unit        string
	Description string
}

// ParamSchema describes the parameters a motion kind accepts, for
// interactive help and script listings.
type ParamSchema struct {
	Kind        MotionKind
	Description string
	Fields      []ParamField
}

// Describe returns the parameter schema for a motion kind.
func Describe(kind MotionKind) ParamSchema {
	switch kind {
	case MotionLinear:
		return ParamSchema{
			Kind:        MotionLinear,
			Description: "straight Cartesian move by a pose delta",
			Fields: []ParamField{
				{Name: "delta.x/y/z", Unit: "mm", Description: "translation per axis"},
				{Name: "delta.roll/pitch/yaw", Unit: "deg", Description: "optional rotation accumulated in the same tick"},
				{Name: "speed", Unit: "mm/s", Description: "linear speed"},
			},
		}
	case MotionRotational:
		return ParamSchema{
			Kind:        MotionRotational,
			Description: "pure orientation change",
			Fields: []ParamField{
				{Name: "delta.roll/pitch/yaw", Unit: "deg", Description: "rotation per axis"},
				{Name: "speed", Unit: "deg/s", Description: "angular speed"},
			},
		}
	case MotionCircular:
		return ParamSchema{
			Kind:        MotionCircular,
			Description: "polyline around a circle centered on the current pose",
			Fields: []ParamField{
				{Name: "radius", Unit: "mm", Description: "circle radius"},
				{Name: "steps", Unit: "", Description: "waypoint count, at least 3"},
				{Name: "plane", Unit: "", Description: "xy, yz or xz"},
				{Name: "speed", Unit: "mm/s", Description: "linear speed along the polyline"},
			},
		}
	case MotionJoint:
		return ParamSchema{
			Kind:        MotionJoint,
			Description: "joint-space move by an angle delta per joint",
			Fields: []ParamField{
				{Name: "joints[0..6]", Unit: "deg", Description: "angle delta per joint"},
				{Name: "speed", Unit: "deg/s", Description: "joint speed"},
			},
		}
	default:
		return ParamSchema{Kind: kind, Description: "unknown motion kind"}
	}
}
