package evacam

import (
	"math/rand"
	"sort"

	"github.com/Bin1119/EVA-CAM/fault"
)

// Script is a named sequence of motion commands executed with the arm
// waiting for each step to complete before the next is issued.
type Script struct {
	Name        string
	Description string
	Steps       []MotionCommand
}

// scriptCatalog holds the built-in presets, keyed by name.
var scriptCatalog = map[string]Script{}

func registerScript(s Script) {
	scriptCatalog[s.Name] = s
}

func init() {
	registerScript(Script{
		Name:        "horizontal_sweep",
		Description: "sweep left and back along Y",
		Steps: []MotionCommand{
			{Kind: MotionLinear, Delta: Pose{Y: 100}, Speed: 80, Wait: true},
			{Kind: MotionLinear, Delta: Pose{Y: -200}, Speed: 80, Wait: true},
			{Kind: MotionLinear, Delta: Pose{Y: 100}, Speed: 80, Wait: true},
		},
	})
	registerScript(Script{
		Name:        "vertical_sweep",
		Description: "sweep up and back along Z",
		Steps: []MotionCommand{
			{Kind: MotionLinear, Delta: Pose{Z: 80}, Speed: 60, Wait: true},
			{Kind: MotionLinear, Delta: Pose{Z: -160}, Speed: 60, Wait: true},
			{Kind: MotionLinear, Delta: Pose{Z: 80}, Speed: 60, Wait: true},
		},
	})
	registerScript(Script{
		Name:        "yaw_sweep",
		Description: "rotate the tool through a yaw arc and back",
		Steps: []MotionCommand{
			{Kind: MotionRotational, Delta: Pose{Yaw: 30}, Speed: 40, Wait: true},
			{Kind: MotionRotational, Delta: Pose{Yaw: -60}, Speed: 40, Wait: true},
			{Kind: MotionRotational, Delta: Pose{Yaw: 30}, Speed: 40, Wait: true},
		},
	})
	registerScript(Script{
		Name:        "yz_circle",
		Description: "trace a circle in the YZ plane around the current pose",
		Steps: []MotionCommand{
			{Kind: MotionCircular, Radius: 60, Steps: 24, Plane: PlaneYZ, Speed: 80, Wait: true},
		},
	})
}

// LookupScript returns the named preset or a fault.InvalidParameter if no
// preset by that name exists.
func LookupScript(name string) (Script, error) {
	s, ok := scriptCatalog[name]
	if !ok {
		return Script{}, fault.New(fault.InvalidParameter, "unknown script",
			fault.Context{"field": "name", "value": name})
	}
	return s, nil
}

// Scripts lists the built-in presets sorted by name.
func Scripts() []Script {
	out := make([]Script, 0, len(scriptCatalog))
	for _, s := range scriptCatalog {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RandomDashScript builds a YZ-plane dash sequence: count linear steps with
// random Y/Z components of at most maxStepMM magnitude per axis, followed by
// a final step returning to the starting pose. The rng is injected so runs
// are reproducible under test.
func RandomDashScript(rng *rand.Rand, count int, maxStepMM, speed float64) (Script, error) {
	if count <= 0 {
		return Script{}, fault.New(fault.InvalidParameter, "count must be positive",
			fault.Context{"field": "count", "value": count})
	}
	if maxStepMM <= 0 {
		return Script{}, fault.New(fault.InvalidParameter, "max step must be positive",
			fault.Context{"field": "maxStepMM", "value": maxStepMM})
	}

	steps := make([]MotionCommand, 0, count+1)
	var total Pose
	for i := 0; i < count; i++ {
		delta := Pose{
			Y: (rng.Float64()*2 - 1) * maxStepMM,
			Z: (rng.Float64()*2 - 1) * maxStepMM,
		}
		total = total.Add(delta)
		steps = append(steps, MotionCommand{
			Kind:  MotionLinear,
			Delta: delta,
			Speed: speed,
			Wait:  true,
		})
	}
	if !total.IsZero() {
		steps = append(steps, MotionCommand{
			Kind:  MotionLinear,
			Delta: Pose{}.Sub(total),
			Speed: speed,
			Wait:  true,
		})
	}

	return Script{
		Name:        "yz_random_dash",
		Description: "random YZ dashes returning to the starting pose",
		Steps:       steps,
	}, nil
}
