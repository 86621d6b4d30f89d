package evacam

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bin1119/EVA-CAM/fault"
)

func TestLookupScript(t *testing.T) {
	s, err := LookupScript("horizontal_sweep")
	require.NoError(t, err)
	assert.Equal(t, "horizontal_sweep", s.Name)
	assert.NotEmpty(t, s.Steps)

	_, err = LookupScript("no_such_preset")
	assert.True(t, fault.Is(err, fault.InvalidParameter))
}

func TestScripts_SortedAndResolvable(t *testing.T) {
	catalog := Scripts()
	require.NotEmpty(t, catalog)

	for i := 1; i < len(catalog); i++ {
		assert.Less(t, catalog[i-1].Name, catalog[i].Name, "catalog is sorted")
	}

	// Every preset step must pass parameter validation.
	for _, s := range catalog {
		for i, step := range s.Steps {
			_, err := Resolve(step)
			assert.NoError(t, err, "script %s step %d", s.Name, i)
		}
	}
}

func TestPresetSweepsReturnToStart(t *testing.T) {
	for _, name := range []string{"horizontal_sweep", "vertical_sweep", "yaw_sweep"} {
		s, err := LookupScript(name)
		require.NoError(t, err)

		var total Pose
		for _, step := range s.Steps {
			total = total.Add(step.Delta)
		}
		assert.True(t, total.IsZero(), "%s must end where it began", name)
	}
}

func TestRandomDashScript(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s, err := RandomDashScript(rng, 10, 25, 80)
	require.NoError(t, err)
	require.Len(t, s.Steps, 11, "10 dashes plus the return step")

	var total Pose
	for i, step := range s.Steps {
		assert.Equal(t, MotionLinear, step.Kind)
		assert.True(t, step.Wait)
		if i < 10 {
			assert.LessOrEqual(t, step.Delta.Y, 25.0)
			assert.GreaterOrEqual(t, step.Delta.Y, -25.0)
			assert.LessOrEqual(t, step.Delta.Z, 25.0)
			assert.GreaterOrEqual(t, step.Delta.Z, -25.0)
		}
		assert.Zero(t, step.Delta.X, "dashes stay in the YZ plane")
		total = total.Add(step.Delta)
	}
	assert.True(t, total.IsZero(), "final step returns to the start")
}

func TestRandomDashScript_Validation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := RandomDashScript(rng, 0, 25, 80)
	assert.True(t, fault.Is(err, fault.InvalidParameter))
	_, err = RandomDashScript(rng, 5, 0, 80)
	assert.True(t, fault.Is(err, fault.InvalidParameter))
}
