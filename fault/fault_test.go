package fault

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestFault_Core tests core Fault functionality
func TestFault_Core(t *testing.T) {
	context := Context{
		"field":  "speed",
		"value":  -10.0,
		"source": "loop",
	}

	f := New(InvalidParameter, "speed must be positive", context)

	assert.Equal(t, InvalidParameter, f.Kind)
	assert.Equal(t, "speed must be positive", f.Message)
	assert.Equal(t, context, f.Context)
	assert.WithinDuration(t, time.Now(), f.Timestamp, time.Second)

	// Error interface renders kind, message and sorted context
	msg := f.Error()
	assert.Contains(t, msg, "invalid_parameter")
	assert.Contains(t, msg, "speed must be positive")
	assert.Contains(t, msg, "field=speed")
}

func TestFault_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	f := Wrap(TransportFault, cause, "arm link lost")

	assert.Contains(t, f.Error(), "connection refused")
	assert.ErrorIs(t, f, cause)

	// The fault survives further wrapping
	wrapped := fmt.Errorf("tick 42: %w", f)
	assert.Equal(t, TransportFault, KindOf(wrapped))
	assert.True(t, Is(wrapped, TransportFault))
	assert.False(t, Is(wrapped, LimitViolation))
}

func TestFault_WithContext(t *testing.T) {
	f := Newf(LimitViolation, "target %.1fmm outside bounds", 812.5).
		WithContext("field", "y")

	assert.Equal(t, "y", f.Context["field"])
	assert.Contains(t, f.Error(), "812.5")
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(New(InvalidParameter, "bad", nil)))
	assert.True(t, Recoverable(New(LimitViolation, "out of bounds", nil)))
	assert.True(t, Recoverable(New(TimingOverrun, "slow tick", nil)))

	assert.False(t, Recoverable(New(TransportFault, "lost", nil)))
	assert.False(t, Recoverable(New(EmergencyStop, "tripped", nil)))
	assert.False(t, Recoverable(errors.New("plain error")))
	assert.False(t, Recoverable(nil))
}

func TestKindOf_NonFault(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
