package evacam

import (
	"sync/atomic"
	"time"
)

// HaltReader is the read-only view of the emergency stop authority handed to
// components. Only the session controller holds the write-and-reset handle.
type HaltReader interface {
	// Tripped reports whether the emergency stop is active.
	Tripped() bool
	// TrippedAt returns when the flag was first set; zero when not tripped.
	TrippedAt() time.Time
}

// EmergencyStop is the process-wide emergency stop flag. It is shared by
// reference with every component at construction and settable from any
// goroutine: the input path on ESC, any component detecting a fault, or an
// external watchdog. The control loop observes it at the top of every tick
// and the recorder before every buffered flush.
//
// Once tripped the flag stays set until the session controller confirms both
// subsystems are halted and performs an explicit reset.
type EmergencyStop struct {
	tripped   atomic.Bool
	trippedAt atomic.Int64 // unix nanos of the first trip
}

// NewEmergencyStop returns a cleared flag.
func NewEmergencyStop() *EmergencyStop {
	return &EmergencyStop{}
}

// Trip sets the flag and records the trip time. Idempotent: repeated trips
// keep the original timestamp and report false.
func (e *EmergencyStop) Trip() bool {
	if !e.tripped.CompareAndSwap(false, true) {
		return false
	}
	e.trippedAt.Store(time.Now().UnixNano())
	return true
}

// Tripped reports whether the emergency stop is active.
func (e *EmergencyStop) Tripped() bool {
	return e.tripped.Load()
}

// TrippedAt returns when the flag was first set; zero when not tripped.
func (e *EmergencyStop) TrippedAt() time.Time {
	if !e.tripped.Load() {
		return time.Time{}
	}
	return time.Unix(0, e.trippedAt.Load())
}

// reset clears the flag. Unexported: only the session controller may reset,
// and only after confirming both subsystems are in a known-halted state.
func (e *EmergencyStop) reset() {
	e.trippedAt.Store(0)
	e.tripped.Store(false)
}
