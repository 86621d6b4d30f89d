// Package fault provides the error taxonomy for the EVA-CAM controller.
//
// Faults categorize the failures the controller can encounter, from malformed
// motion requests that are rejected before any hardware interaction up to
// emergency stops that force both subsystems into a terminal-safe state.
// Each fault carries structured context so a rejected tick or a halted
// session can be diagnosed without reproducing it.
//
// Fault kinds:
//   - InvalidParameter: malformed motion request, rejected pre-hardware
//   - LimitViolation: safety check failed, command never reaches the arm
//   - TransportFault: robot or camera connection error, requires reset
//   - TimingOverrun: a control tick exceeded its period, warning only
//   - EmergencyStop: operator or watchdog trip, always wins
//
// Example usage:
//
//	err := fault.New(fault.LimitViolation, "target outside workspace",
//	    fault.Context{"field": "y", "target": 812.5})
//
//	if fault.Recoverable(err) {
//	    // log and continue the loop
//	}
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is the fault category used for systematic handling.
type Kind string

const (
	// InvalidParameter marks a malformed motion request. The request is
	// rejected before any hardware interaction and the loop continues.
	InvalidParameter Kind = "invalid_parameter"

	// LimitViolation marks a failed safety check. The command is dropped,
	// the rejection is logged, and the loop continues.
	LimitViolation Kind = "limit_violation"

	// TransportFault marks a robot or camera connection error. The control
	// loop enters Faulted and an explicit reset is required.
	TransportFault Kind = "transport_fault"

	// TimingOverrun marks a control tick that exceeded its period. Logged
	// as a warning; never fatal and never compensated.
	TimingOverrun Kind = "timing_overrun"

	// EmergencyStop marks an operator- or watchdog-triggered stop. Highest
	// priority; forces both subsystems to a safe terminal state.
	EmergencyStop Kind = "emergency_stop"
)

// Context carries structured debugging information for a fault, such as the
// offending field, the rejected value, or the transport address involved.
type Context map[string]interface{}

// Fault is a structured controller error with category and context.
type Fault struct {
	Kind      Kind      // Fault category
	Message   string    // Human-readable description
	Context   Context   // Additional debugging information
	Timestamp time.Time // When the fault occurred
	cause     error
}

// New creates a fault of the given kind with the current timestamp.
func New(kind Kind, message string, context Context) *Fault {
	return &Fault{
		Kind:      kind,
		Message:   message,
		Context:   context,
		Timestamp: time.Now(),
	}
}

// Newf creates a fault with a formatted message and no context.
func Newf(kind Kind, format string, args ...interface{}) *Fault {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a fault of the given kind around an underlying error.
func Wrap(kind Kind, err error, message string) *Fault {
	return &Fault{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		cause:     err,
	}
}

// WithContext attaches additional context and returns the fault.
func (f *Fault) WithContext(key string, value interface{}) *Fault {
	if f.Context == nil {
		f.Context = make(Context)
	}
	f.Context[key] = value
	return f
}

// Error implements the error interface.
func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	b.WriteString(": ")
	b.WriteString(f.Message)
	if f.cause != nil {
		b.WriteString(": ")
		b.WriteString(f.cause.Error())
	}
	if len(f.Context) > 0 {
		keys := make([]string, 0, len(f.Context))
		for k := range f.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, f.Context[k]))
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any.
func (f *Fault) Unwrap() error {
	return f.cause
}

// KindOf returns the fault kind of err, or the empty Kind when err is not a
// Fault anywhere in its chain.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Is reports whether err is a Fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Recoverable reports whether err is a per-tick recoverable fault. Recoverable
// faults are logged and dropped inside a tick; everything else escalates to
// the session controller.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case InvalidParameter, LimitViolation, TimingOverrun:
		return true
	default:
		return false
	}
}
