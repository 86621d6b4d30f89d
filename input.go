package evacam

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Direction is one logical motion direction an operator can hold.
type Direction int

const (
	DirXPos Direction = iota // forward
	DirXNeg                  // back
	DirYPos                  // right
	DirYNeg                  // left
	DirZPos                  // up
	DirZNeg                  // down
	DirYawPos                // rotate counter-clockwise
	DirYawNeg                // rotate clockwise
)

func (d Direction) String() string {
	switch d {
	case DirXPos:
		return "+x"
	case DirXNeg:
		return "-x"
	case DirYPos:
		return "+y"
	case DirYNeg:
		return "-y"
	case DirZPos:
		return "+z"
	case DirZNeg:
		return "-z"
	case DirYawPos:
		return "+yaw"
	case DirYawNeg:
		return "-yaw"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Opposite returns the exactly opposing direction.
func (d Direction) Opposite() Direction {
	if d%2 == 0 {
		return d + 1
	}
	return d - 1
}

// Rotational reports whether the direction turns rather than translates.
func (d Direction) Rotational() bool {
	return d == DirYawPos || d == DirYawNeg
}

// step returns the pose delta for holding d one tick, given the configured
// per-tick step sizes.
func (d Direction) step(linearMM, angularDeg float64) Pose {
	switch d {
	case DirXPos:
		return Pose{X: linearMM}
	case DirXNeg:
		return Pose{X: -linearMM}
	case DirYPos:
		return Pose{Y: linearMM}
	case DirYNeg:
		return Pose{Y: -linearMM}
	case DirZPos:
		return Pose{Z: linearMM}
	case DirZNeg:
		return Pose{Z: -linearMM}
	case DirYawPos:
		return Pose{Yaw: angularDeg}
	case DirYawNeg:
		return Pose{Yaw: -angularDeg}
	default:
		return Pose{}
	}
}

// ActiveSet is an immutable snapshot of the held directions with the time
// each was first held. Consumers own their copy; the tracker's internal set
// is never exposed.
type ActiveSet map[Direction]time.Time

// Empty reports whether no direction is held.
func (s ActiveSet) Empty() bool {
	return len(s) == 0
}

// Directions returns the held directions in stable order.
func (s ActiveSet) Directions() []Direction {
	out := make([]Direction, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DirectionTracker maps discrete key-down/key-up events onto a persistent
// active-direction set, decoupling input sampling from command issuance. It
// is written by the input context and read by the control loop through
// copy-out snapshots; all methods are safe for concurrent use.
//
// A direction and its exact opposite are never simultaneously active:
// key-down of one clears the other, so net per-tick computation is a
// straight sum over independent axes. Within a tick window the last writer
// wins.
type DirectionTracker struct {
	mu     sync.Mutex
	active map[Direction]time.Time
}

// NewDirectionTracker creates an empty tracker.
func NewDirectionTracker() *DirectionTracker {
	return &DirectionTracker{active: make(map[Direction]time.Time)}
}

// KeyDown marks d held as of now. If the opposite of d is active it is
// cleared, preventing oscillating net-zero commands from simultaneous
// opposite holds. Re-pressing an already-held direction keeps its original
// held-since time.
func (t *DirectionTracker) KeyDown(d Direction, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, d.Opposite())
	if _, held := t.active[d]; !held {
		t.active[d] = now
	}
}

// KeyUp releases d unconditionally.
func (t *DirectionTracker) KeyUp(d Direction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, d)
}

// Snapshot returns an immutable copy of the active set for one tick.
func (t *DirectionTracker) Snapshot() ActiveSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(ActiveSet, len(t.active))
	for d, since := range t.active {
		out[d] = since
	}
	return out
}

// Clear releases every direction, used when control leaves the operator
// (emergency stop, session end).
func (t *DirectionTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[Direction]time.Time)
}
