package evacam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bin1119/EVA-CAM/fault"
)

// ArmLink is the command interface to the external robot transport. The
// control loop is the sole issuer of motion commands; no other component
// talks to the arm while the loop runs.
type ArmLink interface {
	// MoveCartesian commands an absolute target pose. With wait unset the
	// call returns on acceptance, not completion.
	MoveCartesian(ctx context.Context, pose [6]float64, speed float64, wait bool) error
	// MoveJoints commands absolute joint angles.
	MoveJoints(ctx context.Context, angles [JointCount]float64, speed float64, wait bool) error
	// Stop issues the zero-velocity primitive and returns once the
	// controller acknowledges or ctx expires.
	Stop(ctx context.Context) error
	// Moving reports whether the arm is currently executing motion.
	Moving(ctx context.Context) (bool, error)
	// Close tears down the link.
	Close() error
}

// MotionSettings are the interactive control parameters: per-tick step sizes
// and the speeds stamped on continuous commands.
type MotionSettings struct {
	TickPeriod     time.Duration
	LinearStepMM   float64 // translation per held direction per tick
	AngularStepDeg float64 // rotation per held direction per tick
	LinearSpeed    float64 // mm/s on continuous Cartesian commands
	AngularSpeed   float64 // deg/s on continuous rotational commands
	StopTimeout    time.Duration
}

// DefaultMotionSettings returns the interactive defaults: 1ms ticks, 5mm and
// 1 degree steps.
func DefaultMotionSettings() MotionSettings {
	return MotionSettings{
		TickPeriod:     time.Millisecond,
		LinearStepMM:   5,
		AngularStepDeg: 1,
		LinearSpeed:    100,
		AngularSpeed:   50,
		StopTimeout:    2 * time.Second,
	}
}

// LoopState is the control loop state machine.
type LoopState int32

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopStopping
	LoopFaulted
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopRunning:
		return "running"
	case LoopStopping:
		return "stopping"
	case LoopFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ControlLoop is the fixed-rate scheduler at the heart of interactive
// control. Every tick it reads the active-direction snapshot, accumulates
// per-tick increments into one net motion command, validates it, and issues
// it to the arm link without waiting for completion.
//
// The loop is one-shot: it runs from Start until a stop request, an
// emergency stop, or a transport fault, and a new loop is built for the next
// session. Per-tick recoverable faults (InvalidParameter, LimitViolation)
// are logged and dropped; they never halt the loop.
type ControlLoop struct {
	arm      ArmLink
	tracker  *DirectionTracker
	estop    HaltReader
	limits   SafetyLimits
	settings MotionSettings
	log      *slog.Logger
	metrics  *Metrics

	state   atomic.Int32
	started atomic.Bool

	// commanded trajectory, owned by the loop goroutine; mu guards reads
	// from other contexts
	mu     sync.Mutex
	pose   Pose
	joints [JointCount]float64

	firstCmd atomic.Int64 // unix nanos, 0 until the first command
	lastCmd  atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	exitOnce sync.Once
	onExit   func(final LoopState, err error)
}

// NewControlLoop wires a loop over the given collaborators. The emergency
// stop is observed at the top of every tick, so trip-to-reaction latency is
// bounded by one tick period.
func NewControlLoop(arm ArmLink, tracker *DirectionTracker, estop HaltReader,
	limits SafetyLimits, settings MotionSettings, log *slog.Logger, metrics *Metrics) *ControlLoop {
	if settings.TickPeriod <= 0 {
		settings.TickPeriod = time.Millisecond
	}
	if settings.StopTimeout <= 0 {
		settings.StopTimeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &ControlLoop{
		arm:      arm,
		tracker:  tracker,
		estop:    estop,
		limits:   limits,
		settings: settings,
		log:      log,
		metrics:  metrics,
		done:     make(chan struct{}),
	}
}

// WithExitHandler registers a callback invoked exactly once when the loop
// leaves Running, with the terminal state and the escalating error, if any.
// Must be called before Start.
func (l *ControlLoop) WithExitHandler(fn func(final LoopState, err error)) *ControlLoop {
	l.onExit = fn
	return l
}

// SetStartPose primes the cumulative commanded pose with the arm's actual
// position, captured at connect. Must be called before Start.
func (l *ControlLoop) SetStartPose(pose Pose, joints [JointCount]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pose = pose
	l.joints = joints
}

// State returns the current loop state.
func (l *ControlLoop) State() LoopState {
	return LoopState(l.state.Load())
}

// CommandedPose returns the cumulative commanded pose.
func (l *ControlLoop) CommandedPose() Pose {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pose
}

// FirstCommandAt returns when the loop issued its first command, zero if it
// has not issued any.
func (l *ControlLoop) FirstCommandAt() time.Time {
	return nanosTime(l.firstCmd.Load())
}

// LastCommandAt returns when the loop issued its most recent command.
func (l *ControlLoop) LastCommandAt() time.Time {
	return nanosTime(l.lastCmd.Load())
}

func nanosTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Done is closed when the loop goroutine has exited.
func (l *ControlLoop) Done() <-chan struct{} {
	return l.done
}

// Start transitions Idle to Running and begins the fixed-interval tick
// schedule. It refuses to start while the emergency stop is tripped.
func (l *ControlLoop) Start(ctx context.Context) error {
	if l.estop.Tripped() {
		return fault.New(fault.EmergencyStop, "cannot start control loop while emergency stop is tripped", nil)
	}
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("control loop is one-shot and was already started (state %s)", l.State())
	}
	l.state.Store(int32(LoopRunning))
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
	l.log.Info("control loop started",
		"tick", l.settings.TickPeriod,
		"linear_step_mm", l.settings.LinearStepMM,
		"angular_step_deg", l.settings.AngularStepDeg,
	)
	return nil
}

// Stop requests a graceful stop and blocks until the loop has issued its
// zero-velocity command and exited.
func (l *ControlLoop) Stop() {
	if !l.started.Load() {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *ControlLoop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.settings.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.enterStopping("stop requested", nil)
			return
		case <-ticker.C:
			if !l.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one control iteration. It returns false when the loop must
// exit (emergency stop or transport fault).
func (l *ControlLoop) tick(ctx context.Context) bool {
	start := time.Now()

	if l.estop.Tripped() {
		l.enterStopping("emergency stop observed",
			fault.New(fault.EmergencyStop, "emergency stop tripped", nil))
		return false
	}

	snapshot := l.tracker.Snapshot()
	if !snapshot.Empty() {
		if ok := l.issueNet(ctx, snapshot); !ok {
			return false
		}
	}

	elapsed := time.Since(start)
	l.metrics.ObserveTick(elapsed)
	if elapsed > l.settings.TickPeriod {
		// Missed ticker ticks are dropped, never bunched: catching up
		// would compress future ticks into jerky motion.
		l.metrics.IncOverruns()
		l.log.Warn("tick overrun", "elapsed", elapsed, "period", l.settings.TickPeriod)
	}
	return true
}

// issueNet builds, validates, and issues the net command for one tick.
// Returns false only on a transport fault.
func (l *ControlLoop) issueNet(ctx context.Context, snapshot ActiveSet) bool {
	cmd := l.netCommand(snapshot)

	rm, err := Resolve(cmd)
	if err == nil {
		l.mu.Lock()
		from, joints := l.pose, l.joints
		l.mu.Unlock()
		err = l.limits.Check(rm, from, joints)
	}
	if err != nil {
		// A single bad tick must not halt the loop: momentary
		// out-of-bounds targets are expected at workspace edges.
		l.metrics.IncRejected(string(fault.KindOf(err)))
		l.log.Warn("tick command rejected", "error", err)
		return true
	}

	l.mu.Lock()
	target := l.pose.Add(rm.Delta)
	l.mu.Unlock()

	if err := l.arm.MoveCartesian(ctx, target.Array(), rm.Speed, false); err != nil {
		l.fail(fault.Wrap(fault.TransportFault, err, "arm rejected tick command"))
		return false
	}

	l.mu.Lock()
	l.pose = target
	l.mu.Unlock()

	now := time.Now().UnixNano()
	l.firstCmd.CompareAndSwap(0, now)
	l.lastCmd.Store(now)
	l.metrics.IncIssued()
	return true
}

// netCommand accumulates the per-tick increment of every held direction into
// a single net command. Opposite directions never coexist in a snapshot, so
// the net is a straight sum over independent axes.
func (l *ControlLoop) netCommand(snapshot ActiveSet) MotionCommand {
	var delta Pose
	rotationOnly := true
	for d := range snapshot {
		delta = delta.Add(d.step(l.settings.LinearStepMM, l.settings.AngularStepDeg))
		if !d.Rotational() {
			rotationOnly = false
		}
	}

	kind, speed := MotionLinear, l.settings.LinearSpeed
	if rotationOnly {
		kind, speed = MotionRotational, l.settings.AngularSpeed
	}
	return MotionCommand{Kind: kind, Delta: delta, Speed: speed, Wait: false}
}

// enterStopping issues the single stop/zero-velocity command with a bounded
// timeout, then parks the loop. Restarting requires a fresh loop, and the
// session controller refuses while the emergency flag is still set. cause is
// the escalating error handed to the exit handler, nil for a plain stop.
func (l *ControlLoop) enterStopping(reason string, cause error) {
	l.state.Store(int32(LoopStopping))
	l.log.Info("control loop stopping", "reason", reason)
	l.tracker.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), l.settings.StopTimeout)
	defer cancel()
	if err := l.arm.Stop(ctx); err != nil {
		l.log.Error("stop command not acknowledged", "error", err)
	}

	l.state.Store(int32(LoopIdle))
	l.exit(LoopIdle, cause)
}

// fail marks the loop Faulted. Faulted is terminal until an explicit
// external reset re-initializes the connection; the loop itself never
// retries.
func (l *ControlLoop) fail(err error) {
	l.state.Store(int32(LoopFaulted))
	l.log.Error("control loop faulted", "error", err)
	l.exit(LoopFaulted, err)
}

func (l *ControlLoop) exit(final LoopState, err error) {
	l.exitOnce.Do(func() {
		if l.onExit != nil {
			l.onExit(final, err)
		}
	})
}
