// Package evacam coordinates a robotic manipulator and a high-speed
// event/frame camera for interactive data acquisition.
//
// The system runs as three cooperating contexts. The input context turns
// operator key transitions into an active-direction set and can trip the
// process-wide emergency stop. The control loop context wakes on a fixed
// tick, folds the held directions into one net motion command, validates it
// against the safety limits, and issues it to the arm link. The recorder
// context owns the camera and persists every sample that arrives between
// acquisition start and stop.
//
// Recording always brackets motion: acquisition is confirmed active before
// the first motion command is issued, and stopped only after the last
// motion command of the session. The SessionController enforces that
// ordering for both interactive control and preset scripts.
package evacam

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Bin1119/EVA-CAM/fault"
)

// ArmAdmin is the administrative surface some arm links expose beyond
// motion: servo arming and the controller-side collision guard. The session
// controller uses it at connect time when the link provides it.
type ArmAdmin interface {
	MotionEnable(ctx context.Context, enable bool) error
	SetCollisionSensitivity(ctx context.Context, level int) error
}

// PoseReader is implemented by arm links that can report their actual
// Cartesian pose. Used at connect to seed the commanded trajectory.
type PoseReader interface {
	Position(ctx context.Context) ([6]float64, error)
}

// CameraTuner is implemented by camera links that accept exposure and frame
// rate settings between open and acquisition start.
type CameraTuner interface {
	Tune(exposure time.Duration, fps float64) error
}

// SyncManifest is the per-session timestamp record written next to the
// recorded data. It lets downstream consumers align camera samples with the
// motion interval without parsing logs.
type SyncManifest struct {
	SessionID      string    `json:"session_id"`
	RecordingBegin time.Time `json:"recording_begin"`
	RecordingEnd   time.Time `json:"recording_end"`
	FirstCommandAt time.Time `json:"first_command_at,omitzero"`
	LastCommandAt  time.Time `json:"last_command_at,omitzero"`
	SampleCount    int       `json:"sample_count"`
	DeviceCount    int       `json:"device_count"`
}

// SessionStatus is a point-in-time snapshot for the status endpoint.
type SessionStatus struct {
	Connected        bool      `json:"connected"`
	LoopState        string    `json:"loop_state"`
	EmergencyTripped bool      `json:"emergency_tripped"`
	EmergencyAt      time.Time `json:"emergency_at,omitzero"`
	Recording        bool      `json:"recording"`
	SessionID        string    `json:"session_id,omitempty"`
	CommandedPose    Pose      `json:"commanded_pose"`
}

// SessionController owns the arm and camera links and sequences interactive
// sessions, preset scripts, emergency stops, and recovery. It is the only
// component allowed to reset the emergency stop.
type SessionController struct {
	cfg     Config
	arm     ArmLink
	cam     CameraLink
	estop   *EmergencyStop
	tracker *DirectionTracker
	rec     *Recorder
	log     *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	connected bool
	loop      *ControlLoop
	session   *RecordingSession
	pose      Pose // cumulative commanded pose
	joints    [JointCount]float64
	startPose Pose // actual pose captured at connect
	lastRun   *Script
}

// NewSessionController wires a controller over established links. Nothing is
// touched until Connect.
func NewSessionController(cfg Config, arm ArmLink, cam CameraLink,
	estop *EmergencyStop, log *slog.Logger, metrics *Metrics) *SessionController {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &SessionController{
		cfg:     cfg,
		arm:     arm,
		cam:     cam,
		estop:   estop,
		tracker: NewDirectionTracker(),
		rec:     NewRecorder(cam, estop, cfg.Recorder, log, metrics),
		log:     log,
		metrics: metrics,
	}
}

// Tracker returns the direction tracker the front end feeds key transitions
// into.
func (sc *SessionController) Tracker() *DirectionTracker {
	return sc.tracker
}

// Connect prepares both devices: opens the camera in the configured mode,
// arms the manipulator servos, applies the collision sensitivity, optionally
// homes the arm, and captures the starting pose.
func (sc *SessionController) Connect(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.connected {
		return fmt.Errorf("session: already connected")
	}

	if err := sc.cam.Open(sc.cfg.Camera.Mode, sc.cfg.Camera.APSSubmode, sc.cfg.Camera.EVSSubmode); err != nil {
		return fault.Wrap(fault.TransportFault, err, "camera open failed")
	}
	if tuner, ok := sc.cam.(CameraTuner); ok {
		if exp, fps := sc.cfg.Camera.Exposure, sc.cfg.Camera.FPS; exp > 0 || fps > 0 {
			if err := tuner.Tune(exp, fps); err != nil {
				return fault.Wrap(fault.TransportFault, err, "camera tuning rejected")
			}
		}
	}

	if admin, ok := sc.arm.(ArmAdmin); ok {
		if err := admin.MotionEnable(ctx, true); err != nil {
			return fault.Wrap(fault.TransportFault, err, "motion enable failed")
		}
		if level := sc.cfg.Safety.CollisionSensitivity; level > 0 {
			if err := admin.SetCollisionSensitivity(ctx, level); err != nil {
				return fault.Wrap(fault.TransportFault, err, "collision sensitivity rejected")
			}
		}
	}

	if sc.cfg.Arm.GoHome {
		var home [JointCount]float64
		if err := sc.arm.MoveJoints(ctx, home, sc.cfg.Motion.AngularSpeed, true); err != nil {
			return fault.Wrap(fault.TransportFault, err, "homing move failed")
		}
	}

	if reader, ok := sc.arm.(PoseReader); ok {
		raw, err := reader.Position(ctx)
		if err != nil {
			return fault.Wrap(fault.TransportFault, err, "position read failed")
		}
		sc.pose = Pose{X: raw[0], Y: raw[1], Z: raw[2], Roll: raw[3], Pitch: raw[4], Yaw: raw[5]}
	}
	sc.startPose = sc.pose

	sc.connected = true
	sc.log.Info("session connected",
		"camera_mode", sc.cfg.Camera.Mode,
		"start_pose", sc.pose,
		"collision_sensitivity", sc.cfg.Safety.CollisionSensitivity,
	)
	return nil
}

// StartInteractive begins an interactive control session. When recording is
// enabled, acquisition is confirmed active before the control loop starts,
// and the loop's exit handler closes the recording so capture outlives the
// last command regardless of how the loop ends.
func (sc *SessionController) StartInteractive(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.connected {
		return fmt.Errorf("session: not connected")
	}
	if sc.estop.Tripped() {
		return fault.New(fault.EmergencyStop, "cannot start session while emergency stop is tripped", nil)
	}
	if sc.loop != nil && sc.loop.State() == LoopRunning {
		return fmt.Errorf("session: interactive session already running")
	}

	var session *RecordingSession
	if sc.cfg.RecordingEnabled {
		s, err := sc.rec.Arm("interactive")
		if err != nil {
			return err
		}
		if err := sc.rec.Begin(s); err != nil {
			return err
		}
		session = s
	}

	loop := NewControlLoop(sc.arm, sc.tracker, sc.estop, sc.cfg.Safety,
		sc.cfg.Motion, sc.log, sc.metrics)
	loop.SetStartPose(sc.pose, sc.joints)
	loop.WithExitHandler(func(final LoopState, err error) {
		sc.finishInteractive(loop, session, final, err)
	})
	if err := loop.Start(ctx); err != nil {
		if session != nil {
			sc.rec.End(session)
		}
		return err
	}
	sc.loop = loop
	sc.session = session
	return nil
}

// finishInteractive runs once per loop, from the loop goroutine, after the
// stop command has been issued. It closes the recording bracket and writes
// the sync manifest.
func (sc *SessionController) finishInteractive(loop *ControlLoop, session *RecordingSession, final LoopState, err error) {
	if session != nil {
		if _, endErr := sc.rec.End(session); endErr != nil {
			sc.log.Error("recording close failed", "session", session.ID, "error", endErr)
		}
		sc.writeManifest(session, loop.FirstCommandAt(), loop.LastCommandAt())
	}

	sc.mu.Lock()
	sc.pose = loop.CommandedPose()
	sc.mu.Unlock()

	if err != nil {
		sc.log.Warn("interactive session ended", "final", final.String(), "error", err)
	} else {
		sc.log.Info("interactive session ended", "final", final.String())
	}
}

// StopInteractive gracefully ends the interactive session: the loop issues
// its zero-velocity command, the exit handler closes the recording, and the
// call returns once both are done.
func (sc *SessionController) StopInteractive() {
	sc.mu.Lock()
	loop := sc.loop
	sc.mu.Unlock()
	if loop == nil {
		return
	}
	loop.Stop()
}

// EmergencyStop trips the process-wide latch and reacts immediately: the
// arm is halted and any open recording is flushed and closed. Idempotent;
// only the first trip counts.
func (sc *SessionController) EmergencyStop() {
	if !sc.estop.Trip() {
		return
	}
	sc.metrics.IncEmergencyStops()
	sc.log.Warn("emergency stop tripped")

	ctx, cancel := context.WithTimeout(context.Background(), sc.cfg.Motion.StopTimeout)
	defer cancel()
	if err := sc.arm.Stop(ctx); err != nil {
		sc.log.Error("emergency halt command failed", "error", err)
	}

	sc.mu.Lock()
	session := sc.session
	sc.mu.Unlock()
	if session != nil && !session.Closed() {
		if _, err := sc.rec.End(session); err != nil {
			sc.log.Error("recording close failed after emergency stop", "session", session.ID, "error", err)
		}
	}
}

// ResetEmergency clears the latch after an emergency stop, but only once
// the hardware is verifiably quiescent: the arm must report no motion and
// any recording session must be closed.
func (sc *SessionController) ResetEmergency(ctx context.Context) error {
	if !sc.estop.Tripped() {
		return nil
	}

	moving, err := sc.arm.Moving(ctx)
	if err != nil {
		return fault.Wrap(fault.TransportFault, err, "cannot confirm arm state for reset")
	}
	if moving {
		return fault.New(fault.EmergencyStop, "refusing reset: arm still in motion", nil)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.session != nil && !sc.session.Closed() {
		return fault.New(fault.EmergencyStop, "refusing reset: recording session still open", nil)
	}
	if sc.loop != nil && sc.loop.State() == LoopRunning {
		return fault.New(fault.EmergencyStop, "refusing reset: control loop still running", nil)
	}

	sc.estop.reset()
	sc.log.Info("emergency stop reset")
	return nil
}

// RunScript executes a preset motion sequence with recording bracketing it:
// acquisition is active before the first step and stopped after the last.
// Steps run to completion (wait semantics) and the emergency stop is
// observed between steps. The commanded pose advances with each completed
// step, so a later script or interactive session continues from where this
// one ended.
func (sc *SessionController) RunScript(ctx context.Context, script Script) error {
	sc.mu.Lock()
	if !sc.connected {
		sc.mu.Unlock()
		return fmt.Errorf("session: not connected")
	}
	if sc.loop != nil && sc.loop.State() == LoopRunning {
		sc.mu.Unlock()
		return fmt.Errorf("session: interactive session running, stop it first")
	}
	if sc.estop.Tripped() {
		sc.mu.Unlock()
		return fault.New(fault.EmergencyStop, "cannot run script while emergency stop is tripped", nil)
	}
	sc.mu.Unlock()

	var session *RecordingSession
	if sc.cfg.RecordingEnabled {
		s, err := sc.rec.Arm(script.Name)
		if err != nil {
			return err
		}
		if err := sc.rec.Begin(s); err != nil {
			return err
		}
		session = s
		sc.mu.Lock()
		sc.session = s
		sc.mu.Unlock()
	}

	firstCmd, lastCmd, runErr := sc.runSteps(ctx, script)

	if session != nil {
		if _, err := sc.rec.End(session); err != nil && runErr == nil {
			runErr = err
		}
		sc.writeManifest(session, firstCmd, lastCmd)
	}
	if runErr == nil {
		sc.mu.Lock()
		cp := script
		sc.lastRun = &cp
		sc.mu.Unlock()
		sc.log.Info("script completed", "script", script.Name, "steps", len(script.Steps))
	}
	return runErr
}

// runSteps executes the script body and returns the motion interval
// timestamps for the manifest.
func (sc *SessionController) runSteps(ctx context.Context, script Script) (first, last time.Time, err error) {
	for i, step := range script.Steps {
		if sc.estop.Tripped() {
			stopCtx, cancel := context.WithTimeout(context.Background(), sc.cfg.Motion.StopTimeout)
			sc.arm.Stop(stopCtx)
			cancel()
			return first, last, fault.New(fault.EmergencyStop, "script aborted by emergency stop",
				fault.Context{"script": script.Name, "step": i})
		}
		if ctx.Err() != nil {
			return first, last, ctx.Err()
		}

		rm, rerr := Resolve(step)
		if rerr != nil {
			return first, last, rerr
		}

		sc.mu.Lock()
		from := sc.pose
		joints := sc.joints
		sc.mu.Unlock()

		if cerr := sc.cfg.Safety.Check(rm, from, joints); cerr != nil {
			return first, last, cerr
		}

		now := time.Now()
		if first.IsZero() {
			first = now
		}
		if merr := sc.execStep(ctx, rm, from, joints); merr != nil {
			return first, last, merr
		}
		last = time.Now()
	}
	return first, last, nil
}

// execStep issues one resolved step to the arm and advances the commanded
// trajectory on success.
func (sc *SessionController) execStep(ctx context.Context, rm ResolvedMotion, from Pose, joints [JointCount]float64) error {
	switch rm.Kind {
	case MotionLinear, MotionRotational:
		target := from.Add(rm.Delta)
		if err := sc.arm.MoveCartesian(ctx, target.Array(), rm.Speed, rm.Wait); err != nil {
			return fault.Wrap(fault.TransportFault, err, "scripted move failed")
		}
		sc.mu.Lock()
		sc.pose = target
		sc.mu.Unlock()
		return nil

	case MotionCircular:
		// Waypoints are deltas from the circle center; the arm visits each
		// in turn and the polyline returns to the start on its own.
		for _, wp := range rm.Waypoints {
			if sc.estop.Tripped() {
				return fault.New(fault.EmergencyStop, "circular motion aborted by emergency stop", nil)
			}
			target := from.Add(wp)
			if err := sc.arm.MoveCartesian(ctx, target.Array(), rm.Speed, true); err != nil {
				return fault.Wrap(fault.TransportFault, err, "circular waypoint failed")
			}
			sc.mu.Lock()
			sc.pose = target
			sc.mu.Unlock()
		}
		return nil

	case MotionJoint:
		var target [JointCount]float64
		for i := range target {
			target[i] = joints[i] + rm.Joints[i]
		}
		if err := sc.arm.MoveJoints(ctx, target, rm.Speed, rm.Wait); err != nil {
			return fault.Wrap(fault.TransportFault, err, "scripted joint move failed")
		}
		sc.mu.Lock()
		sc.joints = target
		sc.mu.Unlock()
		return nil

	default:
		return fault.New(fault.InvalidParameter, "unknown motion kind",
			fault.Context{"field": "kind", "value": int(rm.Kind)})
	}
}

// RepeatLast reruns the most recently completed script.
func (sc *SessionController) RepeatLast(ctx context.Context) error {
	sc.mu.Lock()
	last := sc.lastRun
	sc.mu.Unlock()
	if last == nil {
		return fault.New(fault.InvalidParameter, "no script has completed yet", nil)
	}
	return sc.RunScript(ctx, *last)
}

// ReturnToStart moves the arm back to the pose captured at connect, waiting
// for completion.
func (sc *SessionController) ReturnToStart(ctx context.Context) error {
	sc.mu.Lock()
	target := sc.startPose
	sc.mu.Unlock()
	if sc.estop.Tripped() {
		return fault.New(fault.EmergencyStop, "cannot move while emergency stop is tripped", nil)
	}
	if err := sc.arm.MoveCartesian(ctx, target.Array(), sc.cfg.Motion.LinearSpeed, true); err != nil {
		return fault.Wrap(fault.TransportFault, err, "return to start failed")
	}
	sc.mu.Lock()
	sc.pose = target
	sc.mu.Unlock()
	return nil
}

// writeManifest persists the timestamp sync record into the session
// directory. A manifest failure is logged, never escalated; the recorded
// data is already safe on disk.
func (sc *SessionController) writeManifest(s *RecordingSession, first, last time.Time) {
	m := SyncManifest{
		SessionID:      s.ID,
		RecordingBegin: s.BeginAt,
		RecordingEnd:   s.EndTime,
		FirstCommandAt: first,
		LastCommandAt:  last,
		SampleCount:    s.SampleCount,
		DeviceCount:    s.DeviceCount,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		sc.log.Error("manifest encode failed", "session", s.ID, "error", err)
		return
	}
	path := fmt.Sprintf("%s/sync_manifest.json", s.SessionDir())
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		sc.log.Error("manifest write failed", "session", s.ID, "error", err)
	}
}

// Status reports a point-in-time snapshot for the status surface.
func (sc *SessionController) Status() SessionStatus {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st := SessionStatus{
		Connected:        sc.connected,
		LoopState:        LoopIdle.String(),
		EmergencyTripped: sc.estop.Tripped(),
		CommandedPose:    sc.pose,
	}
	if st.EmergencyTripped {
		st.EmergencyAt = sc.estop.TrippedAt()
	}
	if sc.loop != nil {
		st.LoopState = sc.loop.State().String()
	}
	if sc.session != nil && !sc.session.Closed() {
		st.Recording = true
		st.SessionID = sc.session.ID
	}
	return st
}

// Close shuts the session down: stops any running loop, closes any open
// recording, and tears down both links.
func (sc *SessionController) Close() error {
	sc.StopInteractive()

	sc.mu.Lock()
	session := sc.session
	sc.mu.Unlock()
	if session != nil && !session.Closed() {
		sc.rec.End(session)
	}

	var first error
	if err := sc.cam.Close(); err != nil && first == nil {
		first = err
	}
	if err := sc.arm.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
