package evacam

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bin1119/EVA-CAM/alpcam"
	"github.com/Bin1119/EVA-CAM/fault"
	"github.com/Bin1119/EVA-CAM/storage"
)

// CameraLink is the acquisition interface to the external camera transport.
// The recorder context is its sole owner.
type CameraLink interface {
	Open(mode, apsSubmode, evsSubmode string) error
	StartAcquisition() error
	// Samples returns the channel for the current acquisition interval;
	// it is closed when acquisition stops.
	Samples() <-chan alpcam.Sample
	// StopAcquisition halts streaming and returns the device-side count.
	StopAcquisition() (int, error)
	Close() error
}

// RecordingSession is one armed acquisition interval. It is owned
// exclusively by the recorder; the storage handle is never shared.
type RecordingSession struct {
	ID        string
	StartTime time.Time // when the session was armed
	BeginAt   time.Time // acquisition confirmed active
	EndTime   time.Time // zero until closed

	SampleCount int // samples persisted by the recorder
	DeviceCount int // samples counted by the device

	writer   storage.Writer
	dir      string
	lastAPS  *alpcam.Sample
	consumed chan struct{}
	began    bool
	closed   atomic.Bool
}

// Closed reports whether the session has ended.
func (s *RecordingSession) Closed() bool {
	return s.closed.Load()
}

// RecorderConfig selects the storage format and buffering policy.
type RecorderConfig struct {
	OutputDir string
	Format    storage.Format
	// BatchSize bounds memory growth during long sessions: the buffer is
	// flushed whenever it reaches this many samples.
	BatchSize int
	// Preview writes a PNG thumbnail of the session's last APS frame.
	Preview bool
}

// Recorder owns the acquisition lifecycle and guarantees it brackets the
// motion lifecycle it is paired with. Samples are buffered in memory and
// flushed to persisted storage at a bounded batch size or on End, whichever
// comes first.
type Recorder struct {
	cam     CameraLink
	estop   HaltReader
	cfg     RecorderConfig
	log     *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	buf     []alpcam.Sample
	current *RecordingSession

	// endMu serializes End: the emergency path and the loop exit handler
	// may both try to close the same session.
	endMu sync.Mutex
}

// NewRecorder wires a recorder over the camera link.
func NewRecorder(cam CameraLink, estop HaltReader, cfg RecorderConfig,
	log *slog.Logger, metrics *Metrics) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Recorder{cam: cam, estop: estop, cfg: cfg, log: log, metrics: metrics}
}

// Arm creates a recording session and its storage writer. The session
// directory carries the start time. Arm does not touch the camera; call
// Begin to start acquisition.
func (r *Recorder) Arm(name string) (*RecordingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && !r.current.closed.Load() {
		return nil, fmt.Errorf("recorder: session %s still open", r.current.ID)
	}

	start := time.Now()
	id := fmt.Sprintf("%s_%s", name, storage.Stamp(start))
	dir := fmt.Sprintf("%s/%s", r.cfg.OutputDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create session dir: %w", err)
	}
	w, err := storage.New(r.cfg.Format, dir, start)
	if err != nil {
		return nil, err
	}

	s := &RecordingSession{
		ID:        id,
		StartTime: start,
		writer:    w,
		dir:       dir,
		consumed:  make(chan struct{}),
	}
	r.current = s
	r.buf = r.buf[:0]
	r.log.Info("recording session armed", "session", id, "format", string(r.cfg.Format))
	return s, nil
}

// Begin starts acquisition for an armed session. It returns only after the
// camera confirms the stream is active, so callers can rely on
// begin-happens-before-motion ordering.
func (r *Recorder) Begin(s *RecordingSession) error {
	if err := r.cam.StartAcquisition(); err != nil {
		return fault.Wrap(fault.TransportFault, err, "camera failed to start acquisition")
	}
	s.BeginAt = time.Now()
	s.began = true
	go r.consume(s, r.cam.Samples())
	r.log.Info("acquisition active", "session", s.ID)
	return nil
}

// consume is the recorder context: it appends incoming samples to the
// buffer and flushes at the batch bound. An emergency stop is observed
// before the next flush; the consumer drains and flushes what it has rather
// than discarding it.
func (r *Recorder) consume(s *RecordingSession, samples <-chan alpcam.Sample) {
	defer close(s.consumed)
	for sample := range samples {
		r.mu.Lock()
		r.buf = append(r.buf, sample)
		if sample.Channel == alpcam.ChannelAPS {
			cp := sample
			s.lastAPS = &cp
		}
		depth := len(r.buf)
		r.metrics.SetBuffered(depth)
		var flushErr error
		if depth >= r.cfg.BatchSize || r.estop.Tripped() {
			flushErr = r.flushLocked(s)
		}
		r.mu.Unlock()
		if flushErr != nil {
			r.log.Error("flush failed", "session", s.ID, "error", flushErr)
		}
	}
}

// flushLocked writes the buffer to storage. Callers hold r.mu.
func (r *Recorder) flushLocked(s *RecordingSession) error {
	if len(r.buf) == 0 {
		return nil
	}
	if err := s.writer.Append(r.buf); err != nil {
		return err
	}
	s.SampleCount += len(r.buf)
	r.metrics.AddFlushed(len(r.buf))
	r.buf = r.buf[:0]
	r.metrics.SetBuffered(0)
	return nil
}

// End stops acquisition, drains the consumer, flushes every buffered sample,
// and closes the session. Partial data is always persisted, never discarded.
// End is idempotent; repeated calls return the final count.
func (r *Recorder) End(s *RecordingSession) (int, error) {
	r.endMu.Lock()
	defer r.endMu.Unlock()

	r.mu.Lock()
	if s.closed.Load() {
		count := s.SampleCount
		r.mu.Unlock()
		return count, nil
	}
	began := s.began
	r.mu.Unlock()

	var deviceCount int
	var stopErr error
	if began {
		deviceCount, stopErr = r.cam.StopAcquisition()

		// The device closes the sample channel on stop; wait for the
		// consumer to hand over everything it received.
		select {
		case <-s.consumed:
		case <-time.After(5 * time.Second):
			r.log.Error("consumer did not drain in time", "session", s.ID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	flushErr := r.flushLocked(s)
	written, closeErr := s.writer.Close()
	s.SampleCount = written
	s.DeviceCount = deviceCount
	s.EndTime = time.Now()
	s.closed.Store(true)

	if r.cfg.Preview && s.lastAPS != nil {
		path := fmt.Sprintf("%s/preview.png", s.dir)
		if err := WritePreview(path, *s.lastAPS); err != nil {
			r.log.Warn("preview not written", "session", s.ID, "error", err)
		}
	}

	r.log.Info("recording session closed",
		"session", s.ID,
		"samples", s.SampleCount,
		"device_samples", s.DeviceCount,
		"duration", s.EndTime.Sub(s.BeginAt),
	)

	for _, err := range []error{stopErr, flushErr, closeErr} {
		if err != nil {
			return s.SampleCount, fault.Wrap(fault.TransportFault, err, "session close incomplete")
		}
	}
	return s.SampleCount, nil
}

// SessionDir returns the directory holding a session's artifacts.
func (s *RecordingSession) SessionDir() string {
	return s.dir
}
