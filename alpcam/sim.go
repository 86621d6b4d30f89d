package alpcam

import (
	"fmt"
	"sync"
	"time"
)

// Sim is an in-process stand-in for the acquisition box. It implements the
// same surface as Device and is used by tests and by dry-run sessions where
// no hardware is attached.
//
// Samples are produced either by calling Emit directly (deterministic tests)
// or by an internal generator ticking at a fixed interval (dry runs).
type Sim struct {
	interval time.Duration

	mu        sync.Mutex
	opened    bool
	acquiring bool
	samples   chan Sample
	count     int
	stopGen   chan struct{}
	exposure  time.Duration
	fps       float64
}

// NewSim creates a simulated device. When interval is positive, acquisition
// generates alternating EVS/APS samples at that interval; when zero, samples
// come only from Emit.
func NewSim(interval time.Duration) *Sim {
	return &Sim{interval: interval}
}

// Open records the requested mode. The simulator accepts anything.
func (s *Sim) Open(mode, apsSubmode, evsSubmode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

// Tune records the requested exposure and frame rate.
func (s *Sim) Tune(exposure time.Duration, fps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return fmt.Errorf("sim camera: not opened")
	}
	if s.acquiring {
		return fmt.Errorf("sim camera: cannot tune while acquiring")
	}
	s.exposure = exposure
	s.fps = fps
	return nil
}

// StartAcquisition opens a fresh sample channel for the interval.
func (s *Sim) StartAcquisition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return fmt.Errorf("sim camera: not opened")
	}
	if s.acquiring {
		return fmt.Errorf("sim camera: acquisition already active")
	}
	s.samples = make(chan Sample, 256)
	s.count = 0
	s.acquiring = true
	if s.interval > 0 {
		s.stopGen = make(chan struct{})
		go s.generate(s.samples, s.stopGen)
	}
	return nil
}

// Samples returns the channel for the current acquisition interval.
func (s *Sim) Samples() <-chan Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Emit delivers a sample as if the sensor produced it. Samples emitted
// outside an acquisition interval, or when the consumer has fallen more than
// a full buffer behind, are dropped, matching hardware behavior.
func (s *Sim) Emit(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquiring {
		return
	}
	select {
	case s.samples <- sample:
		s.count++
	default:
	}
}

// StopAcquisition closes the sample channel and returns how many samples the
// interval produced.
func (s *Sim) StopAcquisition() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquiring {
		return 0, fmt.Errorf("sim camera: acquisition not active")
	}
	if s.stopGen != nil {
		close(s.stopGen)
		s.stopGen = nil
	}
	s.acquiring = false
	close(s.samples)
	return s.count, nil
}

// Close stops any active acquisition.
func (s *Sim) Close() error {
	s.mu.Lock()
	active := s.acquiring
	s.mu.Unlock()
	if active {
		_, _ = s.StopAcquisition()
	}
	return nil
}

// generate feeds synthetic samples until stopped. Every eighth sample is a
// small APS frame; the rest are EVS event words.
func (s *Sim) generate(ch chan Sample, stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample := Sample{
				Channel:   ChannelEVS,
				Timestamp: time.Now().UnixMicro(),
				Payload:   []byte{0x01, 0x02, 0x03, 0x04},
			}
			if n%8 == 7 {
				sample.Channel = ChannelAPS
				sample.Width = 8
				sample.Height = 8
				sample.Payload = make([]byte, 64)
			}
			n++
			s.Emit(sample)
		}
	}
}
