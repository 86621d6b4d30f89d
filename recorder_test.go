package evacam

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bin1119/EVA-CAM/alpcam"
	"github.com/Bin1119/EVA-CAM/storage"
)

func newTestRecorder(t *testing.T, batch int, preview bool) (*Recorder, *alpcam.Sim) {
	t.Helper()
	sim := alpcam.NewSim(0)
	require.NoError(t, sim.Open("HVS", "NORMAL_V2", "NORMAL_V2"))
	cfg := RecorderConfig{
		OutputDir: t.TempDir(),
		Format:    storage.FormatBin,
		BatchSize: batch,
		Preview:   preview,
	}
	return NewRecorder(sim, NewEmergencyStop(), cfg, nil, nil), sim
}

func evsSample(ts int64) alpcam.Sample {
	return alpcam.Sample{
		Channel:   alpcam.ChannelEVS,
		Timestamp: ts,
		Payload:   []byte{1, 2, 3, 4},
	}
}

func apsSample(ts int64) alpcam.Sample {
	return alpcam.Sample{
		Channel:   alpcam.ChannelAPS,
		Timestamp: ts,
		Width:     8,
		Height:    8,
		Payload:   make([]byte, 64),
	}
}

func TestRecorder_PersistsEverySample(t *testing.T) {
	rec, sim := newTestRecorder(t, 512, false)

	s, err := rec.Arm("test")
	require.NoError(t, err)
	require.NoError(t, rec.Begin(s))
	assert.False(t, s.BeginAt.IsZero())

	const n = 37
	for i := 0; i < n; i++ {
		sim.Emit(evsSample(int64(i)))
	}

	count, err := rec.End(s)
	require.NoError(t, err)
	assert.Equal(t, n, count, "every sample between begin and end is persisted")
	assert.Equal(t, n, s.DeviceCount, "device count matches")
	assert.True(t, s.Closed())
	assert.False(t, s.EndTime.Before(s.BeginAt))
}

func TestRecorder_BatchFlushBoundsBuffer(t *testing.T) {
	rec, sim := newTestRecorder(t, 8, false)

	s, err := rec.Arm("batch")
	require.NoError(t, err)
	require.NoError(t, rec.Begin(s))

	// Three full batches plus a remainder; the remainder only lands on End.
	for i := 0; i < 27; i++ {
		sim.Emit(evsSample(int64(i)))
	}
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return s.SampleCount >= 24
	}, time.Second, time.Millisecond, "full batches flush before End")

	count, err := rec.End(s)
	require.NoError(t, err)
	assert.Equal(t, 27, count)
}

func TestRecorder_EndIsIdempotent(t *testing.T) {
	rec, sim := newTestRecorder(t, 512, false)

	s, err := rec.Arm("idem")
	require.NoError(t, err)
	require.NoError(t, rec.Begin(s))
	sim.Emit(evsSample(1))

	first, err := rec.End(s)
	require.NoError(t, err)
	again, err := rec.End(s)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestRecorder_RejectsOverlappingSessions(t *testing.T) {
	rec, _ := newTestRecorder(t, 512, false)

	s, err := rec.Arm("one")
	require.NoError(t, err)

	_, err = rec.Arm("two")
	assert.Error(t, err, "a second session while one is open is refused")

	_, err = rec.End(s)
	require.NoError(t, err)
	_, err = rec.Arm("two")
	assert.NoError(t, err, "a new session is fine once the first closed")
}

func TestRecorder_EndBeforeBegin(t *testing.T) {
	rec, _ := newTestRecorder(t, 512, false)

	s, err := rec.Arm("never-begun")
	require.NoError(t, err)

	count, err := rec.End(s)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, s.Closed())
}

func TestRecorder_WritesPreviewFromLastAPSFrame(t *testing.T) {
	rec, sim := newTestRecorder(t, 512, true)

	s, err := rec.Arm("preview")
	require.NoError(t, err)
	require.NoError(t, rec.Begin(s))

	sim.Emit(evsSample(1))
	sim.Emit(apsSample(2))

	_, err = rec.End(s)
	require.NoError(t, err)

	info, statErr := os.Stat(filepath.Join(s.SessionDir(), "preview.png"))
	require.NoError(t, statErr)
	assert.Positive(t, info.Size())
}

func TestRecorder_SessionDirCarriesName(t *testing.T) {
	rec, _ := newTestRecorder(t, 512, false)

	s, err := rec.Arm("sweep")
	require.NoError(t, err)
	defer rec.End(s)

	assert.Contains(t, filepath.Base(s.SessionDir()), "sweep_")
	info, statErr := os.Stat(s.SessionDir())
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}
