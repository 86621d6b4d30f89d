package evacam

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmergencyStop_TripOnce(t *testing.T) {
	e := NewEmergencyStop()
	assert.False(t, e.Tripped())
	assert.True(t, e.TrippedAt().IsZero())

	assert.True(t, e.Trip(), "first trip reports the transition")
	assert.False(t, e.Trip(), "repeat trips are no-ops")
	assert.True(t, e.Tripped())
	assert.False(t, e.TrippedAt().IsZero())
}

func TestEmergencyStop_TripTimeIsFirstTrip(t *testing.T) {
	e := NewEmergencyStop()
	e.Trip()
	first := e.TrippedAt()

	time.Sleep(5 * time.Millisecond)
	e.Trip()
	assert.Equal(t, first, e.TrippedAt())
}

func TestEmergencyStop_Reset(t *testing.T) {
	e := NewEmergencyStop()
	e.Trip()
	e.reset()

	assert.False(t, e.Tripped())
	assert.True(t, e.TrippedAt().IsZero())
	assert.True(t, e.Trip(), "latch is reusable after reset")
}

func TestEmergencyStop_ConcurrentTrips(t *testing.T) {
	e := NewEmergencyStop()

	const n = 32
	transitions := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transitions <- e.Trip()
		}()
	}
	wg.Wait()
	close(transitions)

	count := 0
	for tr := range transitions {
		if tr {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one goroutine wins the transition")
	assert.True(t, e.Tripped())
}
