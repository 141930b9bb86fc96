package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementFrames(time.Unix(100, 0))
			m.IncrementDetectorFaults()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.GetTotalFrames())
	assert.Equal(t, int64(50), m.GetDetectorFaults())
}

func TestSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncrementFrames(time.Unix(1700000000, 0))
	m.AddEvents(3)
	m.SetSubscribers(2)
	m.SetState("drowsy", true)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap["frames"])
	assert.Equal(t, int64(3), snap["events"])
	assert.Equal(t, int32(2), snap["subscribers"])
	assert.Equal(t, int64(1700000000), snap["last_frame_time"])
	assert.Equal(t, "drowsy", snap["stage"])
	assert.Equal(t, true, snap["alarm"])
}
