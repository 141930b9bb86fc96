// Package stats keeps process-wide runtime counters for the health endpoint.
package stats

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	frames          atomic.Int64
	noFaceFrames    atomic.Int64
	captureFailures atomic.Int64
	extractErrors   atomic.Int64
	renegotiations  atomic.Int64
	detectorFaults  atomic.Int64
	events          atomic.Int64
	dropped         atomic.Int64
	storageDrops    atomic.Int64
	subscribers     atomic.Int32
	lastFrameTime   atomic.Int64
	alarm           atomic.Bool
	stage           atomic.Value
}

func NewMetrics() *Metrics {
	m := &Metrics{}
	m.stage.Store("normal")
	return m
}

func (m *Metrics) IncrementFrames(at time.Time) {
	m.frames.Add(1)
	m.lastFrameTime.Store(at.Unix())
}

func (m *Metrics) IncrementNoFace() {
	m.noFaceFrames.Add(1)
}

func (m *Metrics) IncrementCaptureFailures() {
	m.captureFailures.Add(1)
}

func (m *Metrics) IncrementExtractErrors() {
	m.extractErrors.Add(1)
}

func (m *Metrics) IncrementRenegotiations() {
	m.renegotiations.Add(1)
}

func (m *Metrics) IncrementDetectorFaults() {
	m.detectorFaults.Add(1)
}

func (m *Metrics) AddEvents(n int) {
	m.events.Add(int64(n))
}

// IncrementDropped counts subscribers removed after a failed send.
func (m *Metrics) IncrementDropped() {
	m.dropped.Add(1)
}

// AddStorageDrops counts records the storage buffer discarded.
func (m *Metrics) AddStorageDrops(n int) {
	m.storageDrops.Add(int64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Store(int32(n))
}

// SetState records the latest stage and alarm decision.
func (m *Metrics) SetState(stage string, alarm bool) {
	m.stage.Store(stage)
	m.alarm.Store(alarm)
}

func (m *Metrics) GetTotalFrames() int64 {
	return m.frames.Load()
}

func (m *Metrics) GetDetectorFaults() int64 {
	return m.detectorFaults.Load()
}

func (m *Metrics) GetRenegotiations() int64 {
	return m.renegotiations.Load()
}

func (m *Metrics) GetDropped() int64 {
	return m.dropped.Load()
}

// Snapshot returns every counter for JSON output.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"frames":           m.frames.Load(),
		"no_face_frames":   m.noFaceFrames.Load(),
		"capture_failures": m.captureFailures.Load(),
		"extract_errors":   m.extractErrors.Load(),
		"renegotiations":   m.renegotiations.Load(),
		"detector_faults":  m.detectorFaults.Load(),
		"events":           m.events.Load(),
		"dropped_clients":  m.dropped.Load(),
		"storage_drops":    m.storageDrops.Load(),
		"subscribers":      m.subscribers.Load(),
		"last_frame_time":  m.lastFrameTime.Load(),
		"stage":            m.stage.Load(),
		"alarm":            m.alarm.Load(),
	}
}
