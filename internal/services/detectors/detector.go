// Package detectors holds the per-signal state machines that turn a boolean
// "condition active" predicate into timed events and periodic window
// reports.
//
// Detectors never share state. Each one copies its state at the top of
// Update and writes it back only on return, so a panic mid-update leaves the
// previous state in place.
package detectors

import (
	"time"

	"somnoalert/internal/landmarks"
	"somnoalert/internal/models"
)

// Detector names, also used as the report_window "detector" field.
const (
	NameBlink  = "blink"
	NameYawn   = "yawn"
	NameEyeRub = "eye_rub"
	NamePitch  = "pitch"
)

// Detector is one independent signal state machine.
type Detector interface {
	Name() string
	// Ready reports whether the frame has the regions Update needs.
	Ready(f *landmarks.Frame) bool
	Update(now time.Time, f *landmarks.Frame) []models.Event
}

// hold tracks how long a condition has been continuously true.
type hold struct {
	active bool
	since  time.Time
}

// step advances the tracker. On a true-to-false edge it returns the length
// of the interval that just ended and ended=true.
func (h hold) step(now time.Time, on bool) (next hold, length time.Duration, ended bool) {
	switch {
	case on && !h.active:
		return hold{active: true, since: now}, 0, false
	case !on && h.active:
		return hold{}, now.Sub(h.since), true
	}
	return h, 0, false
}

// window is a fixed-length report period that starts on the first update.
type window struct {
	length time.Duration
	start  time.Time
}

func (w window) begin(now time.Time) window {
	if w.start.IsZero() {
		w.start = now
	}
	return w
}

func (w window) due(now time.Time) bool {
	return !w.start.IsZero() && now.Sub(w.start) >= w.length
}

// report builds a report_window event for detector name.
func (w window) report(now time.Time, name string, counts, durations map[string]interface{}) models.Event {
	secs := w.length.Seconds()
	return models.Event{
		Type:      models.EventReportWindow,
		Timestamp: now,
		Detector:  name,
		WindowS:   &secs,
		Counts:    counts,
		Durations: durations,
	}
}

func timedEvent(kind string, now time.Time, d time.Duration) models.Event {
	return models.Event{Type: kind, Timestamp: now, Duration: models.Seconds(d)}
}

func seconds(ds []time.Duration) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = models.Round2(d.Seconds())
	}
	return out
}

// extend appends d to a fresh copy of ds so the caller's committed state
// keeps its own backing array.
func extend(ds []time.Duration, d time.Duration) []time.Duration {
	out := make([]time.Duration, len(ds), len(ds)+1)
	copy(out, ds)
	return append(out, d)
}
