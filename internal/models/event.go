package models

import (
	"encoding/json"
	"math"
	"time"
)

// Event types emitted by the detectors.
const (
	EventEyeBlink     = "eye_blink"
	EventMicroSleep   = "micro_sleep"
	EventYawn         = "yawn"
	EventEyeRub       = "eye_rub"
	EventPitchDown    = "pitch_down"
	EventReportWindow = "report_window"
	EventFrameOverlay = "frame_overlay"
)

// Event is a discrete detector output. Optional fields stay zero/nil when
// they do not apply to the event type.
type Event struct {
	Type        string                 `json:"type"`
	Timestamp   time.Time              `json:"-"`
	Detector    string                 `json:"detector,omitempty"`
	Duration    *float64               `json:"duration_s,omitempty"`
	Hand        string                 `json:"hand,omitempty"`
	WindowS     *float64               `json:"window_s,omitempty"`
	Counts      map[string]interface{} `json:"counts,omitempty"`
	Durations   map[string]interface{} `json:"durations,omitempty"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
}

// MarshalJSON writes the timestamp as unix seconds and rounds the duration
// to centiseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	var dur *float64
	if e.Duration != nil {
		d := Round2(*e.Duration)
		dur = &d
	}
	return json.Marshal(&struct {
		TS       float64  `json:"ts"`
		Duration *float64 `json:"duration_s,omitempty"`
		Alias
	}{
		TS:       UnixSeconds(e.Timestamp),
		Duration: dur,
		Alias:    (Alias)(e),
	})
}

// IsWindowReport reports whether e is a periodic window aggregate.
func (e Event) IsWindowReport() bool {
	return e.Type == EventReportWindow
}

// Seconds returns d as float seconds in a pointer, for Event.Duration.
func Seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Round2 rounds v to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundAll rounds each value to two decimals. Never returns nil.
func RoundAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = Round2(v)
	}
	return out
}
