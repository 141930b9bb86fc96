package detectors

import (
	"math"
	"time"

	"somnoalert/internal/landmarks"
	"somnoalert/internal/models"
	"somnoalert/internal/services/geometry"
)

type PitchParams struct {
	Hold   time.Duration
	Window time.Duration
	Ratio  float64
}

func DefaultPitchParams() PitchParams {
	return PitchParams{Hold: 3 * time.Second, Window: 180 * time.Second, Ratio: 1.0}
}

type pitchState struct {
	down      hold
	window    window
	durations []time.Duration
}

// Pitch emits pitch_down when the head comes back up after being down
// longer than the hold threshold, plus a frame_overlay with the raw ratio
// on every update.
type Pitch struct {
	params PitchParams
	state  pitchState
}

func NewPitch(p PitchParams) *Pitch {
	return &Pitch{params: p, state: pitchState{window: window{length: p.Window}}}
}

func (p *Pitch) Name() string { return NamePitch }

func (p *Pitch) Ready(f *landmarks.Frame) bool {
	return f != nil && f.Head != nil && f.Mouth != nil
}

func (p *Pitch) Update(now time.Time, f *landmarks.Frame) []models.Event {
	s := p.state
	s.window = s.window.begin(now)
	var events []models.Event

	head, mouth := *f.Head, *f.Mouth
	down := geometry.HeadDown(head, mouth, p.params.Ratio)
	next, length, ended := s.down.step(now, down)
	s.down = next
	if ended && length > p.params.Hold {
		events = append(events, timedEvent(models.EventPitchDown, now, length))
		s.durations = extend(s.durations, length)
	}

	if s.window.due(now) {
		events = append(events, s.window.report(now, NamePitch,
			map[string]interface{}{"pitch_down": len(s.durations)},
			map[string]interface{}{"pitch_down": seconds(s.durations)},
		))
		s.durations = nil
		s.window.start = now
	}

	events = append(events, models.Event{
		Type:      models.EventFrameOverlay,
		Timestamp: now,
		Detector:  NamePitch,
		Annotations: map[string]interface{}{
			"pitch_ratio":         math.Round(geometry.PitchRatio(head, mouth)*1000) / 1000,
			"nose_between_cheeks": geometry.NoseBetweenCheeks(head),
		},
	})

	p.state = s
	return events
}
