package detectors

import (
	"time"

	"somnoalert/internal/landmarks"
	"somnoalert/internal/models"
	"somnoalert/internal/services/geometry"
)

// BlinkParams configures the blink/microsleep detector.
type BlinkParams struct {
	Microsleep   time.Duration
	Window       time.Duration
	ClosedPixels float64
}

// DefaultBlinkParams are 2s microsleeps, a 60s window and a 4px eyelid gap.
func DefaultBlinkParams() BlinkParams {
	return BlinkParams{Microsleep: 2 * time.Second, Window: 60 * time.Second, ClosedPixels: 4}
}

type blinkState struct {
	closed      hold
	window      window
	flickers    int
	microsleeps []time.Duration
}

// Blink emits eye_blink on every closed-to-open transition of both eyes and
// micro_sleep when the closure lasted at least the microsleep threshold.
type Blink struct {
	params BlinkParams
	state  blinkState
}

func NewBlink(p BlinkParams) *Blink {
	return &Blink{params: p, state: blinkState{window: window{length: p.Window}}}
}

func (b *Blink) Name() string { return NameBlink }

func (b *Blink) Ready(f *landmarks.Frame) bool { return f != nil && f.Eyes != nil }

func (b *Blink) Update(now time.Time, f *landmarks.Frame) []models.Event {
	s := b.state
	s.window = s.window.begin(now)
	var events []models.Event

	closed := geometry.BothEyesClosed(*f.Eyes, b.params.ClosedPixels)
	next, length, ended := s.closed.step(now, closed)
	s.closed = next
	if ended {
		events = append(events, models.Event{Type: models.EventEyeBlink, Timestamp: now})
		s.flickers++
		if length >= b.params.Microsleep {
			events = append(events, timedEvent(models.EventMicroSleep, now, length))
			s.microsleeps = extend(s.microsleeps, length)
		}
	}

	if s.window.due(now) {
		events = append(events, s.window.report(now, NameBlink,
			map[string]interface{}{"flickers": s.flickers, "microsleeps": len(s.microsleeps)},
			map[string]interface{}{"microsleeps": seconds(s.microsleeps)},
		))
		s.flickers, s.microsleeps = 0, nil
		s.window.start = now
	}

	b.state = s
	return events
}
