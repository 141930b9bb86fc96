package detectors

import (
	"time"

	"somnoalert/internal/landmarks"
	"somnoalert/internal/models"
	"somnoalert/internal/services/geometry"
)

type YawnParams struct {
	Hold   time.Duration
	Window time.Duration
}

func DefaultYawnParams() YawnParams {
	return YawnParams{Hold: 4 * time.Second, Window: 180 * time.Second}
}

type yawnState struct {
	open   hold
	window window
	yawns  []time.Duration
}

// Yawn emits yawn when the mouth closes after staying open longer than the
// hold threshold.
type Yawn struct {
	params YawnParams
	state  yawnState
}

func NewYawn(p YawnParams) *Yawn {
	return &Yawn{params: p, state: yawnState{window: window{length: p.Window}}}
}

func (y *Yawn) Name() string { return NameYawn }

func (y *Yawn) Ready(f *landmarks.Frame) bool { return f != nil && f.Mouth != nil }

func (y *Yawn) Update(now time.Time, f *landmarks.Frame) []models.Event {
	s := y.state
	s.window = s.window.begin(now)
	var events []models.Event

	next, length, ended := s.open.step(now, geometry.MouthOpen(*f.Mouth))
	s.open = next
	if ended && length > y.params.Hold {
		events = append(events, timedEvent(models.EventYawn, now, length))
		s.yawns = extend(s.yawns, length)
	}

	if s.window.due(now) {
		events = append(events, s.window.report(now, NameYawn,
			map[string]interface{}{"yawns": len(s.yawns)},
			map[string]interface{}{"yawns": seconds(s.yawns)},
		))
		s.yawns = nil
		s.window.start = now
	}

	y.state = s
	return events
}
