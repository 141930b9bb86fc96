package detectors

import (
	"time"

	"somnoalert/internal/landmarks"
	"somnoalert/internal/models"
	"somnoalert/internal/services/geometry"
)

// Eye sides as reported in the eye_rub "hand" field.
const (
	SideLeft  = "left"
	SideRight = "right"
)

type EyeRubParams struct {
	Distance float64 // pixels
	Hold     time.Duration
	Window   time.Duration
}

func DefaultEyeRubParams() EyeRubParams {
	return EyeRubParams{Distance: 40, Hold: time.Second, Window: 300 * time.Second}
}

type sideState struct {
	touch     hold
	durations []time.Duration
}

type eyeRubState struct {
	left, right sideState
	window      window
}

// EyeRub tracks a fingertip near each eye independently and emits eye_rub
// when a touch longer than the hold threshold is released. Frames without
// hands count as released.
type EyeRub struct {
	params EyeRubParams
	state  eyeRubState
}

func NewEyeRub(p EyeRubParams) *EyeRub {
	return &EyeRub{params: p, state: eyeRubState{window: window{length: p.Window}}}
}

func (r *EyeRub) Name() string { return NameEyeRub }

func (r *EyeRub) Ready(f *landmarks.Frame) bool { return f != nil && f.Eyes != nil }

func (r *EyeRub) Update(now time.Time, f *landmarks.Frame) []models.Event {
	s := r.state
	s.window = s.window.begin(now)
	var events []models.Event

	sides := []struct {
		name  string
		eye   landmarks.Eye
		state *sideState
	}{
		{SideLeft, f.Eyes.Left, &s.left},
		{SideRight, f.Eyes.Right, &s.right},
	}
	for _, side := range sides {
		touching := geometry.MinTipDistance(side.eye.Iris, f.Hands) < r.params.Distance
		next, length, ended := side.state.touch.step(now, touching)
		side.state.touch = next
		if ended && length > r.params.Hold {
			ev := timedEvent(models.EventEyeRub, now, length)
			ev.Hand = side.name
			events = append(events, ev)
			side.state.durations = extend(side.state.durations, length)
		}
	}

	if s.window.due(now) {
		events = append(events, s.window.report(now, NameEyeRub,
			map[string]interface{}{"eye_rub": map[string]int{
				SideLeft:  len(s.left.durations),
				SideRight: len(s.right.durations),
			}},
			map[string]interface{}{"eye_rub": map[string][]float64{
				SideLeft:  seconds(s.left.durations),
				SideRight: seconds(s.right.durations),
			}},
		))
		s.left.durations, s.right.durations = nil, nil
		s.window.start = now
	}

	r.state = s
	return events
}
