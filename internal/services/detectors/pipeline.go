package detectors

import (
	"fmt"
	"time"

	"somnoalert/internal/landmarks"
	"somnoalert/internal/logger"
	"somnoalert/internal/models"
)

// Params bundles every detector's parameters.
type Params struct {
	Blink  BlinkParams
	Yawn   YawnParams
	EyeRub EyeRubParams
	Pitch  PitchParams
}

func DefaultParams() Params {
	return Params{
		Blink:  DefaultBlinkParams(),
		Yawn:   DefaultYawnParams(),
		EyeRub: DefaultEyeRubParams(),
		Pitch:  DefaultPitchParams(),
	}
}

// Pipeline runs detectors in registration order and concatenates their
// events. A detector that panics is skipped for that frame only.
type Pipeline struct {
	detectors []Detector
	logger    *logger.Logger
	onFault   func(name string)
}

// NewPipeline registers the four standard detectors: blink, yawn, eye-rub
// and pitch.
func NewPipeline(p Params, log *logger.Logger) *Pipeline {
	return NewPipelineWith(log, NewBlink(p.Blink), NewYawn(p.Yawn), NewEyeRub(p.EyeRub), NewPitch(p.Pitch))
}

// NewPipelineWith builds a pipeline over an explicit detector list.
func NewPipelineWith(log *logger.Logger, detectors ...Detector) *Pipeline {
	return &Pipeline{detectors: detectors, logger: log}
}

// OnFault registers a callback invoked with the detector name after a
// recovered panic.
func (p *Pipeline) OnFault(fn func(name string)) {
	p.onFault = fn
}

// Names lists the registered detectors in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.detectors))
	for i, d := range p.detectors {
		names[i] = d.Name()
	}
	return names
}

// Step feeds one frame to every ready detector.
func (p *Pipeline) Step(now time.Time, f *landmarks.Frame) []models.Event {
	var events []models.Event
	for _, d := range p.detectors {
		if !d.Ready(f) {
			continue
		}
		out, err := p.update(d, now, f)
		if err != nil {
			p.logger.Error("Detector %s failed: %v", d.Name(), err)
			if p.onFault != nil {
				p.onFault(d.Name())
			}
			continue
		}
		events = append(events, out...)
	}
	return events
}

func (p *Pipeline) update(d Detector, now time.Time, f *landmarks.Frame) (events []models.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			events, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Update(now, f), nil
}
