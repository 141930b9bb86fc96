package fusion

import (
	"fmt"
	"math"

	"somnoalert/internal/models"
	"somnoalert/internal/services/geometry"
	"somnoalert/internal/services/settings"
)

// ReasonNoFace is reported on frames where the extractor found no face.
const ReasonNoFace = "no face detected"

// DefaultNoFaceReset is how many consecutive faceless frames it takes to
// drop back to the normal stage.
const DefaultNoFaceReset = 30

// Result is the fusion output for one frame.
type Result struct {
	Scores       models.Scores
	FusedScore   float64
	Stage        Stage
	StageReasons []string
	Reasons      []string
	ClosedFrames int
	Alarm        bool
	FaceDetected bool
}

// Engine owns the closed-eye frame counter and the state carried across
// faceless frames. It is not safe for concurrent use; the processing loop
// is its only caller.
type Engine struct {
	closedFrames int
	fused        float64
	stage        Stage
	stageReasons []string
	noFaceFrames int
	noFaceReset  int
}

// NewEngine creates an engine that resets after noFaceReset faceless
// frames. A non-positive value never resets.
func NewEngine(noFaceReset int) *Engine {
	return &Engine{stage: StageNormal, stageReasons: []string{}, noFaceReset: noFaceReset}
}

func (e *Engine) ClosedFrames() int { return e.closedFrames }

func (e *Engine) Stage() Stage { return e.stage }

// Reset returns the engine to its initial state.
func (e *Engine) Reset() {
	e.closedFrames = 0
	e.fused = 0
	e.stage = StageNormal
	e.stageReasons = []string{}
	e.noFaceFrames = 0
}

// Step classifies one frame against the configuration snapshot cfg.
func (e *Engine) Step(s geometry.Sample, faceDetected bool, cfg settings.Configuration) Result {
	drowsy := cfg.Thresholds.Drowsy
	if !faceDetected {
		return e.noFace(drowsy)
	}
	e.noFaceFrames = 0

	if s.EAR != nil {
		if *s.EAR < drowsy.EAR {
			e.closedFrames++
		} else {
			e.closedFrames = 0
		}
	}

	scores := ComputeScores(s, drowsy)
	e.fused = Fuse(scores, cfg.Weights)
	e.stage, e.stageReasons = ResolveStage(Rules(cfg.Thresholds), Inputs{
		EAR:          s.EAR,
		MAR:          s.MAR,
		Pitch:        s.Pitch,
		Fused:        e.fused,
		ClosedFrames: e.closedFrames,
	})

	alarm, reasons := e.alarm(drowsy)
	return Result{
		Scores:       scores,
		FusedScore:   e.fused,
		Stage:        e.stage,
		StageReasons: e.stageReasons,
		Reasons:      reasons,
		ClosedFrames: e.closedFrames,
		Alarm:        alarm,
		FaceDetected: true,
	}
}

// noFace keeps the counter, fused score and stage of the last face frame
// until noFaceReset faceless frames have passed.
func (e *Engine) noFace(drowsy settings.Tier) Result {
	e.noFaceFrames++
	if e.noFaceReset > 0 && e.noFaceFrames >= e.noFaceReset {
		e.closedFrames = 0
		e.fused = 0
		e.stage = StageNormal
		e.stageReasons = []string{}
	}
	alarm, reasons := e.alarm(drowsy)
	return Result{
		FusedScore:   e.fused,
		Stage:        e.stage,
		StageReasons: e.stageReasons,
		Reasons:      append([]string{ReasonNoFace}, reasons...),
		ClosedFrames: e.closedFrames,
		Alarm:        alarm,
		FaceDetected: false,
	}
}

// alarm applies the stage rule together with the single-tier fallback on
// the drowsy fused score and closed-frame count.
func (e *Engine) alarm(drowsy settings.Tier) (bool, []string) {
	reasons := []string{}
	if e.stage == StageDrowsy {
		reasons = append(reasons, "stage drowsy")
	}
	if e.fused >= drowsy.Fusion {
		reasons = append(reasons, fmt.Sprintf("fused score %.2f >= %.2f", e.fused, drowsy.Fusion))
	}
	if e.closedFrames >= drowsy.ConsecFrames {
		reasons = append(reasons, fmt.Sprintf("eyes closed for %d frames", e.closedFrames))
	}
	return len(reasons) > 0, reasons
}

// ComputeScores normalizes each signal against the drowsy tier. A signal no
// worse than its threshold scores 0, rising linearly to 1. Absent signals
// score 0.
func ComputeScores(s geometry.Sample, drowsy settings.Tier) models.Scores {
	var sc models.Scores
	if s.EAR != nil {
		sc.EAR = clamp01((drowsy.EAR - *s.EAR) / (0.6 * drowsy.EAR))
	}
	if s.MAR != nil {
		sc.MAR = clamp01((*s.MAR - drowsy.MAR) / (0.8 * drowsy.MAR))
	}
	if s.Pitch != nil {
		sc.Pose = clamp01((math.Abs(*s.Pitch) - drowsy.Pitch) / drowsy.Pitch)
	}
	return sc
}

// Fuse is the weighted sum of the scores. Weights are used as given.
func Fuse(sc models.Scores, w settings.Weights) float64 {
	return w.EAR*sc.EAR + w.MAR*sc.MAR + w.Pose*sc.Pose
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
