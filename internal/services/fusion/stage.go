// Package fusion combines the per-frame signals into normalized scores, a
// fused risk score and a severity stage.
package fusion

import (
	"fmt"
	"math"

	"somnoalert/internal/services/settings"
)

// Stage is the severity classification of one frame.
type Stage string

const (
	StageNormal Stage = "normal"
	StageSigns  Stage = "signs"
	StageDrowsy Stage = "drowsy"
)

// TierRule pairs a non-normal stage with its thresholds.
type TierRule struct {
	Stage Stage
	Tier  settings.Tier
}

// Rules returns the non-normal tiers in ascending severity, the order
// ResolveStage expects.
func Rules(t settings.Thresholds) []TierRule {
	return []TierRule{
		{Stage: StageSigns, Tier: t.Signs},
		{Stage: StageDrowsy, Tier: t.Drowsy},
	}
}

// Inputs are the per-frame values a tier is tested against. Nil signals
// never activate a tier.
type Inputs struct {
	EAR          *float64
	MAR          *float64
	Pitch        *float64
	Fused        float64
	ClosedFrames int
}

// ResolveStage tests each tier in order and lets every active tier
// overwrite the stage, so with ascending rules the last active (most
// severe) tier wins. It returns StageNormal with no reasons when nothing is
// active. Reasons from every active tier are kept, in order.
func ResolveStage(rules []TierRule, in Inputs) (Stage, []string) {
	stage := StageNormal
	reasons := []string{}
	for _, r := range rules {
		hit := tierReasons(r, in)
		if len(hit) == 0 {
			continue
		}
		stage = r.Stage
		reasons = append(reasons, hit...)
	}
	return stage, reasons
}

func tierReasons(r TierRule, in Inputs) []string {
	var out []string
	t := r.Tier
	if in.EAR != nil && *in.EAR <= t.EAR {
		out = append(out, fmt.Sprintf("%s: ear %.3f <= %.3f", r.Stage, *in.EAR, t.EAR))
	}
	if in.MAR != nil && *in.MAR >= t.MAR {
		out = append(out, fmt.Sprintf("%s: mar %.3f >= %.3f", r.Stage, *in.MAR, t.MAR))
	}
	if in.Pitch != nil && math.Abs(*in.Pitch) >= t.Pitch {
		out = append(out, fmt.Sprintf("%s: |pitch| %.1f >= %.1f", r.Stage, math.Abs(*in.Pitch), t.Pitch))
	}
	if in.Fused >= t.Fusion {
		out = append(out, fmt.Sprintf("%s: fused %.3f >= %.3f", r.Stage, in.Fused, t.Fusion))
	}
	if in.ClosedFrames >= t.ConsecFrames {
		out = append(out, fmt.Sprintf("%s: closed frames %d >= %d", r.Stage, in.ClosedFrames, t.ConsecFrames))
	}
	return out
}

// CheckMonotonic lists every place where a more severe tier is less extreme
// than the tier below it. ResolveStage assumes there are none.
func CheckMonotonic(t settings.Thresholds) []string {
	var out []string
	tiers := []struct {
		name string
		tier settings.Tier
	}{
		{"normal", t.Normal},
		{"signs", t.Signs},
		{"drowsy", t.Drowsy},
	}
	for i := 1; i < len(tiers); i++ {
		lo, hi := tiers[i-1], tiers[i]
		if hi.tier.EAR > lo.tier.EAR {
			out = append(out, fmt.Sprintf("%s.ear %.3f is above %s.ear %.3f", hi.name, hi.tier.EAR, lo.name, lo.tier.EAR))
		}
		if hi.tier.MAR < lo.tier.MAR {
			out = append(out, fmt.Sprintf("%s.mar %.3f is below %s.mar %.3f", hi.name, hi.tier.MAR, lo.name, lo.tier.MAR))
		}
		if hi.tier.Pitch < lo.tier.Pitch {
			out = append(out, fmt.Sprintf("%s.pitch %.1f is below %s.pitch %.1f", hi.name, hi.tier.Pitch, lo.name, lo.tier.Pitch))
		}
		if hi.tier.Fusion < lo.tier.Fusion {
			out = append(out, fmt.Sprintf("%s.fusion %.3f is below %s.fusion %.3f", hi.name, hi.tier.Fusion, lo.name, lo.tier.Fusion))
		}
		if hi.tier.ConsecFrames < lo.tier.ConsecFrames {
			out = append(out, fmt.Sprintf("%s.consecFrames %d is below %s.consecFrames %d", hi.name, hi.tier.ConsecFrames, lo.name, lo.tier.ConsecFrames))
		}
	}
	return out
}
