// Package settings is the live configuration store: tier thresholds, fusion
// weights and camera parameters shared by the processing loop and the HTTP
// handlers.
package settings

import (
	"errors"
	"fmt"
	"math"
)

// Orientation values accepted for Camera.Orientation.
const (
	OrientationNone      = "none"
	OrientationMirror    = "mirror"
	OrientationFlip      = "flip"
	OrientationRotate180 = "rotate180"
)

// Tier is one severity preset.
type Tier struct {
	EAR          float64 `json:"ear" yaml:"ear"`
	MAR          float64 `json:"mar" yaml:"mar"`
	Pitch        float64 `json:"pitch" yaml:"pitch"`
	Fusion       float64 `json:"fusion" yaml:"fusion"`
	ConsecFrames int     `json:"consecFrames" yaml:"consecFrames"`
}

// Thresholds holds the three presets, least severe first.
type Thresholds struct {
	Normal Tier `json:"normal" yaml:"normal"`
	Signs  Tier `json:"signs" yaml:"signs"`
	Drowsy Tier `json:"drowsy" yaml:"drowsy"`
}

// TierNames lists the presets in ascending severity.
var TierNames = []string{"normal", "signs", "drowsy"}

func (t *Thresholds) byName(name string) *Tier {
	switch name {
	case "normal":
		return &t.Normal
	case "signs":
		return &t.Signs
	case "drowsy":
		return &t.Drowsy
	}
	return nil
}

// Weights scale each normalized score in the fused score. They are not
// normalized.
type Weights struct {
	EAR  float64 `json:"w_ear" yaml:"w_ear"`
	MAR  float64 `json:"w_mar" yaml:"w_mar"`
	Pose float64 `json:"w_pose" yaml:"w_pose"`
}

// Camera is the requested capture configuration.
type Camera struct {
	Index       int     `json:"index" yaml:"index"`
	Width       int     `json:"width" yaml:"width"`
	Height      int     `json:"height" yaml:"height"`
	FPS         float64 `json:"fps" yaml:"fps"`
	Codec       string  `json:"codec" yaml:"codec"`
	Orientation string  `json:"orientation" yaml:"orientation"`
}

// SameDevice reports whether both settings open the same device mode.
// Orientation is applied to frames after capture and is ignored.
func (c Camera) SameDevice(o Camera) bool {
	return c.Index == o.Index && c.Width == o.Width && c.Height == o.Height &&
		c.FPS == o.FPS && c.Codec == o.Codec
}

// Configuration is one immutable snapshot of every tunable value.
type Configuration struct {
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds"`
	Weights    Weights    `json:"weights" yaml:"weights"`
	Camera     Camera     `json:"camera" yaml:"camera"`
}

// Defaults returns the built-in presets.
func Defaults() Configuration {
	return Configuration{
		Thresholds: Thresholds{
			Normal: Tier{EAR: 0.25, MAR: 0.45, Pitch: 10, Fusion: 0.3, ConsecFrames: 10},
			Signs:  Tier{EAR: 0.22, MAR: 0.55, Pitch: 15, Fusion: 0.5, ConsecFrames: 25},
			Drowsy: Tier{EAR: 0.20, MAR: 0.65, Pitch: 20, Fusion: 0.7, ConsecFrames: 50},
		},
		Weights: Weights{EAR: 0.5, MAR: 0.3, Pose: 0.2},
		Camera: Camera{
			Index:       0,
			Width:       640,
			Height:      480,
			FPS:         30,
			Codec:       "MJPG",
			Orientation: OrientationNone,
		},
	}
}

// Validate checks every field and joins all problems into one error.
func (c Configuration) Validate() error {
	var errs []error
	for _, name := range TierNames {
		tier := *c.Thresholds.byName(name)
		prefix := "thresholds." + name + "."
		errs = appendErr(errs, prefix+"ear", checkEAR(tier.EAR))
		errs = appendErr(errs, prefix+"mar", checkMAR(tier.MAR))
		errs = appendErr(errs, prefix+"pitch", checkPitch(tier.Pitch))
		errs = appendErr(errs, prefix+"fusion", checkFusion(tier.Fusion))
		errs = appendErr(errs, prefix+"consecFrames", checkConsec(tier.ConsecFrames))
	}
	errs = appendErr(errs, "weights.w_ear", checkWeight(c.Weights.EAR))
	errs = appendErr(errs, "weights.w_mar", checkWeight(c.Weights.MAR))
	errs = appendErr(errs, "weights.w_pose", checkWeight(c.Weights.Pose))
	errs = appendErr(errs, "camera.index", checkIndex(c.Camera.Index))
	errs = appendErr(errs, "camera.width", checkDimension(c.Camera.Width))
	errs = appendErr(errs, "camera.height", checkDimension(c.Camera.Height))
	errs = appendErr(errs, "camera.fps", checkFPS(c.Camera.FPS))
	errs = appendErr(errs, "camera.codec", checkCodec(c.Camera.Codec))
	errs = appendErr(errs, "camera.orientation", checkOrientation(c.Camera.Orientation))
	return errors.Join(errs...)
}

func appendErr(errs []error, field string, err error) []error {
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", field, err))
	}
	return errs
}

func finite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.New("must be finite")
	}
	return nil
}

func inRange(v, lo, hi float64) error {
	if err := finite(v); err != nil {
		return err
	}
	if v <= lo || v > hi {
		return fmt.Errorf("must be in (%g, %g]", lo, hi)
	}
	return nil
}

func checkEAR(v float64) error    { return inRange(v, 0, 1) }
func checkMAR(v float64) error    { return inRange(v, 0, 5) }
func checkPitch(v float64) error  { return inRange(v, 0, 90) }
func checkFusion(v float64) error { return inRange(v, 0, 1) }
func checkFPS(v float64) error    { return inRange(v, 0, 240) }

func checkWeight(v float64) error {
	if err := finite(v); err != nil {
		return err
	}
	if v < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func checkConsec(v int) error {
	if v < 1 {
		return errors.New("must be at least 1")
	}
	return nil
}

func checkIndex(v int) error {
	if v < 0 || v > 63 {
		return errors.New("must be in [0, 63]")
	}
	return nil
}

func checkDimension(v int) error {
	if v < 16 || v > 7680 {
		return errors.New("must be in [16, 7680]")
	}
	return nil
}

func checkCodec(v string) error {
	if len(v) != 4 {
		return errors.New("must be a four-character code")
	}
	return nil
}

func checkOrientation(v string) error {
	switch v {
	case OrientationNone, OrientationMirror, OrientationFlip, OrientationRotate180:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s, %s",
		OrientationNone, OrientationMirror, OrientationFlip, OrientationRotate180)
}
