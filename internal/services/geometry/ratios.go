// Package geometry turns landmark coordinates into scalar signals: eye and
// mouth aspect ratios, head pose angles and the boolean predicates the event
// detectors run on.
package geometry

import (
	"math"

	"somnoalert/internal/landmarks"
)

// Epsilon keeps the ratios finite when a width collapses to zero.
const Epsilon = 1e-6

// EyeAspectRatio is the mean of the two vertical eyelid gaps over the eye width.
func EyeAspectRatio(e landmarks.Eye) float64 {
	v := (e.Upper[0].Dist(e.Lower[0]) + e.Upper[1].Dist(e.Lower[1])) / 2
	return v / (e.Outer.Dist(e.Inner) + Epsilon)
}

// EAR averages the left and right eye aspect ratios.
func EAR(eyes landmarks.Eyes) float64 {
	return (EyeAspectRatio(eyes.Left) + EyeAspectRatio(eyes.Right)) / 2
}

// MAR is the mean of the three inner-lip gaps over the mouth width.
func MAR(m landmarks.Mouth) float64 {
	var v float64
	for i := range m.Upper {
		v += m.Upper[i].Dist(m.Lower[i])
	}
	v /= float64(len(m.Upper))
	return v / (m.Left.Dist(m.Right) + Epsilon)
}

// EyelidGap is the pixel distance between the top and bottom eyelid.
func EyelidGap(e landmarks.Eye) float64 {
	return e.LidTop.Dist(e.LidBottom)
}

// BothEyesClosed reports whether both eyelid gaps are under px pixels.
func BothEyesClosed(eyes landmarks.Eyes, px float64) bool {
	return EyelidGap(eyes.Left) < px && EyelidGap(eyes.Right) < px
}

// MouthOpen reports whether the inner lip gap exceeds the chin gap.
func MouthOpen(m landmarks.Mouth) bool {
	return m.LipTop.Dist(m.LipBottom) > m.ChinTop.Dist(m.ChinBottom)
}

// MouthCenter is the midpoint of the inner lips.
func MouthCenter(m landmarks.Mouth) landmarks.Point {
	return landmarks.Point{
		X: (m.LipTop.X + m.LipBottom.X) / 2,
		Y: (m.LipTop.Y + m.LipBottom.Y) / 2,
	}
}

// PitchRatio is the nose-to-mouth distance over the nose-to-forehead
// distance. Values below the configured ratio mean the head is tilted down.
func PitchRatio(h landmarks.Head, m landmarks.Mouth) float64 {
	return h.NoseTip.Dist(MouthCenter(m)) / (h.NoseTip.Dist(h.Forehead) + Epsilon)
}

// NoseBetweenCheeks reports whether the nose tip lies horizontally between
// the cheeks, in either labelling order.
func NoseBetweenCheeks(h landmarks.Head) bool {
	lo := math.Min(h.CheekLeft.X, h.CheekRight.X)
	hi := math.Max(h.CheekLeft.X, h.CheekRight.X)
	return h.NoseTip.X > lo && h.NoseTip.X < hi
}

// HeadDown is the head-down test: nose between the cheeks and the pitch
// ratio under ratio.
func HeadDown(h landmarks.Head, m landmarks.Mouth, ratio float64) bool {
	return NoseBetweenCheeks(h) && PitchRatio(h, m) < ratio
}

// MinTipDistance returns the smallest distance from p to any fingertip, or
// +Inf when there are none.
func MinTipDistance(p landmarks.Point, hands []landmarks.Hand) float64 {
	best := math.Inf(1)
	for _, h := range hands {
		for _, tip := range h.Tips {
			if d := p.Dist(tip); d < best {
				best = d
			}
		}
	}
	return best
}
