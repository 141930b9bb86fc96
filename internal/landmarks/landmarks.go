// Package landmarks defines the per-frame landmark contract produced by the
// external face/hand extractor and consumed by the signal pipeline.
//
// Every region is optional. A nil region means the extractor returned no
// information for it on that frame, which callers must not confuse with an
// inactive signal.
package landmarks

import "math"

// Point is a 2-D pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Scale multiplies both coordinates by k.
func (p Point) Scale(k float64) Point {
	return Point{X: p.X * k, Y: p.Y * k}
}

// Eye holds one eye's contour points.
// Upper[i] and Lower[i] are vertical pairs, ordered outer to inner.
type Eye struct {
	Outer     Point    `json:"outer"`
	Inner     Point    `json:"inner"`
	Upper     [2]Point `json:"upper"`
	Lower     [2]Point `json:"lower"`
	LidTop    Point    `json:"lid_top"`
	LidBottom Point    `json:"lid_bottom"`
	Iris      Point    `json:"iris"`
}

// Eyes groups both eyes, labelled as the extractor labels them.
type Eyes struct {
	Left  Eye `json:"left"`
	Right Eye `json:"right"`
}

// Mouth holds lip, corner and chin points.
// Upper[i] and Lower[i] are the inner-lip vertical pairs, left to right.
type Mouth struct {
	Left       Point    `json:"left"`
	Right      Point    `json:"right"`
	Upper      [3]Point `json:"upper"`
	Lower      [3]Point `json:"lower"`
	LipTop     Point    `json:"lip_top"`
	LipBottom  Point    `json:"lip_bottom"`
	ChinTop    Point    `json:"chin_top"`
	ChinBottom Point    `json:"chin_bottom"`
}

// Head holds the reference points used by the pose and head-down tests.
type Head struct {
	NoseTip    Point `json:"nose_tip"`
	Chin       Point `json:"chin"`
	Forehead   Point `json:"forehead"`
	CheekLeft  Point `json:"cheek_left"`
	CheekRight Point `json:"cheek_right"`
}

// Hand carries the fingertip coordinates of one tracked hand.
type Hand struct {
	Tips []Point `json:"tips"`
}

// Frame is the landmark set for one captured video frame.
type Frame struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Eyes   *Eyes  `json:"eyes,omitempty"`
	Mouth  *Mouth `json:"mouth,omitempty"`
	Head   *Head  `json:"head,omitempty"`
	Hands  []Hand `json:"hands,omitempty"`
}

// HasFace reports whether any face region is present.
func (f *Frame) HasFace() bool {
	return f != nil && (f.Eyes != nil || f.Mouth != nil || f.Head != nil)
}

// HasHands reports whether at least one hand with fingertips is present.
func (f *Frame) HasHands() bool {
	if f == nil {
		return false
	}
	for _, h := range f.Hands {
		if len(h.Tips) > 0 {
			return true
		}
	}
	return false
}

// Scaled returns a copy of f with every coordinate and the frame size
// multiplied by k.
func (f *Frame) Scaled(k float64) *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{
		Width:  int(math.Round(float64(f.Width) * k)),
		Height: int(math.Round(float64(f.Height) * k)),
	}
	if f.Eyes != nil {
		eyes := Eyes{Left: f.Eyes.Left.scaled(k), Right: f.Eyes.Right.scaled(k)}
		out.Eyes = &eyes
	}
	if f.Mouth != nil {
		m := *f.Mouth
		m.Left, m.Right = m.Left.Scale(k), m.Right.Scale(k)
		for i := range m.Upper {
			m.Upper[i], m.Lower[i] = m.Upper[i].Scale(k), m.Lower[i].Scale(k)
		}
		m.LipTop, m.LipBottom = m.LipTop.Scale(k), m.LipBottom.Scale(k)
		m.ChinTop, m.ChinBottom = m.ChinTop.Scale(k), m.ChinBottom.Scale(k)
		out.Mouth = &m
	}
	if f.Head != nil {
		h := Head{
			NoseTip:    f.Head.NoseTip.Scale(k),
			Chin:       f.Head.Chin.Scale(k),
			Forehead:   f.Head.Forehead.Scale(k),
			CheekLeft:  f.Head.CheekLeft.Scale(k),
			CheekRight: f.Head.CheekRight.Scale(k),
		}
		out.Head = &h
	}
	for _, hand := range f.Hands {
		tips := make([]Point, len(hand.Tips))
		for i, t := range hand.Tips {
			tips[i] = t.Scale(k)
		}
		out.Hands = append(out.Hands, Hand{Tips: tips})
	}
	return out
}

func (e Eye) scaled(k float64) Eye {
	out := e
	out.Outer, out.Inner = e.Outer.Scale(k), e.Inner.Scale(k)
	for i := range e.Upper {
		out.Upper[i], out.Lower[i] = e.Upper[i].Scale(k), e.Lower[i].Scale(k)
	}
	out.LidTop, out.LidBottom = e.LidTop.Scale(k), e.LidBottom.Scale(k)
	out.Iris = e.Iris.Scale(k)
	return out
}
