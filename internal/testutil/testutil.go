// Package testutil provides shared test helpers and synthetic landmark
// fixtures.
//
// The neutral face is the generic head model seen frontally from 3 m by a
// 640x480 pinhole camera, so its head pose solves to roughly zero degrees.
package testutil

import (
	"testing"
	"time"

	"somnoalert/internal/landmarks"
)

// Frame size used by every fixture.
const (
	Width  = 640
	Height = 480
)

// Epoch is a fixed start time for clock-driven tests.
var Epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// At returns Epoch plus s seconds.
func At(s float64) time.Time {
	return Epoch.Add(time.Duration(s * float64(time.Second)))
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func pt(x, y float64) landmarks.Point {
	return landmarks.Point{X: x, Y: y}
}

// openEye builds an eye 30px wide with 10px vertical gaps. dir is -1 for
// the eye on the image left, +1 for the image right.
func openEye(dir float64) landmarks.Eye {
	cx := 320 + dir*30.965
	const y = 205.30
	return landmarks.Eye{
		Outer:     pt(cx+dir*15, y),
		Inner:     pt(cx-dir*15, y),
		Upper:     [2]landmarks.Point{pt(cx+dir*5, y-5), pt(cx-dir*5, y-5)},
		Lower:     [2]landmarks.Point{pt(cx+dir*5, y+5), pt(cx-dir*5, y+5)},
		LidTop:    pt(cx, y-6),
		LidBottom: pt(cx, y+6),
		Iris:      pt(cx, y),
	}
}

// NeutralFrame returns an open-eyed, closed-mouthed, upright face with no
// hands in view.
func NeutralFrame() *landmarks.Frame {
	eyes := landmarks.Eyes{Left: openEye(-1), Right: openEye(1)}
	mouth := landmarks.Mouth{
		Left:       pt(289.28, 270.72),
		Right:      pt(350.72, 270.72),
		Upper:      [3]landmarks.Point{pt(305, 268), pt(320, 268), pt(335, 268)},
		Lower:      [3]landmarks.Point{pt(305, 273), pt(320, 273), pt(335, 273)},
		LipTop:     pt(320, 267.7),
		LipBottom:  pt(320, 273.7),
		ChinTop:    pt(320, 290),
		ChinBottom: pt(320, 305),
	}
	head := landmarks.Head{
		NoseTip:    pt(320, 240),
		Chin:       pt(320, 308.91),
		Forehead:   pt(320, 215),
		CheekLeft:  pt(270, 250),
		CheekRight: pt(370, 250),
	}
	return &landmarks.Frame{
		Width:  Width,
		Height: Height,
		Eyes:   &eyes,
		Mouth:  &mouth,
		Head:   &head,
	}
}

// ClosedEyes narrows both eyelid gaps to 2px.
func ClosedEyes(f *landmarks.Frame) *landmarks.Frame {
	eyes := *f.Eyes
	for _, e := range []*landmarks.Eye{&eyes.Left, &eyes.Right} {
		y := e.Iris.Y
		for i := range e.Upper {
			e.Upper[i].Y, e.Lower[i].Y = y-1, y+1
		}
		e.LidTop.Y, e.LidBottom.Y = y-1, y+1
	}
	f.Eyes = &eyes
	return f
}

// OpenMouth drops the lower lip 50px, past the chin gap.
func OpenMouth(f *landmarks.Frame) *landmarks.Frame {
	m := *f.Mouth
	for i := range m.Lower {
		m.Lower[i].Y = m.Upper[i].Y + 50
	}
	m.LipBottom.Y = m.LipTop.Y + 50
	f.Mouth = &m
	return f
}

// HeadDown raises the forehead point so the nose-to-mouth distance falls
// under the nose-to-forehead distance.
func HeadDown(f *landmarks.Frame) *landmarks.Frame {
	h := *f.Head
	h.Forehead.Y = h.NoseTip.Y - 60
	f.Head = &h
	return f
}

// HandOnEye places a fingertip 5px from the iris of the given side
// ("left" or "right").
func HandOnEye(f *landmarks.Frame, side string) *landmarks.Frame {
	iris := f.Eyes.Left.Iris
	if side == "right" {
		iris = f.Eyes.Right.Iris
	}
	f.Hands = append(f.Hands, landmarks.Hand{Tips: []landmarks.Point{
		pt(iris.X+3, iris.Y+4),
		pt(iris.X+60, iris.Y+80),
	}})
	return f
}

// NoFace returns a frame with no regions at all.
func NoFace() *landmarks.Frame {
	return &landmarks.Frame{Width: Width, Height: Height}
}
