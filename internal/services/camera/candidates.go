package camera

import "fmt"

// Candidates is the ordered search space. Earlier entries are tried first.
type Candidates struct {
	Indices     []int
	Codecs      []string
	Resolutions []Resolution
	FPS         []float64
}

// NewCandidates builds a search space from configuration lists.
// Resolutions are "WIDTHxHEIGHT" strings.
func NewCandidates(indices []int, codecs, resolutions []string, fps []float64) (Candidates, error) {
	c := Candidates{
		Indices: append([]int(nil), indices...),
		Codecs:  append([]string(nil), codecs...),
		FPS:     append([]float64(nil), fps...),
	}
	for _, s := range resolutions {
		r, err := ParseResolution(s)
		if err != nil {
			return Candidates{}, err
		}
		c.Resolutions = append(c.Resolutions, r)
	}
	return c, nil
}

// Size is the number of combinations in the space.
func (c Candidates) Size() int {
	c = c.withDefaults()
	return len(c.Indices) * len(c.Codecs) * len(c.Resolutions) * len(c.FPS)
}

// withDefaults fills empty dimensions with a single "driver default" value.
func (c Candidates) withDefaults() Candidates {
	if len(c.Indices) == 0 {
		c.Indices = []int{0}
	}
	if len(c.Codecs) == 0 {
		c.Codecs = []string{""}
	}
	if len(c.Resolutions) == 0 {
		c.Resolutions = []Resolution{{}}
	}
	if len(c.FPS) == 0 {
		c.FPS = []float64{0}
	}
	return c
}

// Request is a wanted configuration to try before the rest of the space.
type Request struct {
	Index  int
	Codec  string
	Width  int
	Height int
	FPS    float64
}

// RequestFrom converts a negotiated configuration into a preference.
func RequestFrom(a Active) Request {
	return Request{Index: a.Index, Codec: a.Codec, Width: a.Width, Height: a.Height, FPS: a.FPS}
}

// Prefer returns a copy with r's values moved (or inserted) to the front of
// every list. Zero or empty request fields leave their list unchanged.
func (c Candidates) Prefer(r Request) Candidates {
	out := Candidates{
		Indices:     moveFront(c.Indices, r.Index, true),
		Codecs:      moveFront(c.Codecs, r.Codec, r.Codec != ""),
		Resolutions: moveFront(c.Resolutions, Resolution{Width: r.Width, Height: r.Height}, r.Width > 0 && r.Height > 0),
		FPS:         moveFront(c.FPS, r.FPS, r.FPS > 0),
	}
	return out
}

func moveFront[T comparable](list []T, v T, use bool) []T {
	out := make([]T, 0, len(list)+1)
	if use {
		out = append(out, v)
	}
	for _, x := range list {
		if use && x == v {
			continue
		}
		out = append(out, x)
	}
	return out
}

func (c Candidates) String() string {
	return fmt.Sprintf("indices=%v codecs=%v resolutions=%v fps=%v", c.Indices, c.Codecs, c.Resolutions, c.FPS)
}
