package models

import "time"

// VideoFrame is one captured, oriented and JPEG-encoded camera frame.
type VideoFrame struct {
	Data       []byte
	Width      int
	Height     int
	Sequence   int64
	CapturedAt time.Time
}
