// Package capture reads frames from a local camera through OpenCV.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"somnoalert/internal/logger"
	"somnoalert/internal/models"
	"somnoalert/internal/services/camera"
	"somnoalert/internal/services/settings"

	"gocv.io/x/gocv"
)

// device is a camera.Device backed by a gocv VideoCapture.
type device struct {
	vc    *gocv.VideoCapture
	frame gocv.Mat
}

func openDevice(index int) (camera.Device, error) {
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video device %d did not open", index)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return &device{vc: vc, frame: gocv.NewMat()}, nil
}

// Configure requests the codec, size and rate. An empty codec or zero
// value leaves the driver default in place.
func (d *device) Configure(codec string, res camera.Resolution, fps float64) error {
	if codec != "" {
		if len(codec) != 4 {
			return fmt.Errorf("codec %q is not a fourcc", codec)
		}
		d.vc.Set(gocv.VideoCaptureFOURCC, d.vc.ToCodec(strings.ToUpper(codec)))
	}
	if res.Width > 0 && res.Height > 0 {
		d.vc.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
		d.vc.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	}
	if fps > 0 {
		d.vc.Set(gocv.VideoCaptureFPS, fps)
	}
	return nil
}

func (d *device) Probe() (camera.Resolution, bool) {
	if !d.vc.Read(&d.frame) || d.frame.Empty() {
		return camera.Resolution{}, false
	}
	return camera.Resolution{Width: d.frame.Cols(), Height: d.frame.Rows()}, true
}

func (d *device) FPS() float64 {
	return d.vc.Get(gocv.VideoCaptureFPS)
}

func (d *device) Close() error {
	d.frame.Close()
	return d.vc.Close()
}

// Source owns the negotiated device and turns its frames into oriented JPEG
// VideoFrames. It is used from the processing loop only.
type Source struct {
	negotiator  *camera.Negotiator
	logger      *logger.Logger
	maxFailures int
	quality     int

	dev         *device
	active      camera.Active
	orientation string
	rotated     gocv.Mat
	failures    int
	sequence    int64
}

// NewSource creates a source that negotiates local video devices. After
// maxFailures consecutive failed reads Read reports camera.ErrDeviceLost.
func NewSource(maxFailures int, log *logger.Logger) *Source {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Source{
		negotiator:  camera.NewNegotiator(camera.OpenerFunc(openDevice), log),
		logger:      log,
		maxFailures: maxFailures,
		quality:     85,
		orientation: settings.OrientationNone,
		rotated:     gocv.NewMat(),
	}
}

// Open releases any current device and negotiates a new one.
func (s *Source) Open(ctx context.Context, c camera.Candidates) (camera.Active, error) {
	s.release()
	active, dev, err := s.negotiator.Negotiate(ctx, c)
	if err != nil {
		return camera.Active{}, err
	}
	s.dev = dev.(*device)
	s.active = active
	s.failures = 0
	return active, nil
}

// SetOrientation selects the transform applied to every frame.
func (s *Source) SetOrientation(o string) {
	s.orientation = o
}

// Read grabs one frame. Single failures return camera.ErrReadFailed; once
// the failure streak reaches the limit the device is released and
// camera.ErrDeviceLost is returned.
func (s *Source) Read() (models.VideoFrame, error) {
	if s.dev == nil {
		return models.VideoFrame{}, camera.ErrDeviceLost
	}
	if !s.dev.vc.Read(&s.dev.frame) || s.dev.frame.Empty() {
		s.failures++
		if s.failures >= s.maxFailures {
			s.logger.Warning("Camera %d: %d consecutive read failures, releasing", s.active.Index, s.failures)
			s.release()
			return models.VideoFrame{}, camera.ErrDeviceLost
		}
		return models.VideoFrame{}, camera.ErrReadFailed
	}
	s.failures = 0

	img, err := s.orient(s.dev.frame)
	if err != nil {
		return models.VideoFrame{}, err
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, s.quality})
	if err != nil {
		return models.VideoFrame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	s.sequence++
	return models.VideoFrame{
		Data:       data,
		Width:      img.Cols(),
		Height:     img.Rows(),
		Sequence:   s.sequence,
		CapturedAt: time.Now(),
	}, nil
}

func (s *Source) orient(src gocv.Mat) (gocv.Mat, error) {
	var err error
	switch s.orientation {
	case settings.OrientationMirror:
		err = gocv.Flip(src, &s.rotated, 1)
	case settings.OrientationFlip:
		err = gocv.Flip(src, &s.rotated, 0)
	case settings.OrientationRotate180:
		err = gocv.Rotate(src, &s.rotated, gocv.Rotate180Clockwise)
	default:
		return src, nil
	}
	if err != nil {
		return src, fmt.Errorf("orient frame: %w", err)
	}
	return s.rotated, nil
}

func (s *Source) release() {
	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
}

// Close releases the device.
func (s *Source) Close() error {
	s.release()
	s.rotated.Close()
	return nil
}
